// Package sipauth implements the client side of SIP digest authentication.
package sipauth

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/icholy/digest"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Challenge is a parsed WWW-Authenticate or Proxy-Authenticate value.
type Challenge struct {
	Realm     string
	Nonce     string
	Algorithm string
	Opaque    string
	QOP       []string
}

// ParseChallenge parses a Digest challenge. Realm and nonce are required.
func ParseChallenge(header string) (*Challenge, error) {
	chal, err := digest.ParseChallenge(strings.TrimSpace(header))
	if err != nil {
		return nil, errors.Wrapf(err, "parsing challenge %q", header)
	}
	if chal.Realm == "" || chal.Nonce == "" {
		return nil, errors.Errorf("challenge %q lacks realm or nonce", header)
	}
	return &Challenge{
		Realm:     chal.Realm,
		Nonce:     chal.Nonce,
		Algorithm: chal.Algorithm,
		Opaque:    chal.Opaque,
		QOP:       chal.QOP,
	}, nil
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HA1 is MD5(username:realm:password).
func HA1(username, realm, password string) string {
	return md5Hex(username + ":" + realm + ":" + password)
}

// HA2 is MD5(method:uri).
func HA2(method, uri string) string {
	return md5Hex(method + ":" + uri)
}

// CalculateDigestResponse returns MD5(HA1:nonce:HA2) as lowercase hex.
func CalculateDigestResponse(username, password, realm, nonce, method, uri string) string {
	return md5Hex(HA1(username, realm, password) + ":" + nonce + ":" + HA2(method, uri))
}

// Authorize builds the Authorization (or Proxy-Authorization) header value
// answering chal for a request with the given method and request URI.
//
// Challenges offering qop=auth are answered with a cnonce and nc=00000001.
// Without qop the plain RFC 2069 response is used.
func Authorize(chal *Challenge, method, uri, username, password string) (string, error) {
	if chal == nil {
		return "", errors.New("nil challenge")
	}
	if lo.Contains(chal.QOP, "auth") {
		return authorizeQOP(chal, method, uri, username, password)
	}
	if chal.Algorithm != "" && !strings.EqualFold(chal.Algorithm, "MD5") {
		return "", errors.Errorf("unsupported digest algorithm %q", chal.Algorithm)
	}

	response := CalculateDigestResponse(username, password, chal.Realm, chal.Nonce, method, uri)
	var b strings.Builder
	fmt.Fprintf(&b, `Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s", algorithm=MD5`,
		username, chal.Realm, chal.Nonce, uri, response)
	if chal.Opaque != "" {
		fmt.Fprintf(&b, `, opaque="%s"`, chal.Opaque)
	}
	return b.String(), nil
}

func authorizeQOP(chal *Challenge, method, uri, username, password string) (string, error) {
	cred, err := digest.Digest(&digest.Challenge{
		Realm:     chal.Realm,
		Nonce:     chal.Nonce,
		Opaque:    chal.Opaque,
		Algorithm: chal.Algorithm,
		QOP:       []string{"auth"},
	}, digest.Options{
		Method:   method,
		URI:      uri,
		Username: username,
		Password: password,
		Count:    1,
		Cnonce:   strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
	})
	if err != nil {
		return "", errors.Wrap(err, "computing qop digest")
	}
	return cred.String(), nil
}
