package sipmess

import (
	"fmt"
	"strings"
)

type SIPContact struct {
	DisplayName string
	Uri         SIPUri
	Params      Params
	Wildcard    bool
}

func ParseSipContact(contact string) (SIPContact, error) {
	if strings.TrimSpace(contact) == "*" {
		return SIPContact{Wildcard: true}, nil
	}

	display, uri, params, err := splitNameAddr(contact)
	if err != nil {
		return SIPContact{}, fmt.Errorf("parsing contact header %q: %w", contact, err)
	}
	sipUri, err := ParseSipUri(uri)
	if err != nil {
		return SIPContact{}, fmt.Errorf("parsing SIP URI in contact header %q: %w", contact, err)
	}
	return SIPContact{DisplayName: display, Uri: sipUri, Params: parseParams(params)}, nil
}

func (contact SIPContact) String() string {
	if contact.Wildcard {
		return "*"
	}
	return SIPFromTo{DisplayName: contact.DisplayName, Uri: contact.Uri, Params: contact.Params}.String()
}
