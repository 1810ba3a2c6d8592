// Package config loads the user agent configuration from TOML.
package config

import (
	"bytes"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Config struct {
	SIP     SIP     `toml:"sip"`
	Log     Log     `toml:"log"`
	Metrics Metrics `toml:"metrics"`
}

type SIP struct {
	Server   string `toml:"server"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	// Domain is the registration domain. Defaults to Server.
	Domain string `toml:"domain"`
	// LocalIP is advertised in Via, Contact and SDP. Detected when empty.
	LocalIP   string `toml:"local_ip"`
	LocalPort int    `toml:"local_port"`
	// RTPPort of 0 picks an ephemeral port.
	RTPPort        int           `toml:"rtp_port"`
	UserAgent      string        `toml:"user_agent"`
	Expires        int           `toml:"expires"`
	T1             time.Duration `toml:"t1"`
	T2             time.Duration `toml:"t2"`
	ReceiveTimeout time.Duration `toml:"rtp_receive_timeout"`
}

type Log struct {
	Level      string `toml:"level"`
	Console    bool   `toml:"console"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

type Metrics struct {
	// Addr serves /metrics and /debug/statsviz when set.
	Addr string `toml:"addr"`
}

func Default() Config {
	return Config{
		SIP: SIP{
			Port:           5060,
			UserAgent:      "sipua/1.0",
			Expires:        3600,
			T1:             500 * time.Millisecond,
			T2:             4 * time.Second,
			ReceiveTimeout: 5 * time.Second,
		},
		Log: Log{
			Level:      "info",
			Console:    true,
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

// Load reads path over the defaults. Unknown keys are logged, not fatal.
func Load(path string) (Config, error) {
	c := Default()
	md, err := toml.DecodeFile(path, &c)
	if err != nil {
		return c, errors.Wrapf(err, "decoding config %s", path)
	}
	for _, key := range md.Undecoded() {
		log.Warn().Str("key", key.String()).Str("file", path).Msg("Unknown config key")
	}
	return c, nil
}

// Normalize fills derived defaults.
func (c *Config) Normalize() {
	if c.SIP.Port == 0 {
		c.SIP.Port = 5060
	}
	if c.SIP.Domain == "" {
		c.SIP.Domain = c.SIP.Server
	}
	if c.SIP.Expires <= 0 {
		c.SIP.Expires = 3600
	}
	if c.SIP.UserAgent == "" {
		c.SIP.UserAgent = "sipua/1.0"
	}
	if c.SIP.T1 <= 0 {
		c.SIP.T1 = 500 * time.Millisecond
	}
	if c.SIP.T2 < c.SIP.T1 {
		c.SIP.T2 = 8 * c.SIP.T1
	}
	if c.SIP.ReceiveTimeout <= 0 {
		c.SIP.ReceiveTimeout = 5 * time.Second
	}
}

func (c *Config) Validate() error {
	var missing []string
	if c.SIP.Server == "" {
		missing = append(missing, "server")
	}
	if c.SIP.Username == "" {
		missing = append(missing, "username")
	}
	if c.SIP.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return errors.Errorf("missing required sip settings: %s", strings.Join(missing, ", "))
	}
	for name, port := range map[string]int{"port": c.SIP.Port, "local_port": c.SIP.LocalPort, "rtp_port": c.SIP.RTPPort} {
		if port < 0 || port > 65535 {
			return errors.Errorf("sip %s %d out of range", name, port)
		}
	}
	return nil
}

// String renders the configuration as TOML with the password masked.
func (c *Config) String() string {
	masked := *c
	if masked.SIP.Password != "" {
		masked.SIP.Password = "****"
	}
	b := &bytes.Buffer{}
	if err := toml.NewEncoder(b).Encode(masked); err != nil {
		return ""
	}
	return b.String()
}
