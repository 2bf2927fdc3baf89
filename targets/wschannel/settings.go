package wschannel

import (
	"errors"
	"time"
)

type Settings struct {
	// URL is the ws:// or wss:// endpoint.
	URL              string        `yaml:"url"`
	Origin           string        `yaml:"origin"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	// ReadyTimeout bounds the wait for the server's ready frame after auth.
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
}

func (s Settings) withDefaults() Settings {
	if s.HandshakeTimeout <= 0 {
		s.HandshakeTimeout = 15 * time.Second
	}
	if s.ReadyTimeout <= 0 {
		s.ReadyTimeout = 15 * time.Second
	}
	return s
}

func (s Settings) validate() error {
	if s.URL == "" {
		return errors.New("url is required")
	}
	return nil
}
