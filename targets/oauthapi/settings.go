package oauthapi

import (
	"errors"
	"time"
)

// Settings describe a token API that accepts the resource owner password grant.
type Settings struct {
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
	// AuthStyle is "header" or "params"; empty lets x/oauth2 detect it.
	AuthStyle string `yaml:"auth_style"`

	// Issuer enables ID token verification when the token response carries one.
	Issuer  string `yaml:"issuer"`
	JWKSURL string `yaml:"jwks_url"`

	APIBaseURL  string `yaml:"api_base_url"`
	ProbePath   string `yaml:"probe_path"`
	CommandPath string `yaml:"command_path"`
	RevokeURL   string `yaml:"revoke_url"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
}

func (s Settings) withDefaults() Settings {
	if s.ProbePath == "" {
		s.ProbePath = "/me"
	}
	if s.CommandPath == "" {
		s.CommandPath = "/commands/{name}"
	}
	if s.JWKSURL == "" && s.Issuer != "" {
		s.JWKSURL = s.Issuer + "/.well-known/jwks.json"
	}
	if s.RequestTimeout <= 0 {
		s.RequestTimeout = 30 * time.Second
	}
	return s
}

func (s Settings) validate() error {
	switch {
	case s.TokenURL == "":
		return errors.New("token_url is required")
	case s.ClientID == "":
		return errors.New("client_id is required")
	case s.APIBaseURL == "":
		return errors.New("api_base_url is required")
	}
	return nil
}
