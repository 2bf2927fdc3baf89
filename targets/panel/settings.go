package panel

import (
	"errors"
	"net/url"
	"time"
)

// Settings describe one renewal panel. Paths are resolved against BaseURL.
type Settings struct {
	BaseURL   string `yaml:"base_url"`
	LoginPath string `yaml:"login_path"`
	ProbePath string `yaml:"probe_path"`
	// CommandPath may contain {name}, replaced by the command name.
	CommandPath string `yaml:"command_path"`
	LogoutPath  string `yaml:"logout_path"`

	UsernameField     string `yaml:"username_field"`
	PasswordField     string `yaml:"password_field"`
	CaptchaField      string `yaml:"captcha_field"`
	ImageCaptchaField string `yaml:"image_captcha_field"`

	// LoggedInMarker must appear on the page the login lands on, and on the
	// probe page, for the session to count as authenticated.
	LoggedInMarker string `yaml:"logged_in_marker"`
	// InvalidCredentialsMarker is the text the panel shows when it rejects the
	// username or password. Without it a returned login form is ambiguous.
	InvalidCredentialsMarker string `yaml:"invalid_credentials_marker"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
}

func (s Settings) withDefaults() Settings {
	if s.LoginPath == "" {
		s.LoginPath = "/login"
	}
	if s.ProbePath == "" {
		s.ProbePath = "/dashboard"
	}
	if s.CommandPath == "" {
		s.CommandPath = "/api/commands/{name}"
	}
	if s.UsernameField == "" {
		s.UsernameField = "username"
	}
	if s.PasswordField == "" {
		s.PasswordField = "password"
	}
	if s.CaptchaField == "" {
		s.CaptchaField = "g-recaptcha-response"
	}
	if s.ImageCaptchaField == "" {
		s.ImageCaptchaField = "captcha"
	}
	if s.RequestTimeout <= 0 {
		s.RequestTimeout = 30 * time.Second
	}
	return s
}

func (s Settings) validate() error {
	if s.BaseURL == "" {
		return errors.New("base_url is required")
	}
	u, err := url.Parse(s.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("base_url must be an absolute url")
	}
	if s.LoggedInMarker == "" {
		return errors.New("logged_in_marker is required")
	}
	return nil
}
