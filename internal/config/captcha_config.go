package config

import "time"

type CaptchaConfig interface {
	GetCaptchaURL() string
	GetCaptchaKey() string
	GetCaptchaPollInterval() time.Duration
	GetCaptchaTimeout() time.Duration
}

type Captcha struct{}

var _ CaptchaConfig = Captcha{}

func (Captcha) GetCaptchaURL() string {
	return GetEnv("CAPTCHA_URL", "https://api.anti-captcha.com")
}

func (Captcha) GetCaptchaKey() string {
	return GetEnv("CAPTCHA_KEY", "")
}

func (Captcha) GetCaptchaPollInterval() time.Duration {
	return GetEnvDuration("CAPTCHA_POLL_INTERVAL", 5*time.Second)
}

func (Captcha) GetCaptchaTimeout() time.Duration {
	return GetEnvDuration("CAPTCHA_TIMEOUT", 120*time.Second)
}
