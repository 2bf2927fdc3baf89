package config

type Config interface {
	EnvConfig
	KeeperConfig
	RecoveryConfig
	StoreConfig
	CaptchaConfig
	DirectoryConfig
	OperatorConfig
}

type mainConfig struct {
	EnvVars
	Keeper
	Recovery
	Store
	Captcha
	Directory
	Operator
}

func New() Config {
	return mainConfig{}
}
