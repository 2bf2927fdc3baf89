package config

type DirectoryConfig interface {
	GetTenantDirectoryURL() string
	GetTenantDirectoryToken() string
}

type Directory struct{}

var _ DirectoryConfig = Directory{}

func (Directory) GetTenantDirectoryURL() string {
	return GetEnv("TENANT_DIRECTORY_URL", "")
}

func (Directory) GetTenantDirectoryToken() string {
	return GetEnv("TENANT_DIRECTORY_TOKEN", "")
}

type OperatorConfig interface {
	GetOperatorTokenHash() string
	GetFailureLogSize() int
}

type Operator struct{}

var _ OperatorConfig = Operator{}

// GetOperatorTokenHash returns the bcrypt hash of the bearer token required by the
// operator API. Empty leaves the API open, which is only accepted in DEV.
func (Operator) GetOperatorTokenHash() string {
	return GetEnv("OPERATOR_TOKEN_HASH", "")
}

func (Operator) GetFailureLogSize() int {
	return GetEnvInt("FAILURE_LOG_SIZE", 100)
}
