package secrets

import "context"

// Credentials is the login used for the target SQL Server connection.
type Credentials struct {
	Username string
	Password string
}

// SecretManager resolves the target login when DB_PASSWORD is not set.
type SecretManager interface {
	// GetCredentials reads the login stored at path. usernameKey and
	// passwordKey name the fields of the secret (DB_USERNAME_KEY,
	// DB_PASSWORD_KEY). An empty username in the secret is allowed; the
	// caller falls back to DB_USER.
	GetCredentials(ctx context.Context, path string, usernameKey string, passwordKey string) (*Credentials, error)

	// IsEnabled reports whether the backend is configured for this run.
	IsEnabled() bool
}
