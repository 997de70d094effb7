package config

import (
	"fmt"
	"os"
	"strings"
)

// Secret environment variables. Each may instead name a file through the
// same variable with a _FILE suffix.
const (
	EnvMQTTPassword     = "SIMPLUI_MQTT_PASSWORD"
	EnvPostgresPassword = "PGPASSWORD"
)

// ResolveSecret returns the secret held by envName. name_FILE wins over
// name; the file content is trimmed. Neither set yields "".
func ResolveSecret(envName string) (string, error) {
	fileEnv := envName + "_FILE"
	if path := os.Getenv(fileEnv); path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			// The path is safe to report, the content never is.
			return "", fmt.Errorf("read secret %s=%s: %w", fileEnv, path, err)
		}
		return strings.TrimSpace(string(content)), nil
	}
	return os.Getenv(envName), nil
}

// PostgresPassword resolves the Postgres password so that a PGPASSWORD_FILE
// mount also works for the libpq environment.
func PostgresPassword() (string, error) {
	return ResolveSecret(EnvPostgresPassword)
}
