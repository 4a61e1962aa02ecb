package cmd

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/calagent/internal/credentials"
)

// The helpers below apply an environment variable only when the flag was
// not set explicitly on the command line.

func envString(cmd *cobra.Command, flag, env string, target *string) {
	if cmd.Flags().Changed(flag) {
		return
	}
	if v := os.Getenv(env); v != "" {
		*target = v
	}
}

func envBool(cmd *cobra.Command, flag, env string, target *bool) {
	if cmd.Flags().Changed(flag) {
		return
	}
	v := os.Getenv(env)
	if v == "" {
		return
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("Ignoring invalid boolean environment variable", "name", env, "value", v)
		return
	}
	*target = parsed
}

func envInt(cmd *cobra.Command, flag, env string, target *int) {
	if cmd.Flags().Changed(flag) {
		return
	}
	v := os.Getenv(env)
	if v == "" {
		return
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Ignoring invalid integer environment variable", "name", env, "value", v)
		return
	}
	*target = parsed
}

func envFloat(cmd *cobra.Command, flag, env string, target *float64) {
	if cmd.Flags().Changed(flag) {
		return
	}
	v := os.Getenv(env)
	if v == "" {
		return
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("Ignoring invalid number environment variable", "name", env, "value", v)
		return
	}
	*target = parsed
}

func envDuration(cmd *cobra.Command, flag, env string, target *time.Duration) {
	if cmd.Flags().Changed(flag) {
		return
	}
	v := os.Getenv(env)
	if v == "" {
		return
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("Ignoring invalid duration environment variable", "name", env, "value", v)
		return
	}
	*target = parsed
}

// storageFlags configure the credential store for every command that
// touches stored credentials.
type storageFlags struct {
	storageType     string
	sqlitePath      string
	valkeyURL       string
	valkeyPassword  string
	valkeyTLS       bool
	valkeyKeyPrefix string
	valkeyDB        int
	encryptionKey   string
}

func (f *storageFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.storageType, "storage-type", string(credentials.StorageTypeMemory), "Credential storage type: memory, sqlite or valkey. Can also use CREDENTIAL_STORAGE_TYPE env var.")
	cmd.Flags().StringVar(&f.sqlitePath, "sqlite-path", "calagent.db", "SQLite database file for the sqlite storage type. Can also use SQLITE_PATH env var.")
	cmd.Flags().StringVar(&f.valkeyURL, "valkey-url", "", "Valkey server address (e.g., valkey.namespace.svc:6379). Can also use VALKEY_URL env var.")
	cmd.Flags().StringVar(&f.valkeyPassword, "valkey-password", "", "Valkey authentication password. Can also use VALKEY_PASSWORD env var.")
	cmd.Flags().BoolVar(&f.valkeyTLS, "valkey-tls", false, "Enable TLS for Valkey connections. Can also use VALKEY_TLS_ENABLED env var.")
	cmd.Flags().StringVar(&f.valkeyKeyPrefix, "valkey-key-prefix", "calagent:", "Prefix for all Valkey keys. Can also use VALKEY_KEY_PREFIX env var.")
	cmd.Flags().IntVar(&f.valkeyDB, "valkey-db", 0, "Valkey database number. Can also use VALKEY_DB env var.")
	cmd.Flags().StringVar(&f.encryptionKey, "encryption-key", "", "AES-256 key for credentials at rest (32 bytes, base64 encoded). Can also use CALAGENT_ENCRYPTION_KEY env var. Generate with: calagent credentials generate-key")
}

func (f *storageFlags) loadEnv(cmd *cobra.Command) {
	envString(cmd, "storage-type", "CREDENTIAL_STORAGE_TYPE", &f.storageType)
	envString(cmd, "sqlite-path", "SQLITE_PATH", &f.sqlitePath)
	envString(cmd, "valkey-url", "VALKEY_URL", &f.valkeyURL)
	envString(cmd, "valkey-password", "VALKEY_PASSWORD", &f.valkeyPassword)
	envBool(cmd, "valkey-tls", "VALKEY_TLS_ENABLED", &f.valkeyTLS)
	envString(cmd, "valkey-key-prefix", "VALKEY_KEY_PREFIX", &f.valkeyKeyPrefix)
	envInt(cmd, "valkey-db", "VALKEY_DB", &f.valkeyDB)
	envString(cmd, "encryption-key", "CALAGENT_ENCRYPTION_KEY", &f.encryptionKey)
}

func (f *storageFlags) config() credentials.Config {
	return credentials.Config{
		Type:       credentials.StorageType(strings.ToLower(f.storageType)),
		SQLitePath: f.sqlitePath,
		Valkey: credentials.ValkeyConfig{
			URL:        f.valkeyURL,
			Password:   f.valkeyPassword,
			TLSEnabled: f.valkeyTLS,
			KeyPrefix:  f.valkeyKeyPrefix,
			DB:         f.valkeyDB,
		},
	}
}

func (f *storageFlags) cipher() (*credentials.Cipher, error) {
	key, err := credentials.KeyFromBase64(f.encryptionKey)
	if err != nil {
		return nil, err
	}
	return credentials.NewCipher(key)
}

// parseCommaSeparatedList parses a comma-separated string into a slice,
// trimming whitespace from each element and filtering out empty strings.
// Returns nil if the input is empty or contains only whitespace/commas.
func parseCommaSeparatedList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
