package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for querygate.yaml/.yml in standard locations.
// The search requires an explicit YAML extension so the querygate binary itself
// never matches.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// Set name/type without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("querygate")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: QUERYGATE_DATABASE_DSN
	viper.SetEnvPrefix("QUERYGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for querygate.yaml or .yml.
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".querygate"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "querygate"))
		}
	} else {
		paths = append(paths, "/etc/querygate")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for querygate.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "querygate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// envKeys lists every scalar config key that can be overridden from the
// environment. Example: QUERYGATE_SERVER_HTTP_ADDR overrides server.http_addr.
// auth.identities and auth.api_keys are arrays and only come from the file.
var envKeys = []string{
	"server.http_addr",
	"server.log_level",
	"server.tls_cert",
	"server.tls_key",
	"server.read_timeout",
	"server.write_timeout",
	"server.rate_limit.enabled",
	"server.rate_limit.rate",
	"server.rate_limit.burst",
	"server.rate_limit.period",
	"server.rate_limit.cleanup_interval",
	"server.rate_limit.max_ttl",

	"database.driver",
	"database.dsn",
	"database.max_conns",
	"database.tenant_setting",

	"policy.file",
	"policy.watch",
	"policy.debounce",

	"query.default_limit",
	"query.max_limit",
	"query.max_rows",
	"query.timeout",

	"audit.output",
	"audit.channel_size",
	"audit.batch_size",
	"audit.flush_interval",
	"audit.send_timeout",
	"audit.warning_threshold",
	"audit.buffer_size",
	"audit.retention_days",
	"audit.max_file_size_mb",

	"identity.role",
	"identity.user_id",
	"identity.tenant_id",

	"telemetry.trace_stdout",
	"telemetry.service_name",

	"dev_mode",
}

// bindNestedEnvKeys binds nested config keys so Unmarshal sees env overrides
// even when the key is absent from the config file.
func bindNestedEnvKeys() {
	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and returns the validated Config.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
// Use this when CLI flags may override DevMode before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found: continue with env vars only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
