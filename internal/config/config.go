// Package config provides configuration types for querygate.
//
// Configuration is read from querygate.yaml and QUERYGATE_* environment
// variables. The permission policy itself lives in a separate file named by
// policy.file so it can be reloaded without a restart.
package config

import "github.com/spf13/viper"

// Config is the top-level configuration.
type Config struct {
	// Server configures the HTTP API listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Database configures the target database.
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Policy locates the permission policy file.
	Policy PolicyConfig `yaml:"policy" mapstructure:"policy"`

	// Query bounds result sizes and execution time.
	Query QueryConfig `yaml:"query" mapstructure:"query"`

	// Audit configures where decision records are written.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Auth configures identities and the API keys that map to them.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Identity is the fixed identity for the MCP server, and for HTTP
	// requests without an API key in dev mode.
	Identity StaticIdentity `yaml:"identity" mapstructure:"identity"`

	// Telemetry configures tracing.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// DevMode enables debug logging and the static identity fallback.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on. Defaults to "127.0.0.1:8080".
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// AllowedOrigins lists browser origins allowed to call the API.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`

	// TLSCert and TLSKey enable HTTPS when both are set.
	TLSCert string `yaml:"tls_cert" mapstructure:"tls_cert" validate:"required_with=TLSKey"`
	TLSKey  string `yaml:"tls_key" mapstructure:"tls_key" validate:"required_with=TLSCert"`

	// ReadTimeout and WriteTimeout bound each HTTP request (e.g., "30s").
	ReadTimeout  string `yaml:"read_timeout" mapstructure:"read_timeout" validate:"omitempty,duration"`
	WriteTimeout string `yaml:"write_timeout" mapstructure:"write_timeout" validate:"omitempty,duration"`

	// RateLimit throttles requests per identity.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-identity GCRA rate limiting.
type RateLimitConfig struct {
	// Enabled turns rate limiting on or off. Defaults to true.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Rate is the number of requests allowed per Period. Defaults to 600.
	Rate int `yaml:"rate" mapstructure:"rate" validate:"omitempty,min=1"`

	// Burst is how many requests may arrive at once. Defaults to Rate/10.
	Burst int `yaml:"burst" mapstructure:"burst" validate:"omitempty,min=1"`

	// Period is the window Rate applies to. Defaults to "1m".
	Period string `yaml:"period" mapstructure:"period" validate:"omitempty,duration"`

	// CleanupInterval is how often idle limiter entries are evicted. Defaults to "5m".
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval" validate:"omitempty,duration"`

	// MaxTTL is the maximum age of an idle limiter entry. Defaults to "1h".
	MaxTTL string `yaml:"max_ttl" mapstructure:"max_ttl" validate:"omitempty,duration"`
}

// DatabaseConfig configures the target database.
type DatabaseConfig struct {
	// Driver is "postgres" (pgx pool) or "sqlite". Defaults to "postgres".
	Driver string `yaml:"driver" mapstructure:"driver" validate:"required,db_driver"`

	// DSN is the connection string or SQLite file path.
	DSN string `yaml:"dsn" mapstructure:"dsn" validate:"required"`

	// MaxConns caps the connection pool. Defaults to 10.
	MaxConns int `yaml:"max_conns" mapstructure:"max_conns" validate:"omitempty,min=1"`

	// TenantSetting, when set, is a PostgreSQL setting (e.g., "app.tenant_id")
	// assigned the caller's tenant id for each statement. Postgres only.
	TenantSetting string `yaml:"tenant_setting" mapstructure:"tenant_setting"`
}

// PolicyConfig locates the policy file.
type PolicyConfig struct {
	// File is the policy YAML path. Defaults to "policy.yaml".
	File string `yaml:"file" mapstructure:"file" validate:"required"`

	// Watch reloads the policy when the file changes. Defaults to true.
	// SIGHUP always triggers a reload.
	Watch bool `yaml:"watch" mapstructure:"watch"`

	// Debounce coalesces bursts of file events. Defaults to "250ms".
	Debounce string `yaml:"debounce" mapstructure:"debounce" validate:"omitempty,duration"`
}

// QueryConfig bounds result sizes and execution time.
type QueryConfig struct {
	// DefaultLimit applies when a request names no limit. Defaults to 100.
	DefaultLimit int `yaml:"default_limit" mapstructure:"default_limit" validate:"omitempty,min=1"`

	// MaxLimit clamps requested limits. Defaults to 1000.
	MaxLimit int `yaml:"max_limit" mapstructure:"max_limit" validate:"omitempty,min=1,gtefield=DefaultLimit"`

	// MaxRows is the hard row cap applied to every statement. Defaults to 10000.
	MaxRows int `yaml:"max_rows" mapstructure:"max_rows" validate:"omitempty,min=1,gtefield=MaxLimit"`

	// Timeout bounds each statement execution. Defaults to "30s".
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`
}

// AuditConfig configures decision record output.
type AuditConfig struct {
	// Output specifies where decision records are written:
	//   "stdout"                 JSON lines on stdout
	//   "memory"                 in-memory ring only
	//   "file:///abs/audit.log"  JSON lines appended to one file
	//   "dir:///abs/audit"       daily rotating files with retention
	//   "sqlite:///abs/audit.db" SQLite database
	// Every output keeps the recent records queryable.
	Output string `yaml:"output" mapstructure:"output" validate:"required,audit_output"`

	// ChannelSize is the buffer size for the audit channel. Defaults to 1000.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`

	// BatchSize is the number of records to batch before writing. Defaults to 100.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`

	// FlushInterval is how often to flush pending records. Defaults to "1s".
	FlushInterval string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty,duration"`

	// SendTimeout is how long to block when the channel is full.
	// "0" or empty drops immediately. Defaults to "0".
	SendTimeout string `yaml:"send_timeout" mapstructure:"send_timeout" validate:"omitempty,duration"`

	// WarningThreshold is the channel fill percentage (0-100) that logs a
	// warning. Defaults to 80.
	WarningThreshold int `yaml:"warning_threshold" mapstructure:"warning_threshold" validate:"omitempty,min=0,max=100"`

	// BufferSize is the number of recent records kept in memory. Defaults to 1000.
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size" validate:"omitempty,min=1"`

	// RetentionDays applies to dir:// output. Defaults to 7.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days" validate:"omitempty,min=1"`

	// MaxFileSizeMB rotates dir:// files past this size. Defaults to 100.
	MaxFileSizeMB int `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb" validate:"omitempty,min=1"`
}

// AuthConfig configures file-based authentication.
type AuthConfig struct {
	// Identities defines the known callers.
	Identities []IdentityConfig `yaml:"identities" mapstructure:"identities" validate:"omitempty,dive"`

	// APIKeys maps hashed keys to identities.
	APIKeys []APIKeyConfig `yaml:"api_keys" mapstructure:"api_keys" validate:"omitempty,dive"`
}

// IdentityConfig defines a caller.
type IdentityConfig struct {
	// ID is the unique identifier for this identity.
	ID string `yaml:"id" mapstructure:"id" validate:"required"`

	// Name is the human-readable name.
	Name string `yaml:"name" mapstructure:"name"`

	// Role is the policy role. Empty means the policy's default role.
	Role string `yaml:"role" mapstructure:"role"`

	// UserID and TenantID feed row filters.
	UserID   *int64 `yaml:"user_id" mapstructure:"user_id"`
	TenantID *int64 `yaml:"tenant_id" mapstructure:"tenant_id"`
}

// APIKeyConfig defines an API key that authenticates as an identity.
type APIKeyConfig struct {
	// KeyHash is "sha256:<hex>", bare SHA-256 hex, or an Argon2id PHC string.
	// Generate with: querygate hash-key <key>
	KeyHash string `yaml:"key_hash" mapstructure:"key_hash" validate:"required,key_hash"`

	// IdentityID references an entry in Auth.Identities.
	IdentityID string `yaml:"identity_id" mapstructure:"identity_id" validate:"required"`

	// Name is a human-readable label.
	Name string `yaml:"name" mapstructure:"name"`
}

// StaticIdentity is the identity used without an API key.
type StaticIdentity struct {
	Role     string `yaml:"role" mapstructure:"role"`
	UserID   *int64 `yaml:"user_id" mapstructure:"user_id"`
	TenantID *int64 `yaml:"tenant_id" mapstructure:"tenant_id"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	// TraceStdout exports spans as JSON on stderr.
	TraceStdout bool `yaml:"trace_stdout" mapstructure:"trace_stdout"`

	// ServiceName is the service.name resource attribute. Defaults to "querygate".
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`
}

// SetDevDefaults applies permissive defaults for development mode.
// These defaults are applied BEFORE validation so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	c.Server.LogLevel = "debug"
	// Without a configured database, dev mode uses a local SQLite file.
	if c.Database.DSN == "" {
		c.Database.Driver = "sqlite"
		c.Database.DSN = "querygate-dev.db"
	}
	if c.Audit.Output == "" {
		c.Audit.Output = "stdout"
	}
}

// SetDefaults applies default values for optional fields.
func (c *Config) SetDefaults() {
	// Bind to localhost only unless configured otherwise.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.ReadTimeout == "" {
		c.Server.ReadTimeout = "30s"
	}
	if c.Server.WriteTimeout == "" {
		c.Server.WriteTimeout = "60s"
	}

	// Rate limiting is on unless explicitly disabled.
	// viper.IsSet distinguishes "not set" (zero value) from "explicitly false".
	if !viper.IsSet("server.rate_limit.enabled") {
		c.Server.RateLimit.Enabled = true
	}
	if c.Server.RateLimit.Rate == 0 {
		c.Server.RateLimit.Rate = 600
	}
	if c.Server.RateLimit.Burst == 0 {
		c.Server.RateLimit.Burst = max(1, c.Server.RateLimit.Rate/10)
	}
	if c.Server.RateLimit.Period == "" {
		c.Server.RateLimit.Period = "1m"
	}
	if c.Server.RateLimit.CleanupInterval == "" {
		c.Server.RateLimit.CleanupInterval = "5m"
	}
	if c.Server.RateLimit.MaxTTL == "" {
		c.Server.RateLimit.MaxTTL = "1h"
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = 10
	}

	if c.Policy.File == "" {
		c.Policy.File = "policy.yaml"
	}
	if !viper.IsSet("policy.watch") {
		c.Policy.Watch = true
	}
	if c.Policy.Debounce == "" {
		c.Policy.Debounce = "250ms"
	}

	if c.Query.DefaultLimit == 0 {
		c.Query.DefaultLimit = 100
	}
	if c.Query.MaxLimit == 0 {
		c.Query.MaxLimit = max(1000, c.Query.DefaultLimit)
	}
	if c.Query.MaxRows == 0 {
		c.Query.MaxRows = max(10000, c.Query.MaxLimit)
	}
	if c.Query.Timeout == "" {
		c.Query.Timeout = "30s"
	}

	if c.Audit.Output == "" {
		c.Audit.Output = "stdout"
	}
	if c.Audit.ChannelSize == 0 {
		c.Audit.ChannelSize = 1000
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.FlushInterval == "" {
		c.Audit.FlushInterval = "1s"
	}
	if c.Audit.SendTimeout == "" {
		c.Audit.SendTimeout = "0s"
	}
	if c.Audit.WarningThreshold == 0 {
		c.Audit.WarningThreshold = 80
	}
	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = 1000
	}
	if c.Audit.RetentionDays == 0 {
		c.Audit.RetentionDays = 7
	}
	if c.Audit.MaxFileSizeMB == 0 {
		c.Audit.MaxFileSizeMB = 100
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "querygate"
	}
}
