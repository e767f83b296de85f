package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDefaults()

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"Server.HTTPAddr", cfg.Server.HTTPAddr, "127.0.0.1:8080"},
		{"Server.LogLevel", cfg.Server.LogLevel, "info"},
		{"Server.RateLimit.Enabled", cfg.Server.RateLimit.Enabled, true},
		{"Server.RateLimit.Rate", cfg.Server.RateLimit.Rate, 600},
		{"Server.RateLimit.Burst", cfg.Server.RateLimit.Burst, 60},
		{"Server.RateLimit.Period", cfg.Server.RateLimit.Period, "1m"},
		{"Database.Driver", cfg.Database.Driver, "postgres"},
		{"Database.MaxConns", cfg.Database.MaxConns, 10},
		{"Policy.File", cfg.Policy.File, "policy.yaml"},
		{"Policy.Watch", cfg.Policy.Watch, true},
		{"Policy.Debounce", cfg.Policy.Debounce, "250ms"},
		{"Query.DefaultLimit", cfg.Query.DefaultLimit, 100},
		{"Query.MaxLimit", cfg.Query.MaxLimit, 1000},
		{"Query.MaxRows", cfg.Query.MaxRows, 10000},
		{"Query.Timeout", cfg.Query.Timeout, "30s"},
		{"Audit.Output", cfg.Audit.Output, "stdout"},
		{"Audit.ChannelSize", cfg.Audit.ChannelSize, 1000},
		{"Audit.SendTimeout", cfg.Audit.SendTimeout, "0s"},
		{"Audit.RetentionDays", cfg.Audit.RetentionDays, 7},
		{"Telemetry.ServiceName", cfg.Telemetry.ServiceName, "querygate"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestConfig_SetDefaults_PreservesExistingValues(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Server:   ServerConfig{HTTPAddr: ":9090", RateLimit: RateLimitConfig{Rate: 50, Burst: 5}},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "app.db"},
		Query:    QueryConfig{DefaultLimit: 20, MaxLimit: 200},
		Audit:    AuditConfig{Output: "file:///var/log/querygate.log"},
	}
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, ":9090")
	}
	if cfg.Server.RateLimit.Rate != 50 || cfg.Server.RateLimit.Burst != 5 {
		t.Errorf("RateLimit = %d/%d, want 50/5", cfg.Server.RateLimit.Rate, cfg.Server.RateLimit.Burst)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Query.DefaultLimit != 20 || cfg.Query.MaxLimit != 200 {
		t.Errorf("Query limits = %d/%d, want 20/200", cfg.Query.DefaultLimit, cfg.Query.MaxLimit)
	}
	if cfg.Audit.Output != "file:///var/log/querygate.log" {
		t.Errorf("Audit.Output = %q", cfg.Audit.Output)
	}
}

func TestConfig_SetDefaults_LimitsStayOrdered(t *testing.T) {
	t.Parallel()

	// A large default limit lifts the derived max limit and row cap.
	cfg := Config{Query: QueryConfig{DefaultLimit: 5000}}
	cfg.SetDefaults()

	if cfg.Query.MaxLimit != 5000 {
		t.Errorf("MaxLimit = %d, want 5000", cfg.Query.MaxLimit)
	}
	if cfg.Query.MaxRows != 10000 {
		t.Errorf("MaxRows = %d, want 10000", cfg.Query.MaxRows)
	}

	cfg2 := Config{Query: QueryConfig{MaxLimit: 20000}}
	cfg2.SetDefaults()
	if cfg2.Query.MaxRows != 20000 {
		t.Errorf("MaxRows = %d, want 20000", cfg2.Query.MaxRows)
	}
}

func TestConfig_SetDevDefaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		cfg        Config
		wantDriver string
		wantDSN    string
		wantLevel  string
	}{
		{
			name:       "not dev mode",
			cfg:        Config{Server: ServerConfig{LogLevel: "info"}, Database: DatabaseConfig{Driver: "postgres"}},
			wantDriver: "postgres",
			wantDSN:    "",
			wantLevel:  "info",
		},
		{
			name:       "dev mode without database",
			cfg:        Config{DevMode: true, Database: DatabaseConfig{Driver: "postgres"}},
			wantDriver: "sqlite",
			wantDSN:    "querygate-dev.db",
			wantLevel:  "debug",
		},
		{
			name:       "dev mode keeps configured database",
			cfg:        Config{DevMode: true, Database: DatabaseConfig{Driver: "postgres", DSN: "postgres://localhost/app"}},
			wantDriver: "postgres",
			wantDSN:    "postgres://localhost/app",
			wantLevel:  "debug",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := tt.cfg
			cfg.SetDevDefaults()
			if cfg.Database.Driver != tt.wantDriver {
				t.Errorf("Driver = %q, want %q", cfg.Database.Driver, tt.wantDriver)
			}
			if cfg.Database.DSN != tt.wantDSN {
				t.Errorf("DSN = %q, want %q", cfg.Database.DSN, tt.wantDSN)
			}
			if cfg.Server.LogLevel != tt.wantLevel {
				t.Errorf("LogLevel = %q, want %q", cfg.Server.LogLevel, tt.wantLevel)
			}
		})
	}
}

func TestFindConfigFileInPaths_EmptyDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths(empty dir) = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_MatchesYAML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "querygate.yaml")
	_ = os.WriteFile(cfgPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_MatchesYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "querygate.yml")
	_ = os.WriteFile(cfgPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_IgnoresNoExtension(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	// Simulate the binary: a file named "querygate" with no extension
	_ = os.WriteFile(filepath.Join(dir, "querygate"), []byte("\x7fELF binary"), 0755)

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths matched binary = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_PrefersYAMLOverYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "querygate.yaml")
	ymlPath := filepath.Join(dir, "querygate.yml")
	_ = os.WriteFile(yamlPath, []byte("server:\n  http_addr: :8080\n"), 0644)
	_ = os.WriteFile(ymlPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != yamlPath {
		t.Errorf("findConfigFileInPaths = %q, want %q (.yaml preferred)", got, yamlPath)
	}
}
