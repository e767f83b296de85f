package policy

import (
	"fmt"
	"strings"
)

// ConfigError reports an invalid permission configuration. A failed load
// never replaces a running snapshot.
type ConfigError struct {
	Role  string
	Table string
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	var parts []string
	if e.Role != "" {
		parts = append(parts, fmt.Sprintf("role %q", e.Role))
	}
	if e.Table != "" {
		parts = append(parts, fmt.Sprintf("table %q", e.Table))
	}
	if e.Field != "" {
		parts = append(parts, e.Field)
	}
	if len(parts) == 0 {
		return "invalid policy: " + e.Msg
	}
	return "invalid policy: " + strings.Join(parts, ": ") + ": " + e.Msg
}
