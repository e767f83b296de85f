package policy

import "strings"

// MaskStrategy is how a sensitive value is shown to a role.
type MaskStrategy string

const (
	// MaskFull shows the value unchanged.
	MaskFull MaskStrategy = "full"
	// MaskPartial shows a format-aware partial value.
	MaskPartial MaskStrategy = "partial"
	// MaskHidden replaces the value with the redaction token.
	MaskHidden MaskStrategy = "hidden"
)

// ParseMaskStrategy validates a strategy name.
func ParseMaskStrategy(s string) (MaskStrategy, bool) {
	switch m := MaskStrategy(s); m {
	case MaskFull, MaskPartial, MaskHidden:
		return m, true
	}
	return "", false
}

// MaskingRules maps "column" or "table.column" to per-role strategies.
// The role key "*" applies to roles without their own entry.
type MaskingRules map[string]map[string]MaskStrategy

// DefaultMaskingRules is used when a configuration declares no masking section.
func DefaultMaskingRules() MaskingRules {
	rule := func() map[string]MaskStrategy {
		return map[string]MaskStrategy{
			"admin":   MaskFull,
			"support": MaskPartial,
			"*":       MaskHidden,
		}
	}
	return MaskingRules{
		"email":       rule(),
		"phone":       rule(),
		"ssn":         rule(),
		"credit_card": rule(),
	}
}

// Strategy resolves the strategy for a column. Lookup order is the
// table-qualified rule, then the column rule; within a rule the role, then
// "*". No matching rule means hidden.
func (m MaskingRules) Strategy(table, column, role string) MaskStrategy {
	keys := []string{column}
	if table != "" {
		keys = []string{table + "." + column, column}
	}
	for _, k := range keys {
		rule, ok := m[k]
		if !ok {
			continue
		}
		if s, ok := rule[role]; ok {
			return s
		}
		if s, ok := rule["*"]; ok {
			return s
		}
	}
	return MaskHidden
}

func splitMaskKey(key string) (table, column string) {
	if i := strings.IndexByte(key, '.'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return "", key
}
