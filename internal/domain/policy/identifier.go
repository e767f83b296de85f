package policy

import "fmt"

// IdentifierError reports a table or column name that is not declared.
type IdentifierError struct {
	Table  string
	Column string
}

func (e *IdentifierError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("unknown table %q", e.Table)
	}
	return fmt.Sprintf("unknown column %q on table %q", e.Column, e.Table)
}

// IsIdentifier reports whether s matches [A-Za-z_][A-Za-z0-9_]*.
func IsIdentifier(s string) bool {
	if s == "" || !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentPart(s[i]) {
			return false
		}
	}
	return true
}

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}

// ValidateIdentifiers checks that table and every column are declared.
// Matching is exact and case-sensitive; nothing is normalized.
func (s *Snapshot) ValidateIdentifiers(table string, columns ...string) error {
	schema, ok := s.tables[table]
	if !ok {
		return &IdentifierError{Table: table}
	}
	for _, c := range columns {
		if !schema.HasColumn(c) {
			return &IdentifierError{Table: table, Column: c}
		}
	}
	return nil
}
