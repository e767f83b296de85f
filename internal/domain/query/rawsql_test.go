package query

import "testing"

func TestValidateRawSelect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		sql  string
		args int
		ok   bool
	}{
		{name: "plain select", sql: "SELECT id, name FROM users", ok: true},
		{name: "trailing semicolon", sql: "select count(*) from orders;", ok: true},
		{name: "params", sql: "SELECT * FROM orders WHERE user_id = $1 AND status = $2", args: 2, ok: true},
		{name: "positional params", sql: "SELECT * FROM orders WHERE user_id = ?", args: 1, ok: true},
		{name: "keyword inside literal", sql: "SELECT 'DROP TABLE users' AS note", ok: true},
		{name: "escaped quote", sql: "SELECT 'it''s' AS s", ok: true},
		{name: "join and subquery", sql: "SELECT u.id FROM users u WHERE u.id IN (SELECT user_id FROM orders)", ok: true},
		{name: "multiple statements", sql: "SELECT 1; DROP TABLE users;"},
		{name: "second select", sql: "SELECT 1; SELECT 2"},
		{name: "not a select", sql: "DELETE FROM users"},
		{name: "with clause", sql: "WITH x AS (SELECT 1) SELECT * FROM x"},
		{name: "line comment", sql: "SELECT 1 -- ; DROP TABLE users"},
		{name: "block comment", sql: "SELECT /* x */ 1"},
		{name: "dollar quoting", sql: "SELECT $$DROP$$"},
		{name: "select into", sql: "SELECT * INTO backup FROM users"},
		{name: "for update", sql: "SELECT * FROM users FOR UPDATE"},
		{name: "unterminated quote", sql: "SELECT 'abc"},
		{name: "backslash escape", sql: `SELECT E'\'' ; DROP TABLE users`},
		{name: "unbalanced parens", sql: "SELECT (1"},
		{name: "missing argument", sql: "SELECT * FROM users WHERE id = $2", args: 1},
		{name: "missing positional argument", sql: "SELECT * FROM users WHERE id = ? OR id = ?", args: 1},
		{name: "empty", sql: "  "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateRawSelect(tt.sql, tt.args)
			if tt.ok && err != nil {
				t.Errorf("ValidateRawSelect(%q) error = %v", tt.sql, err)
			}
			if !tt.ok && err == nil {
				t.Errorf("ValidateRawSelect(%q) accepted", tt.sql)
			}
		})
	}
}
