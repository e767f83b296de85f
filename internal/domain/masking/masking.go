// Package masking redacts sensitive column values according to role-based
// strategies. It is pure: rows are copied, never modified in place.
package masking

import (
	"fmt"
	"strings"

	"github.com/Sentinel-Gate/querygate/internal/domain/policy"
)

// Redacted replaces hidden values.
const Redacted = "[REDACTED]"

const stars = "***"

// Mask returns copies of rows with every sensitive column of table masked
// for role. Non-sensitive columns and nil values are returned unchanged.
func Mask(rows []map[string]any, role string, table *policy.TableSchema, rules policy.MaskingRules) []map[string]any {
	if len(rows) == 0 {
		return rows
	}
	var sensitive []policy.ColumnSpec
	for _, c := range table.Columns {
		if c.Sensitive {
			sensitive = append(sensitive, c)
		}
	}
	if len(sensitive) == 0 {
		return copyRows(rows)
	}
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		masked := copyRow(row)
		for _, c := range sensitive {
			if v, ok := masked[c.Name]; ok {
				masked[c.Name] = Value(rules.Strategy(table.Name, c.Name, role), c, v)
			}
		}
		out[i] = masked
	}
	return out
}

// MaskRaw masks rows of a raw query whose source table is unknown. Any
// result column whose name matches a sensitive column anywhere in the
// snapshot is masked using the column-level rule.
func MaskRaw(rows []map[string]any, role string, snap *policy.Snapshot) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		masked := copyRow(row)
		for name, v := range masked {
			if spec, ok := snap.SensitiveColumn(name); ok {
				masked[name] = Value(snap.Masking.Strategy("", name, role), spec, v)
			}
		}
		out[i] = masked
	}
	return out
}

// Value applies one strategy to one value.
func Value(strategy policy.MaskStrategy, col policy.ColumnSpec, v any) any {
	if v == nil {
		return nil
	}
	switch strategy {
	case policy.MaskFull:
		return v
	case policy.MaskPartial:
		return Partial(formatOf(col), toString(v))
	default:
		return Redacted
	}
}

// Partial renders a format-aware partial value.
func Partial(format, s string) string {
	switch format {
	case "email":
		return partialEmail(s)
	case "phone":
		return partialPhone(s)
	case "ssn":
		return partialSSN(s)
	case "credit_card":
		return partialCard(s)
	}
	return partialDefault(s)
}

// formatOf picks the partial format from the declared format, then the
// column name, then the declared type.
func formatOf(col policy.ColumnSpec) string {
	if col.Format != "" {
		return col.Format
	}
	name := strings.ToLower(col.Name)
	for _, f := range []string{"email", "phone", "ssn", "credit_card"} {
		if strings.Contains(name, f) {
			return f
		}
	}
	switch {
	case strings.Contains(name, "card"):
		return "credit_card"
	case strings.Contains(strings.ToLower(col.Type), "email"):
		return "email"
	}
	return ""
}

func partialEmail(s string) string {
	at := strings.LastIndexByte(s, '@')
	if at <= 0 {
		return partialDefault(s)
	}
	return s[:1] + stars + s[at:]
}

func partialPhone(s string) string {
	d := digits(s)
	if len(d) < 8 {
		return stars
	}
	return d[:4] + stars + d[len(d)-4:]
}

func partialSSN(s string) string {
	d := digits(s)
	if len(d) < 4 {
		return "***-**-****"
	}
	return "***-**-" + d[len(d)-4:]
}

func partialCard(s string) string {
	d := digits(s)
	if len(d) < 8 {
		return stars
	}
	return d[:4] + "********" + d[len(d)-4:]
}

// partialDefault replaces the middle 60% of s.
func partialDefault(s string) string {
	r := []rune(s)
	if len(r) < 3 {
		return stars
	}
	keep := len(r) / 5
	if keep == 0 {
		keep = 1
	}
	return string(r[:keep]) + stars + string(r[len(r)-keep:])
}

func digits(s string) string {
	var b strings.Builder
	for _, c := range s {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	return b.String()
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	}
	return fmt.Sprint(v)
}

func copyRow(row map[string]any) map[string]any {
	c := make(map[string]any, len(row))
	for k, v := range row {
		c[k] = v
	}
	return c
}

func copyRows(rows []map[string]any) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		out[i] = copyRow(r)
	}
	return out
}
