package masking

import (
	"reflect"
	"testing"

	"github.com/Sentinel-Gate/querygate/internal/domain/policy"
	"github.com/Sentinel-Gate/querygate/internal/domain/policy/policytest"
)

func TestMask_ByRole(t *testing.T) {
	t.Parallel()

	snap := policytest.Snapshot(t)
	users, _ := snap.Table("users")
	rows := []map[string]any{{"id": int64(1), "name": "Ada", "email": "ada@example.com", "phone": "+1 555 123 4567"}}

	tests := []struct {
		role string
		want map[string]any
	}{
		{"admin", map[string]any{"id": int64(1), "name": "Ada", "email": "ada@example.com", "phone": "+1 555 123 4567"}},
		{"support", map[string]any{"id": int64(1), "name": "Ada", "email": "a***@example.com", "phone": "1555***4567"}},
		{"reader", map[string]any{"id": int64(1), "name": "Ada", "email": Redacted, "phone": Redacted}},
		{"writer", map[string]any{"id": int64(1), "name": "Ada", "email": Redacted, "phone": Redacted}},
	}
	for _, tt := range tests {
		got := Mask(rows, tt.role, users, snap.Masking)
		if !reflect.DeepEqual(got[0], tt.want) {
			t.Errorf("Mask(%s) = %v, want %v", tt.role, got[0], tt.want)
		}
	}
	if rows[0]["email"] != "ada@example.com" {
		t.Error("Mask must not modify its input")
	}
}

func TestMask_NilStaysNil(t *testing.T) {
	t.Parallel()

	snap := policytest.Snapshot(t)
	users, _ := snap.Table("users")
	got := Mask([]map[string]any{{"email": nil}}, "reader", users, snap.Masking)
	if got[0]["email"] != nil {
		t.Errorf("nil email = %v", got[0]["email"])
	}
}

func TestMask_MissingRuleIsHidden(t *testing.T) {
	t.Parallel()

	snap := policytest.Snapshot(t)
	users, _ := snap.Table("users")
	got := Mask([]map[string]any{{"ssn": "123-45-6789"}}, "admin", users, policy.MaskingRules{})
	if got[0]["ssn"] != Redacted {
		t.Errorf("ssn without a rule = %v, want %s", got[0]["ssn"], Redacted)
	}
}

func TestMaskRaw(t *testing.T) {
	t.Parallel()

	snap := policytest.Snapshot(t)
	rows := []map[string]any{{"email": "ada@example.com", "total": 3}}
	if got := MaskRaw(rows, "admin", snap); got[0]["email"] != "ada@example.com" {
		t.Errorf("admin raw email = %v", got[0]["email"])
	}
	if got := MaskRaw(rows, "reader", snap); got[0]["email"] != Redacted || got[0]["total"] != 3 {
		t.Errorf("reader raw row = %v", got[0])
	}
}

func TestPartial(t *testing.T) {
	t.Parallel()

	tests := []struct {
		format, in, want string
	}{
		{"email", "alice@corp.io", "a***@corp.io"},
		{"email", "not-an-email", "no***il"},
		{"phone", "(555) 123-4567", "5551***4567"},
		{"phone", "12", "***"},
		{"ssn", "123-45-6789", "***-**-6789"},
		{"credit_card", "4111 1111 1111 1234", "4111********1234"},
		{"", "abcdefghij", "ab***ij"},
		{"", "ab", "***"},
	}
	for _, tt := range tests {
		if got := Partial(tt.format, tt.in); got != tt.want {
			t.Errorf("Partial(%q, %q) = %q, want %q", tt.format, tt.in, got, tt.want)
		}
	}
}

func TestFormatOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		col  policy.ColumnSpec
		want string
	}{
		{policy.ColumnSpec{Name: "contact", Format: "phone"}, "phone"},
		{policy.ColumnSpec{Name: "work_email"}, "email"},
		{policy.ColumnSpec{Name: "card_number"}, "credit_card"},
		{policy.ColumnSpec{Name: "contact", Type: "email_address"}, "email"},
		{policy.ColumnSpec{Name: "notes"}, ""},
	}
	for _, tt := range tests {
		if got := formatOf(tt.col); got != tt.want {
			t.Errorf("formatOf(%+v) = %q, want %q", tt.col, got, tt.want)
		}
	}
}
