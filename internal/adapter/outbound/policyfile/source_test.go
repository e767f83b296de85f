package policyfile

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/Sentinel-Gate/querygate/internal/domain/policy"
	"github.com/Sentinel-Gate/querygate/internal/domain/policy/policytest"
)

func TestSource_ReadMatchesFixture(t *testing.T) {
	t.Parallel()

	src := NewSource(filepath.Join("testdata", "policy.yaml"))
	raw, fp, err := src.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if fp == 0 {
		t.Error("fingerprint is zero")
	}
	want := policytest.Raw()
	if !reflect.DeepEqual(raw.Roles, want.Roles) {
		t.Errorf("roles differ:\n got %+v\nwant %+v", raw.Roles, want.Roles)
	}
	if !reflect.DeepEqual(raw.Tables, want.Tables) {
		t.Errorf("tables differ:\n got %+v\nwant %+v", raw.Tables, want.Tables)
	}
	if _, err := policy.Load(raw); err != nil {
		t.Errorf("Load() error = %v", err)
	}

	_, fp2, _ := src.Read(context.Background())
	if fp2 != fp {
		t.Error("fingerprint changed for unchanged file")
	}
}

func TestSource_ParseErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty", "", "empty"},
		{"unknown key", "default_role: r\nroles: {r: {tables: [t], operations: [read]}}\ntables: {t: {columns: [{name: id}]}}\nsuperuser: true\n", "superuser"},
		{"unknown role key", "default_role: r\nroles: {r: {tables: [t], operations: [read], god_mode: true}}\ntables: {t: {columns: [{name: id}]}}\n", "god_mode"},
		{"missing default role", "roles: {r: {tables: [t]}}\ntables: {t: {columns: [{name: id}]}}\n", "DefaultRole is required"},
		{"no tables", "default_role: r\nroles: {r: {tables: [t]}}\n", "Tables is required"},
		{"bad format", "default_role: r\nroles: {r: {tables: [t]}}\ntables: {t: {columns: [{name: id, format: iban}]}}\n", "must be one of"},
		{"malformed", "roles: [", "decode policy"},
	}

	src := NewSource("unused")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := src.Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Parse() error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestSource_MissingFile(t *testing.T) {
	t.Parallel()

	_, _, err := NewSource(filepath.Join(t.TempDir(), "absent.yaml")).Read(context.Background())
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Read() error = %v, want not-exist", err)
	}
}
