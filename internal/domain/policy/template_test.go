package policy

import (
	"errors"
	"reflect"
	"testing"
)

func TestCompileTemplate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		src      string
		wantErr  bool
		wantCols []string
		wantVars []string
	}{
		{name: "simple equality", src: "user_id = {user_id}", wantCols: []string{"user_id"}, wantVars: []string{"user_id"}},
		{name: "quoted placeholder literal", src: "tenant_id = '{tenant_id}'", wantCols: []string{"tenant_id"}, wantVars: []string{"tenant_id"}},
		{name: "conjunction", src: "tenant_id = {tenant_id} AND status <> 'archived'", wantCols: []string{"tenant_id", "status"}, wantVars: []string{"tenant_id"}},
		{name: "quoted identifier", src: `"ownerId" = {user_id}`, wantCols: []string{"ownerId"}, wantVars: []string{"user_id"}},
		{name: "role placeholder", src: "visibility = {role} OR visibility = 'public'", wantCols: []string{"visibility"}, wantVars: []string{"role"}},
		{name: "unknown placeholder", src: "org_id = {org_id}", wantErr: true},
		{name: "placeholder inside literal", src: "name = 'user-{user_id}'", wantErr: true},
		{name: "statement separator", src: "user_id = {user_id}; DROP TABLE users", wantErr: true},
		{name: "line comment", src: "user_id = {user_id} -- bypass", wantErr: true},
		{name: "block comment", src: "user_id = {user_id} /* x */", wantErr: true},
		{name: "positional parameter", src: "user_id = $1", wantErr: true},
		{name: "unbalanced parens", src: "(user_id = {user_id}", wantErr: true},
		{name: "unterminated literal", src: "status = 'open", wantErr: true},
		{name: "empty", src: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tmpl, err := CompileTemplate(tt.src)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("CompileTemplate(%q) expected error", tt.src)
				}
				return
			}
			if err != nil {
				t.Fatalf("CompileTemplate(%q) error = %v", tt.src, err)
			}
			if got := tmpl.Columns(); !reflect.DeepEqual(got, tt.wantCols) {
				t.Errorf("Columns() = %v, want %v", got, tt.wantCols)
			}
			if got := tmpl.Vars(); !reflect.DeepEqual(got, tt.wantVars) {
				t.Errorf("Vars() = %v, want %v", got, tt.wantVars)
			}
		})
	}
}

func TestTemplate_Equalities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		src  string
		want map[string]string
	}{
		{"user_id = {user_id}", map[string]string{"user_id": "user_id"}},
		{"{tenant_id} = tenant_id AND user_id = {user_id}", map[string]string{"tenant_id": "tenant_id", "user_id": "user_id"}},
		{"user_id = {user_id} OR public = TRUE", map[string]string{}},
		{"(user_id = {user_id} OR x = 1) AND tenant_id = {tenant_id}", map[string]string{"tenant_id": "tenant_id"}},
		{"user_id >= {user_id}", map[string]string{}},
	}
	for _, tt := range tests {
		tmpl, err := CompileTemplate(tt.src)
		if err != nil {
			t.Fatalf("CompileTemplate(%q) error = %v", tt.src, err)
		}
		if got := tmpl.Equalities(); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Equalities(%q) = %v, want %v", tt.src, got, tt.want)
		}
	}
}

func TestTemplate_Bind(t *testing.T) {
	t.Parallel()

	tmpl, err := CompileTemplate("tenant_id = '{tenant_id}' AND owner = {user_id}")
	if err != nil {
		t.Fatal(err)
	}
	uid, tid := int64(7), int64(3)

	p, err := tmpl.Bind(Actor{Role: "writer", UserID: &uid, TenantID: &tid})
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	n := 0
	got := p.Render(func(v any) string {
		n++
		return "?"
	})
	if want := `"tenant_id" = ? AND "owner" = ?`; got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
	if n != 2 {
		t.Errorf("bind called %d times, want 2", n)
	}
	if args := p.Args(); !reflect.DeepEqual(args, []any{int64(3), int64(7)}) {
		t.Errorf("Args() = %v", args)
	}

	_, err = tmpl.Bind(Actor{Role: "writer", UserID: &uid})
	var missing *MissingVarError
	if !errors.As(err, &missing) || missing.Var != VarTenantID {
		t.Errorf("Bind() without tenant error = %v, want MissingVarError{tenant_id}", err)
	}
}

func TestTemplate_BindNeverInterpolates(t *testing.T) {
	t.Parallel()

	tmpl, err := CompileTemplate("visibility = {role}")
	if err != nil {
		t.Fatal(err)
	}
	p, err := tmpl.Bind(Actor{Role: "x' OR '1'='1"})
	if err != nil {
		t.Fatal(err)
	}
	text := p.Render(func(any) string { return "$1" })
	if text != `"visibility" = $1` {
		t.Errorf("Render() = %q", text)
	}
}

func TestOperationSet(t *testing.T) {
	t.Parallel()

	all := NewOperationSet(OpAll)
	for _, op := range []Operation{OpRead, OpInsert, OpUpdate, OpDelete, OpWrite} {
		if !all.Has(op) {
			t.Errorf("* should grant %s", op)
		}
	}
	if all.Has(OpAdmin) {
		t.Error("* must not grant admin")
	}

	w := NewOperationSet(OpWrite)
	if !w.Has(OpInsert) || !w.Has(OpUpdate) || w.Has(OpDelete) {
		t.Errorf("write set = %v", w.List())
	}
	if NewOperationSet(OpInsert).Has(OpWrite) {
		t.Error("insert alone must not satisfy write")
	}
}

func TestMaskingRules_Strategy(t *testing.T) {
	t.Parallel()

	rules := MaskingRules{
		"users.email": {"support": MaskFull},
		"email":       {"support": MaskPartial, "*": MaskHidden, "admin": MaskFull},
	}
	tests := []struct {
		table, column, role string
		want                MaskStrategy
	}{
		{"users", "email", "support", MaskFull},
		{"orders", "email", "support", MaskPartial},
		{"users", "email", "admin", MaskFull},
		{"users", "email", "reader", MaskHidden},
		{"users", "ssn", "admin", MaskHidden},
		{"", "email", "support", MaskPartial},
	}
	for _, tt := range tests {
		if got := rules.Strategy(tt.table, tt.column, tt.role); got != tt.want {
			t.Errorf("Strategy(%s, %s, %s) = %s, want %s", tt.table, tt.column, tt.role, got, tt.want)
		}
	}
}
