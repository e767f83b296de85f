package policy

import (
	"fmt"
	"strings"
)

// templateKeywords are bare words a row filter may use that are not column
// references. Anything else that looks like an identifier must be a column.
var templateKeywords = map[string]struct{}{
	"AND": {}, "OR": {}, "NOT": {}, "NULL": {}, "IS": {}, "IN": {},
	"LIKE": {}, "ILIKE": {}, "BETWEEN": {}, "TRUE": {}, "FALSE": {},
	"LOWER": {}, "UPPER": {}, "COALESCE": {},
	"CURRENT_DATE": {}, "CURRENT_TIMESTAMP": {}, "NOW": {},
}

type tokenKind int

const (
	tokSpace tokenKind = iota
	tokWord
	tokColumn
	tokString
	tokNumber
	tokParam
	tokSymbol
)

type token struct {
	kind tokenKind
	text string
}

type fragment struct {
	text  string
	param string
}

// Template is a compiled row-filter predicate. Placeholders are context
// variables; they are always bound as parameters, never interpolated.
type Template struct {
	source     string
	fragments  []fragment
	columns    []string
	vars       []string
	equalities map[string]string
}

// MissingVarError reports a context variable the template needs but the
// actor does not carry.
type MissingVarError struct {
	Var string
}

func (e *MissingVarError) Error() string {
	return fmt.Sprintf("row filter needs context variable %q", e.Var)
}

// CompileTemplate tokenizes and checks a row-filter template. The template
// may not contain statement separators, comments, positional parameters, or
// placeholders embedded in string literals. A literal that is exactly
// '{var}' is treated as a placeholder.
func CompileTemplate(src string) (*Template, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}

	t := &Template{source: src}
	seenCol := make(map[string]bool)
	seenVar := make(map[string]bool)
	depth := 0
	meaningful := 0
	for _, tk := range toks {
		switch tk.kind {
		case tokSpace:
			t.fragments = append(t.fragments, fragment{text: tk.text})
			continue
		case tokParam:
			t.fragments = append(t.fragments, fragment{param: tk.text})
			if !seenVar[tk.text] {
				seenVar[tk.text] = true
				t.vars = append(t.vars, tk.text)
			}
		case tokColumn:
			t.fragments = append(t.fragments, fragment{text: quoteIdent(tk.text)})
			if !seenCol[tk.text] {
				seenCol[tk.text] = true
				t.columns = append(t.columns, tk.text)
			}
		case tokSymbol:
			switch tk.text {
			case "(":
				depth++
			case ")":
				depth--
				if depth < 0 {
					return nil, fmt.Errorf("unbalanced parentheses")
				}
			}
			t.fragments = append(t.fragments, fragment{text: tk.text})
		default:
			t.fragments = append(t.fragments, fragment{text: tk.text})
		}
		meaningful++
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced parentheses")
	}
	if meaningful == 0 {
		return nil, fmt.Errorf("empty row filter")
	}
	t.equalities = topLevelEqualities(toks)
	return t, nil
}

// Source returns the template text as written.
func (t *Template) Source() string { return t.source }

// Columns returns the column names the template references.
func (t *Template) Columns() []string { return append([]string(nil), t.columns...) }

// Vars returns the context variables the template references.
func (t *Template) Vars() []string { return append([]string(nil), t.vars...) }

// Equalities returns column to variable pairs for top-level conjuncts of the
// form col = {var}. A template with a top-level OR has none.
func (t *Template) Equalities() map[string]string {
	out := make(map[string]string, len(t.equalities))
	for k, v := range t.equalities {
		out[k] = v
	}
	return out
}

// CheckColumns verifies every referenced column exists on the table.
func (t *Template) CheckColumns(schema *TableSchema) error {
	for _, c := range t.columns {
		if !schema.HasColumn(c) {
			return &IdentifierError{Table: schema.Name, Column: c}
		}
	}
	return nil
}

// Bind resolves placeholders against the actor.
func (t *Template) Bind(a Actor) (*BoundPredicate, error) {
	p := &BoundPredicate{Source: t.source, parts: make([]boundFragment, 0, len(t.fragments))}
	for _, f := range t.fragments {
		if f.param == "" {
			p.parts = append(p.parts, boundFragment{text: f.text})
			continue
		}
		v, ok := a.Lookup(f.param)
		if !ok {
			return nil, &MissingVarError{Var: f.param}
		}
		p.parts = append(p.parts, boundFragment{param: true, value: v})
	}
	return p, nil
}

type boundFragment struct {
	text  string
	param bool
	value any
}

// BoundPredicate is a row filter with context values attached.
type BoundPredicate struct {
	// Source is the template the predicate was bound from.
	Source string
	parts  []boundFragment
}

// Render produces predicate text. bind is called once per parameter in
// textual order and returns the placeholder to emit.
func (p *BoundPredicate) Render(bind func(v any) string) string {
	var b strings.Builder
	for _, f := range p.parts {
		if f.param {
			b.WriteString(bind(f.value))
			continue
		}
		b.WriteString(f.text)
	}
	return b.String()
}

// Args returns bound values in textual order.
func (p *BoundPredicate) Args() []any {
	var out []any
	for _, f := range p.parts {
		if f.param {
			out = append(out, f.value)
		}
	}
	return out
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

func tokenize(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			j := i
			for j < len(src) && (src[j] == ' ' || src[j] == '\t' || src[j] == '\n' || src[j] == '\r') {
				j++
			}
			toks = append(toks, token{kind: tokSpace, text: " "})
			i = j
		case c == '\'':
			lit, n, err := scanString(src[i:])
			if err != nil {
				return nil, err
			}
			if name, ok := wholePlaceholder(lit); ok {
				if !IsContextVar(name) {
					return nil, fmt.Errorf("unknown placeholder {%s}", name)
				}
				toks = append(toks, token{kind: tokParam, text: name})
			} else {
				if strings.Contains(lit, "{") && strings.Contains(lit, "}") {
					return nil, fmt.Errorf("placeholder inside string literal %q", lit)
				}
				toks = append(toks, token{kind: tokString, text: src[i : i+n]})
			}
			i += n
		case c == '"':
			end := strings.IndexByte(src[i+1:], '"')
			if end < 0 {
				return nil, fmt.Errorf("unterminated quoted identifier")
			}
			name := src[i+1 : i+1+end]
			if !IsIdentifier(name) {
				return nil, fmt.Errorf("invalid quoted identifier %q", name)
			}
			toks = append(toks, token{kind: tokColumn, text: name})
			i += end + 2
		case c == '{':
			end := strings.IndexByte(src[i:], '}')
			if end < 0 {
				return nil, fmt.Errorf("unterminated placeholder")
			}
			name := src[i+1 : i+end]
			if !IsContextVar(name) {
				return nil, fmt.Errorf("unknown placeholder {%s}", name)
			}
			toks = append(toks, token{kind: tokParam, text: name})
			i += end + 1
		case isIdentStart(c):
			j := i + 1
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			word := src[i:j]
			if _, ok := templateKeywords[strings.ToUpper(word)]; ok {
				toks = append(toks, token{kind: tokWord, text: word})
			} else {
				toks = append(toks, token{kind: tokColumn, text: word})
			}
			i = j
		case c >= '0' && c <= '9':
			j := i + 1
			for j < len(src) && (src[j] >= '0' && src[j] <= '9' || src[j] == '.') {
				j++
			}
			toks = append(toks, token{kind: tokNumber, text: src[i:j]})
			i = j
		case c == ';':
			return nil, fmt.Errorf("statement separator not allowed")
		case c == '-' && i+1 < len(src) && src[i+1] == '-',
			c == '/' && i+1 < len(src) && src[i+1] == '*':
			return nil, fmt.Errorf("comments not allowed")
		case strings.IndexByte("=<>!(),+-*/%|", c) >= 0:
			toks = append(toks, token{kind: tokSymbol, text: string(c)})
			i++
		default:
			return nil, fmt.Errorf("unexpected character %q", c)
		}
	}
	return toks, nil
}

// scanString reads a single-quoted literal at the start of s, honoring ''
// escapes. It returns the unescaped content and the consumed length.
func scanString(s string) (string, int, error) {
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		if s[i] != '\'' {
			b.WriteByte(s[i])
			continue
		}
		if i+1 < len(s) && s[i+1] == '\'' {
			b.WriteByte('\'')
			i++
			continue
		}
		return b.String(), i + 1, nil
	}
	return "", 0, fmt.Errorf("unterminated string literal")
}

func wholePlaceholder(lit string) (string, bool) {
	if len(lit) < 3 || lit[0] != '{' || lit[len(lit)-1] != '}' {
		return "", false
	}
	name := lit[1 : len(lit)-1]
	if !IsIdentifier(name) {
		return "", false
	}
	return name, true
}

func topLevelEqualities(toks []token) map[string]string {
	var conjuncts [][]token
	var cur []token
	depth := 0
	for _, tk := range toks {
		if tk.kind == tokSpace {
			continue
		}
		if tk.kind == tokSymbol {
			switch tk.text {
			case "(":
				depth++
			case ")":
				depth--
			}
		}
		if depth == 0 && tk.kind == tokWord {
			switch strings.ToUpper(tk.text) {
			case "OR":
				return nil
			case "AND":
				conjuncts = append(conjuncts, cur)
				cur = nil
				continue
			}
		}
		cur = append(cur, tk)
	}
	conjuncts = append(conjuncts, cur)

	eq := make(map[string]string)
	for _, c := range conjuncts {
		if len(c) != 3 || c[1].kind != tokSymbol || c[1].text != "=" {
			continue
		}
		switch {
		case c[0].kind == tokColumn && c[2].kind == tokParam:
			eq[c[0].text] = c[2].text
		case c[0].kind == tokParam && c[2].kind == tokColumn:
			eq[c[2].text] = c[0].text
		}
	}
	return eq
}
