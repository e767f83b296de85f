package query

import (
	"reflect"
	"strings"

	"github.com/Sentinel-Gate/querygate/internal/domain/authz"
	"github.com/Sentinel-Gate/querygate/internal/domain/policy"
)

// Builder renders authorized queries for one dialect.
type Builder struct {
	dialect Dialect
	limits  Limits
}

// NewBuilder creates a Builder. Zero limit fields take DefaultLimits values.
func NewBuilder(dialect Dialect, limits Limits) *Builder {
	def := DefaultLimits()
	if limits.DefaultPageSize <= 0 {
		limits.DefaultPageSize = def.DefaultPageSize
	}
	if limits.MaxPageSize <= 0 {
		limits.MaxPageSize = def.MaxPageSize
	}
	if limits.HardRowCap <= 0 {
		limits.HardRowCap = def.HardRowCap
	}
	if dialect == "" {
		dialect = Postgres
	}
	return &Builder{dialect: dialect, limits: limits}
}

// Dialect returns the builder's dialect.
func (b *Builder) Dialect() Dialect { return b.dialect }

// Limits returns the effective limits.
func (b *Builder) Limits() Limits { return b.limits }

// Build renders q. The same query always renders the same text and args.
func (b *Builder) Build(q *authz.AuthorizedQuery) (Statement, error) {
	stmt := Statement{Table: q.TableName(), Operation: q.Operation, Actor: q.Actor}
	var err error
	switch q.Operation {
	case policy.OpRead:
		err = b.buildSelect(q, &stmt)
	case policy.OpInsert:
		err = b.buildInsert(q, &stmt)
	case policy.OpUpdate:
		err = b.buildUpdate(q, &stmt)
	case policy.OpDelete:
		err = b.buildDelete(q, &stmt)
	case policy.OpAdmin:
		err = b.buildRaw(q, &stmt)
	default:
		err = buildErr(UnsupportedOperation, "operation %q cannot be built", q.Operation)
	}
	if err != nil {
		return Statement{}, err
	}
	return stmt, nil
}

type binder struct {
	dialect Dialect
	args    []any
}

func (p *binder) bind(v any) string {
	p.args = append(p.args, v)
	return p.dialect.placeholder(len(p.args))
}

func (b *Builder) buildSelect(q *authz.AuthorizedQuery, stmt *Statement) error {
	limit, offset, err := b.page(q.Page)
	if err != nil {
		return err
	}
	p := &binder{dialect: b.dialect}
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(quoteList(q.Columns))
	sb.WriteString(" FROM ")
	sb.WriteString(quote(q.Table.Name))
	where, err := b.where(p, q)
	if err != nil {
		return err
	}
	if where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}
	if len(q.OrderBy) > 0 {
		terms := make([]string, len(q.OrderBy))
		for i, s := range q.OrderBy {
			dir := " ASC"
			if s.Descending {
				dir = " DESC"
			}
			terms[i] = quote(s.Column) + dir
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(terms, ", "))
	}
	sb.WriteString(" LIMIT ")
	sb.WriteString(p.bind(limit))
	if offset > 0 {
		sb.WriteString(" OFFSET ")
		sb.WriteString(p.bind(offset))
	}

	stmt.SQL = sb.String()
	stmt.Args = p.args
	stmt.Returning = true
	stmt.MaxRows = limit
	return nil
}

func (b *Builder) buildInsert(q *authz.AuthorizedQuery, stmt *Statement) error {
	if len(q.Values) == 0 {
		return buildErr(EmptyAssignment, "insert into %q has no values", q.Table.Name)
	}
	if err := checkGenerated(q); err != nil {
		return err
	}
	p := &binder{dialect: b.dialect}
	cols := make([]string, len(q.Values))
	holders := make([]string, len(q.Values))
	for i, v := range q.Values {
		cols[i] = quote(v.Column)
		holders[i] = p.bind(v.Value)
	}
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(quote(q.Table.Name))
	sb.WriteString(" (")
	sb.WriteString(strings.Join(cols, ", "))
	sb.WriteString(") VALUES (")
	sb.WriteString(strings.Join(holders, ", "))
	sb.WriteString(")")
	stmt.Returning = b.returning(&sb, q)

	stmt.SQL = sb.String()
	stmt.Args = p.args
	stmt.MaxRows = 1
	return nil
}

func (b *Builder) buildUpdate(q *authz.AuthorizedQuery, stmt *Statement) error {
	if len(q.Values) == 0 {
		return buildErr(EmptyAssignment, "update of %q has no values", q.Table.Name)
	}
	if err := checkGenerated(q); err != nil {
		return err
	}
	p := &binder{dialect: b.dialect}

	// Numbered dialects bind the predicate first so the mandatory row
	// filter always takes the lowest parameter numbers.
	var where, set string
	var err error
	if b.dialect == SQLite {
		set = b.assignments(p, q)
		where, err = b.where(p, q)
	} else {
		where, err = b.where(p, q)
		set = b.assignments(p, q)
	}
	if err != nil {
		return err
	}
	if where == "" && !q.AllowUnrestricted {
		return buildErr(MissingPredicate, "update of %q has no predicate", q.Table.Name)
	}

	var sb strings.Builder
	sb.WriteString("UPDATE ")
	sb.WriteString(quote(q.Table.Name))
	sb.WriteString(" SET ")
	sb.WriteString(set)
	if where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}
	stmt.Returning = b.returning(&sb, q)

	stmt.SQL = sb.String()
	stmt.Args = p.args
	stmt.MaxRows = b.limits.HardRowCap
	return nil
}

func (b *Builder) buildDelete(q *authz.AuthorizedQuery, stmt *Statement) error {
	p := &binder{dialect: b.dialect}
	where, err := b.where(p, q)
	if err != nil {
		return err
	}
	if where == "" && !q.AllowUnrestricted {
		return buildErr(MissingPredicate, "delete from %q has no predicate", q.Table.Name)
	}
	var sb strings.Builder
	sb.WriteString("DELETE FROM ")
	sb.WriteString(quote(q.Table.Name))
	if where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}
	stmt.Returning = b.returning(&sb, q)

	stmt.SQL = sb.String()
	stmt.Args = p.args
	stmt.MaxRows = b.limits.HardRowCap
	return nil
}

func (b *Builder) buildRaw(q *authz.AuthorizedQuery, stmt *Statement) error {
	if err := ValidateRawSelect(q.RawSQL, len(q.RawArgs)); err != nil {
		return err
	}
	stmt.SQL = q.RawSQL
	stmt.Args = append([]any(nil), q.RawArgs...)
	stmt.Returning = true
	stmt.MaxRows = b.limits.HardRowCap
	return nil
}

// where renders the row filter followed by caller filters, all ANDed.
func (b *Builder) where(p *binder, q *authz.AuthorizedQuery) (string, error) {
	var parts []string
	if q.RowFilter != nil {
		parts = append(parts, "("+q.RowFilter.Render(p.bind)+")")
	}
	for _, f := range q.Filters {
		cond, err := filterCondition(p, f)
		if err != nil {
			return "", err
		}
		parts = append(parts, cond)
	}
	return strings.Join(parts, " AND "), nil
}

func (b *Builder) assignments(p *binder, q *authz.AuthorizedQuery) string {
	sets := make([]string, len(q.Values))
	for i, v := range q.Values {
		sets[i] = quote(v.Column) + " = " + p.bind(v.Value)
	}
	return strings.Join(sets, ", ")
}

// returning appends RETURNING pk when the role may see the primary key.
func (b *Builder) returning(sb *strings.Builder, q *authz.AuthorizedQuery) bool {
	pk := q.Table.PrimaryKey
	for _, c := range q.Granted {
		if c == pk {
			sb.WriteString(" RETURNING ")
			sb.WriteString(quote(pk))
			return true
		}
	}
	return false
}

func (b *Builder) page(pg authz.Page) (limit, offset int, err error) {
	limit = b.limits.DefaultPageSize
	if pg.Limit != nil {
		limit = *pg.Limit
	}
	if limit < 0 {
		return 0, 0, buildErr(InvalidPagination, "limit must not be negative")
	}
	limit = min(limit, b.limits.MaxPageSize, b.limits.HardRowCap)
	if pg.Offset != nil {
		offset = *pg.Offset
	}
	if offset < 0 {
		return 0, 0, buildErr(InvalidPagination, "offset must not be negative")
	}
	return limit, offset, nil
}

func filterCondition(p *binder, f authz.Filter) (string, error) {
	col := quote(f.Column)
	if f.Value == nil {
		return col + " IS NULL", nil
	}
	rv := reflect.ValueOf(f.Value)
	if (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.Type().Elem().Kind() != reflect.Uint8 {
		if rv.Len() == 0 {
			return "", buildErr(InvalidFilter, "filter on %q has an empty list", f.Column)
		}
		holders := make([]string, rv.Len())
		for i := range rv.Len() {
			holders[i] = p.bind(rv.Index(i).Interface())
		}
		return col + " IN (" + strings.Join(holders, ", ") + ")", nil
	}
	return col + " = " + p.bind(f.Value), nil
}

func checkGenerated(q *authz.AuthorizedQuery) error {
	if !q.Table.PrimaryKeyGenerated {
		return nil
	}
	for _, v := range q.Values {
		if v.Column == q.Table.PrimaryKey {
			return buildErr(GeneratedColumn, "%q is generated and cannot be written", v.Column)
		}
	}
	return nil
}

func quote(ident string) string {
	return `"` + ident + `"`
}

func quoteList(idents []string) string {
	q := make([]string, len(idents))
	for i, id := range idents {
		q[i] = quote(id)
	}
	return strings.Join(q, ", ")
}
