package backend

import "strings"

// Dialect is the subset of Adapter the builder needs.
type Dialect interface {
	Server() bool
	Placeholder(i int) string
}

// Builder accumulates a SELECT statement piece by piece. Placeholders are
// minted sequentially through Bind, in the same order the fragments that
// hold them are laid out, so the argument list lines up with the statement
// text on positional dialects and with marker numbers on numbered ones.
type Builder struct {
	d      Dialect
	head   string
	from   string
	conds  []string
	orders []string
	args   []any
	limit  int
	offset int
}

// NewBuilder returns an empty builder for the given dialect with no limit
// set.
func NewBuilder(d Dialect) *Builder {
	return &Builder{d: d, limit: -1}
}

// Bind registers v as the next statement argument and returns its
// placeholder for interpolation into a fragment.
func (b *Builder) Bind(v any) string {
	b.args = append(b.args, v)
	return b.d.Placeholder(len(b.args))
}

// Select sets the column list, without the SELECT keyword.
func (b *Builder) Select(head string) *Builder {
	b.head = head
	return b
}

// From sets the table expression, without the FROM keyword.
func (b *Builder) From(from string) *Builder {
	b.from = from
	return b
}

// Where appends one condition. Conditions are joined with AND.
func (b *Builder) Where(cond string) *Builder {
	b.conds = append(b.conds, cond)
	return b
}

// OrderBy appends one ordering expression.
func (b *Builder) OrderBy(expr string) *Builder {
	b.orders = append(b.orders, expr)
	return b
}

// Limit caps the row count. Negative means no cap.
func (b *Builder) Limit(n int) *Builder {
	b.limit = n
	return b
}

// Offset skips the first n rows.
func (b *Builder) Offset(n int) *Builder {
	b.offset = n
	return b
}

// SQL renders the statement and its argument list.
func (b *Builder) SQL() (string, []any) {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(b.head)
	sb.WriteString(" FROM ")
	sb.WriteString(b.from)
	if len(b.conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.conds, " AND "))
	}
	if len(b.orders) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(b.orders, ", "))
	}
	if b.limit >= 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(b.Bind(b.limit))
	} else if b.offset > 0 && !b.d.Server() {
		// SQLite rejects OFFSET without LIMIT.
		sb.WriteString(" LIMIT -1")
	}
	if b.offset > 0 {
		sb.WriteString(" OFFSET ")
		sb.WriteString(b.Bind(b.offset))
	}
	return sb.String(), b.args
}
