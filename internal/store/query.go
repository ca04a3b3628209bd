package store

import (
	"fmt"
	"strings"
)

// SelectQuery builds a filtered read over one relation. Filters compose with
// AND; columns and tables come from a fixed set of call sites, never from
// user input, so only values are parameterized.
type SelectQuery struct {
	table   string
	columns []string
	conds   []string
	args    []any
	orderBy string
	limit   int
}

// Select starts a query against the given relation.
func Select(table string, columns ...string) *SelectQuery {
	return &SelectQuery{table: table, columns: columns}
}

// Eq adds an equality filter.
func (q *SelectQuery) Eq(column string, value any) *SelectQuery {
	q.args = append(q.args, value)
	q.conds = append(q.conds, fmt.Sprintf("%s = $%d", column, len(q.args)))
	return q
}

// IsNull adds an "is null" filter.
func (q *SelectQuery) IsNull(column string) *SelectQuery {
	q.conds = append(q.conds, column+" IS NULL")
	return q
}

// In adds a set-membership filter.
func (q *SelectQuery) In(column string, values []string) *SelectQuery {
	q.args = append(q.args, values)
	q.conds = append(q.conds, fmt.Sprintf("%s = ANY($%d)", column, len(q.args)))
	return q
}

// Gte adds a greater-or-equal filter.
func (q *SelectQuery) Gte(column string, value any) *SelectQuery {
	q.args = append(q.args, value)
	q.conds = append(q.conds, fmt.Sprintf("%s >= $%d", column, len(q.args)))
	return q
}

// OrderBy sets the result ordering.
func (q *SelectQuery) OrderBy(column string, descending bool) *SelectQuery {
	dir := "ASC"
	if descending {
		dir = "DESC"
	}
	q.orderBy = column + " " + dir
	return q
}

// Limit caps the result set; zero means no cap.
func (q *SelectQuery) Limit(n int) *SelectQuery {
	q.limit = n
	return q
}

// SQL renders the statement and its arguments.
func (q *SelectQuery) SQL() (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(q.columns, ", "))
	b.WriteString(" FROM ")
	b.WriteString(q.table)
	if len(q.conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(q.conds, " AND "))
	}
	if q.orderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(q.orderBy)
	}
	if q.limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.limit)
	}
	return b.String(), q.args
}
