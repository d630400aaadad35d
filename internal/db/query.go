package db

import (
	"fmt"
	"strings"

	"github.com/hpungsan/evtrack/internal/model"
)

// Conds accumulates AND-ed SQL conditions with their arguments.
type Conds struct {
	clauses []string
	args    []any
}

// Add appends clause. Its placeholders bind args in order.
func (c *Conds) Add(clause string, args ...any) {
	c.clauses = append(c.clauses, clause)
	c.args = append(c.args, args...)
}

// In appends "column IN (?, ...)". An empty list matches nothing.
func (c *Conds) In(column string, values []any) {
	if len(values) == 0 {
		c.Add("0")
		return
	}
	c.Add(column+" IN ("+Placeholders(len(values))+")", values...)
}

// Where renders " WHERE a AND b", or "" when empty.
func (c *Conds) Where() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.clauses, " AND ")
}

// Args returns the bound arguments in clause order.
func (c *Conds) Args() []any {
	return c.args
}

// Placeholders returns n comma-separated "?".
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// Int64Args converts ids to driver arguments, dropping duplicates.
func Int64Args(ids []int64) []any {
	seen := make(map[int64]bool, len(ids))
	out := make([]any, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// OrderBy renders the ORDER BY clause for sort. Ties break on id so pages
// are stable.
func OrderBy(sort model.SortOrder) (string, error) {
	switch sort {
	case model.SortDateDesc, "":
		return " ORDER BY date DESC, id DESC", nil
	case model.SortDateAsc:
		return " ORDER BY date ASC, id ASC", nil
	case model.SortIDAsc:
		return " ORDER BY id ASC", nil
	case model.SortIDDesc:
		return " ORDER BY id DESC", nil
	}
	return "", fmt.Errorf("unknown sort %q", sort)
}

// LimitOffset renders LIMIT/OFFSET. A zero limit is unbounded.
func LimitOffset(limit, offset int) (string, []any) {
	if limit <= 0 {
		limit = -1
	}
	return " LIMIT ? OFFSET ?", []any{limit, offset}
}

// EventFilters adds the engine-independent parts of q: type, sub-type and
// date range. Folder scoping and tag matching are engine specific.
func EventFilters(c *Conds, q model.EventQuery) {
	if len(q.Types) > 0 {
		types := make([]any, len(q.Types))
		for i, t := range q.Types {
			types[i] = string(t)
		}
		c.In("event_type", types)
	}
	if q.SubType != "" {
		c.Add("sub_type = ?", q.SubType)
	}
	if q.From != nil {
		c.Add("date >= ?", *q.From)
	}
	if q.To != nil {
		c.Add("date < ?", *q.To)
	}
}
