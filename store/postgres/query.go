package postgres

import "fmt"

// sqlArgs accumulates positional query arguments for dynamically
// assembled filters.
type sqlArgs []any

// bind appends v and returns its placeholder ("$1", "$2", ...).
func (a *sqlArgs) bind(v any) string {
	*a = append(*a, v)
	return fmt.Sprintf("$%d", len(*a))
}

// paginate appends LIMIT/OFFSET clauses for the given bounds. Zero
// values are omitted.
func (a *sqlArgs) paginate(query string, limit, offset int) string {
	if limit > 0 {
		query += " LIMIT " + a.bind(limit)
	}
	if offset > 0 {
		query += " OFFSET " + a.bind(offset)
	}
	return query
}
