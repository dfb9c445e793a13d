package tql

import (
	"github.com/ralphdev/tix/internal/tix/cache"
)

// Run executes a CompiledQuery against the cache and returns each row
// as a column-name-keyed map, since a TQL query's result shape varies
// (full ticket rows, a select subset, or aggregate columns) and cannot
// be typed as a single Go struct (§6.3 `query` command).
func Run(db *cache.DB, q *CompiledQuery) ([]map[string]any, error) {
	args := make([]any, len(q.Binds))
	for i, b := range q.Binds {
		args[i] = b.Value
	}

	rows, err := db.Query(q.SQL, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		dest := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = normalize(dest[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// normalize converts driver-returned []byte text columns into strings
// so JSON-rendering callers don't see base64-escaped byte slices.
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
