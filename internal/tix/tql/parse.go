package tql

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse parses a TQL pipeline string: `SOURCE [all] [ | CLAUSE ]*`
// (§4.3).
func Parse(input string) (*Query, error) {
	segments := strings.Split(input, "|")
	if len(segments) == 0 {
		return nil, fmt.Errorf("tql: empty query")
	}

	head := strings.Fields(strings.TrimSpace(segments[0]))
	if len(head) == 0 {
		return nil, fmt.Errorf("tql: missing source")
	}

	q := &Query{}
	switch Source(head[0]) {
	case SourceTasks, SourceIssues, SourceNotes, SourceTickets, SourceTombstones:
		q.Source = Source(head[0])
	default:
		return nil, fmt.Errorf("tql: unknown source %q", head[0])
	}
	if len(head) > 1 && head[1] == "all" {
		q.All = true
	}

	for _, seg := range segments[1:] {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		if err := q.applyClause(seg); err != nil {
			return nil, err
		}
	}
	return q, nil
}

func (q *Query) applyClause(seg string) error {
	word, rest := splitWord(seg)
	switch word {
	case "select":
		cols := strings.Split(rest, ",")
		for _, c := range cols {
			c = strings.TrimSpace(c)
			if c != "" {
				q.Select = append(q.Select, c)
			}
		}
		return nil
	case "sort":
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			return fmt.Errorf("tql: sort requires a field")
		}
		sf := SortField{Field: fields[0]}
		if len(fields) > 1 && strings.EqualFold(fields[1], "desc") {
			sf.Desc = true
		}
		q.Sort = append(q.Sort, sf)
		return nil
	case "limit":
		n, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil {
			return fmt.Errorf("tql: bad limit %q: %w", rest, err)
		}
		q.Limit = n
		return nil
	case "offset":
		n, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil {
			return fmt.Errorf("tql: bad offset %q: %w", rest, err)
		}
		q.Offset = n
		return nil
	case "distinct":
		q.Distinct = true
		return nil
	case "group":
		q.Group = strings.TrimSpace(rest)
		return nil
	case "count":
		q.Agg = append(q.Agg, Aggregate{Func: "count"})
		return nil
	case "sum", "avg", "min", "max", "count_distinct":
		col := strings.TrimSpace(rest)
		if col == "" {
			return fmt.Errorf("tql: %s requires a column", word)
		}
		q.Agg = append(q.Agg, Aggregate{Func: word, Col: col})
		return nil
	case "having":
		f, err := parseFilterExpr(rest)
		if err != nil {
			return err
		}
		q.Having = append(q.Having, f)
		return nil
	default:
		f, err := parseFilterExpr(seg)
		if err != nil {
			return err
		}
		q.Filters = append(q.Filters, f)
		return nil
	}
}

// splitWord splits seg into its leading keyword and the remainder.
func splitWord(seg string) (string, string) {
	i := strings.IndexByte(seg, ' ')
	if i < 0 {
		return seg, ""
	}
	return seg[:i], strings.TrimSpace(seg[i+1:])
}

// parseFilterExpr parses one `field op value` clause including its
// sugared IN/NOT-IN, negated, and null-check forms (§4.3).
func parseFilterExpr(expr string) (Filter, error) {
	f := Filter{}
	if strings.HasPrefix(expr, "!") {
		f.Negate = true
		expr = expr[1:]
	}

	op, idx := findOp(expr)
	if idx < 0 {
		return Filter{}, fmt.Errorf("tql: no operator in filter %q", expr)
	}
	f.Field = strings.TrimSpace(expr[:idx])
	f.Op = op
	value := expr[idx+len(op):]

	if value == "" {
		switch op {
		case OpEq:
			f.IsNull = true
		case OpNeq:
			f.NotNull = true
		default:
			return Filter{}, fmt.Errorf("tql: empty value only valid with = or != %q", expr)
		}
		return f, nil
	}

	if strings.Contains(value, ",") {
		for _, v := range strings.Split(value, ",") {
			f.Values = append(f.Values, strings.TrimSpace(v))
		}
	} else {
		f.Values = []string{strings.TrimSpace(value)}
	}
	return f, nil
}

// findOp locates the first comparison operator in expr, preferring the
// two-character operators so ">=" isn't mis-split as ">" + "=".
func findOp(expr string) (Op, int) {
	twoChar := []Op{OpGte, OpLte, OpNeq}
	for i := 0; i < len(expr); i++ {
		for _, op := range twoChar {
			if strings.HasPrefix(expr[i:], string(op)) {
				return op, i
			}
		}
		switch expr[i] {
		case '=':
			return OpEq, i
		case '>':
			return OpGt, i
		case '<':
			return OpLt, i
		}
	}
	return "", -1
}

