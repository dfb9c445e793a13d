package tql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ralphdev/tix/internal/tix"
)

// BindKind tags how a bind value should be passed to database/sql.
type BindKind int

const (
	BindInt BindKind = iota
	BindDouble
	BindText
)

// Bind is one ordered placeholder value in a CompiledQuery.
type Bind struct {
	Kind  BindKind
	Value any
}

// CompiledQuery is a SQL-shaped string plus its ordered bind list
// (§4.3 "Compiler output is a SQL-shaped string plus an ordered bind
// list; each bind is tagged int/double/text").
type CompiledQuery struct {
	SQL   string
	Binds []Bind
}

// ticketColumns is the allowlist of real ticket table columns a filter
// or select clause may reference directly.
var ticketColumns = map[string]bool{
	"id": true, "type": true, "status": true, "name": true, "spec": true,
	"notes": true, "accept": true, "priority": true, "parent": true,
	"created_from": true, "supersedes": true, "supersedes_reason": true,
	"author": true, "completed_at": true, "done_at": true, "branch": true,
	"kill_reason": true, "kill_log": true, "created_at": true,
	"updated_at": true, "resolved_at": true, "compacted_at": true,
	"created_from_name": true, "supersedes_name": true,
}

var tombstoneColumns = map[string]bool{
	"id": true, "done_at": true, "reason": true, "name": true,
	"is_accept": true, "timestamp": true,
}

// metaJoiner tracks one LEFT JOIN per distinct meta.<key> referenced,
// so two filters on the same key share one join (§4.3 "LEFT JOINs
// ticket_meta aliased per distinct key").
type metaJoiner struct {
	aliasByKey map[string]string
	order      []string
}

func newMetaJoiner() *metaJoiner {
	return &metaJoiner{aliasByKey: map[string]string{}}
}

func (m *metaJoiner) alias(key string) string {
	if a, ok := m.aliasByKey[key]; ok {
		return a
	}
	a := fmt.Sprintf("m%d", len(m.order))
	m.aliasByKey[key] = a
	m.order = append(m.order, key)
	return a
}

func (m *metaJoiner) joinClauses() []string {
	var out []string
	for _, key := range m.order {
		a := m.aliasByKey[key]
		out = append(out, fmt.Sprintf("LEFT JOIN ticket_meta AS %s ON %s.ticket_id = t.id AND %s.key = '%s'", a, a, a, escapeLiteral(key)))
	}
	return out
}

// escapeLiteral guards against a meta key containing a quote; TQL keys
// come from ticket metadata, not untrusted SQL text, but this keeps
// the generated join clause well-formed regardless.
func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// Compile compiles a parsed Query into a SQL-shaped string and its
// ordered binds (§4.3).
func Compile(q *Query) (*CompiledQuery, error) {
	if q.Source == SourceTombstones {
		return compileTombstones(q)
	}
	return compileTickets(q)
}

func compileTombstones(q *Query) (*CompiledQuery, error) {
	var where []string
	var binds []Bind

	for _, f := range q.Filters {
		cond, fbinds, err := buildPlainCondition("tombstones", f, tombstoneColumns)
		if err != nil {
			return nil, err
		}
		where = append(where, cond)
		binds = append(binds, fbinds...)
	}

	sql := "SELECT * FROM tombstones"
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += orderLimitOffset(q, "", nil)
	return &CompiledQuery{SQL: sql, Binds: binds}, nil
}

func compileTickets(q *Query) (*CompiledQuery, error) {
	joiner := newMetaJoiner()
	var where []string
	var binds []Bind

	switch q.Source {
	case SourceTasks:
		where = append(where, "t.type = ?")
		binds = append(binds, Bind{Kind: BindText, Value: string(tix.TypeTask)})
	case SourceIssues:
		where = append(where, "t.type = ?")
		binds = append(binds, Bind{Kind: BindText, Value: string(tix.TypeIssue)})
	case SourceNotes:
		where = append(where, "t.type = ?")
		binds = append(binds, Bind{Kind: BindText, Value: string(tix.TypeNote)})
	case SourceTickets:
		// no type constraint: every ticket kind
	}

	if !q.All && !q.hasStatusFilter() {
		where = append(where, "t.status < ?")
		binds = append(binds, Bind{Kind: BindInt, Value: int(tix.StatusAccepted)})
	}

	for _, f := range q.Filters {
		cond, fbinds, err := buildTicketCondition(f, joiner)
		if err != nil {
			return nil, err
		}
		where = append(where, cond)
		binds = append(binds, fbinds...)
	}

	var groupExpr string
	if q.Group != "" {
		expr, err := groupColumnExpr(q.Group, joiner)
		if err != nil {
			return nil, err
		}
		groupExpr = expr
	}

	aggAliases := map[string]string{} // alias -> SQL expression, for HAVING/ORDER BY lookup
	selectList, selectBinds, err := buildSelect(q, groupExpr, joiner, aggAliases)
	if err != nil {
		return nil, err
	}
	binds = append(binds, selectBinds...)

	sql := "SELECT " + selectList + " FROM tickets AS t"
	sql += joinClause(joiner)
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	if groupExpr != "" {
		sql += " GROUP BY " + groupExpr
	}

	if len(q.Having) > 0 {
		var having []string
		for _, f := range q.Having {
			cond, hbinds, err := buildHavingCondition(f, aggAliases)
			if err != nil {
				return nil, err
			}
			having = append(having, cond)
			binds = append(binds, hbinds...)
		}
		sql += " HAVING " + strings.Join(having, " AND ")
	}

	sql += orderLimitOffset(q, "t.", aggAliases)
	return &CompiledQuery{SQL: sql, Binds: binds}, nil
}

// groupColumnExpr resolves a GROUP BY field to its SQL expression. A
// meta.<key> group joins ticket_meta the same way a meta filter does
// (sharing the join if the same key is already filtered/aggregated on)
// and groups on whichever of value_text/value_num is populated.
func groupColumnExpr(field string, joiner *metaJoiner) (string, error) {
	if strings.HasPrefix(field, "meta.") {
		key := strings.TrimPrefix(field, "meta.")
		alias := joiner.alias(key)
		return fmt.Sprintf("COALESCE(%s.value_text, %s.value_num)", alias, alias), nil
	}
	if !ticketColumns[field] {
		return "", fmt.Errorf("tql: unknown group field %q", field)
	}
	return "t." + field, nil
}

func joinClause(m *metaJoiner) string {
	clauses := m.joinClauses()
	if len(clauses) == 0 {
		return ""
	}
	return " " + strings.Join(clauses, " ")
}

// orderLimitOffset renders ORDER BY/LIMIT/OFFSET. A sort field matching
// an aggregate alias (e.g. "sum_meta.cost") sorts on the quoted alias
// directly rather than being prefixed as a ticket column.
func orderLimitOffset(q *Query, colPrefix string, aggAliases map[string]string) string {
	var b strings.Builder
	if len(q.Sort) > 0 {
		b.WriteString(" ORDER BY ")
		parts := make([]string, len(q.Sort))
		for i, sf := range q.Sort {
			dir := "ASC"
			if sf.Desc {
				dir = "DESC"
			}
			field := colPrefix + sf.Field
			if _, ok := aggAliases[sf.Field]; ok {
				field = quoteIdent(sf.Field)
			}
			parts[i] = field + " " + dir
		}
		b.WriteString(strings.Join(parts, ", "))
	}
	if q.Limit > 0 {
		b.WriteString(fmt.Sprintf(" LIMIT %d", q.Limit))
	}
	if q.Offset > 0 {
		b.WriteString(fmt.Sprintf(" OFFSET %d", q.Offset))
	}
	return b.String()
}

// buildSelect renders the SELECT list: aggregates (with group column
// if grouping), explicit select columns, or "t.*" by default. Returns
// any binds the select list itself needs (none today, but kept for
// symmetry with buildTicketCondition).
func buildSelect(q *Query, groupExpr string, joiner *metaJoiner, aggAliases map[string]string) (string, []Bind, error) {
	if len(q.Agg) > 0 {
		var cols []string
		if groupExpr != "" {
			if strings.HasPrefix(q.Group, "meta.") {
				cols = append(cols, groupExpr+" AS "+quoteIdent(strings.TrimPrefix(q.Group, "meta.")))
			} else {
				cols = append(cols, groupExpr)
			}
		}
		for _, a := range q.Agg {
			expr, alias, err := aggExpr(a, joiner)
			if err != nil {
				return "", nil, err
			}
			aggAliases[alias] = expr
			cols = append(cols, fmt.Sprintf("%s AS %s", expr, quoteIdent(alias)))
		}
		return strings.Join(cols, ", "), nil, nil
	}
	if q.Distinct {
		if len(q.Select) > 0 {
			return "DISTINCT " + strings.Join(prefixCols(q.Select), ", "), nil, nil
		}
		return "DISTINCT t.*", nil, nil
	}
	if len(q.Select) > 0 {
		return strings.Join(prefixCols(q.Select), ", "), nil, nil
	}
	return "t.*", nil, nil
}

// quoteIdent double-quotes a SQL identifier, needed for aggregate
// aliases that carry a meta.<key> column name through (e.g.
// "sum_meta.cost"), which contain a dot.
func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func prefixCols(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		if strings.Contains(c, ".") {
			out[i] = c
			continue
		}
		out[i] = "t." + c
	}
	return out
}

func aggExpr(a Aggregate, joiner *metaJoiner) (expr string, alias string, err error) {
	switch a.Func {
	case "count":
		return "COUNT(*)", "count", nil
	case "count_distinct":
		colExpr, err := resolveAggColumn(a.Col, joiner, false)
		if err != nil {
			return "", "", err
		}
		return fmt.Sprintf("COUNT(DISTINCT %s)", colExpr), "count_distinct_" + a.Col, nil
	default: // sum, avg, min, max
		colExpr, err := resolveAggColumn(a.Col, joiner, true)
		if err != nil {
			return "", "", err
		}
		return fmt.Sprintf("%s(%s)", strings.ToUpper(a.Func), colExpr), a.Func + "_" + a.Col, nil
	}
}

// resolveAggColumn resolves an aggregate's target column to a SQL
// expression, joining ticket_meta for meta.<key> the same way filter
// and group-by compilation do (sharing the join via metaJoiner).
// numeric selects value_num, required for sum/avg/min/max arithmetic;
// count_distinct works against either representation via COALESCE.
func resolveAggColumn(col string, joiner *metaJoiner, numeric bool) (string, error) {
	if strings.HasPrefix(col, "meta.") {
		key := strings.TrimPrefix(col, "meta.")
		alias := joiner.alias(key)
		if numeric {
			return alias + ".value_num", nil
		}
		return fmt.Sprintf("COALESCE(%s.value_text, %s.value_num)", alias, alias), nil
	}
	if !ticketColumns[col] {
		return "", fmt.Errorf("tql: unknown aggregate column %q", col)
	}
	return "t." + col, nil
}

// buildTicketCondition compiles one filter clause against the tickets
// table, handling the virtual `label` and `meta.<key>` fields and the
// status/priority enum sugar (§4.3).
func buildTicketCondition(f Filter, joiner *metaJoiner) (string, []Bind, error) {
	switch {
	case f.Field == "label":
		return buildLabelCondition(f)
	case strings.HasPrefix(f.Field, "meta."):
		return buildMetaCondition(f, joiner)
	default:
		if !ticketColumns[f.Field] {
			return "", nil, fmt.Errorf("tql: unknown field %q", f.Field)
		}
		return buildPlainCondition("t", f, ticketColumns)
	}
}

func buildLabelCondition(f Filter) (string, []Bind, error) {
	if len(f.Values) != 1 {
		return "", nil, fmt.Errorf("tql: label filter takes exactly one value")
	}
	exists := "EXISTS (SELECT 1 FROM ticket_labels WHERE ticket_id = t.id AND label = ?)"
	negate := f.Negate || f.Op == OpNeq
	if negate {
		exists = "NOT " + exists
	}
	return exists, []Bind{{Kind: BindText, Value: f.Values[0]}}, nil
}

func buildMetaCondition(f Filter, joiner *metaJoiner) (string, []Bind, error) {
	key := strings.TrimPrefix(f.Field, "meta.")
	alias := joiner.alias(key)

	if f.IsNull || f.NotNull {
		cond := fmt.Sprintf("%s.ticket_id IS NULL", alias)
		if f.NotNull {
			cond = fmt.Sprintf("%s.ticket_id IS NOT NULL", alias)
		}
		if f.Negate {
			cond = "NOT (" + cond + ")"
		}
		return cond, nil, nil
	}
	if len(f.Values) != 1 {
		return "", nil, fmt.Errorf("tql: meta.%s does not support IN lists", key)
	}
	val := f.Values[0]
	col := alias + ".value_text"
	var bindValue any = val
	kind := BindText
	if n, err := strconv.ParseFloat(val, 64); err == nil {
		col = alias + ".value_num"
		bindValue = n
		kind = BindDouble
	}
	cond := fmt.Sprintf("%s %s ?", col, string(f.Op))
	if f.Negate {
		cond = "NOT (" + cond + ")"
	}
	return cond, []Bind{{Kind: kind, Value: bindValue}}, nil
}

// buildPlainCondition compiles a real-column condition (ticket or
// tombstone tables), applying the status/priority enum sugar.
func buildPlainCondition(tableAlias string, f Filter, allowed map[string]bool) (string, []Bind, error) {
	if !allowed[f.Field] {
		return "", nil, fmt.Errorf("tql: unknown field %q", f.Field)
	}
	col := tableAlias + "." + f.Field

	if f.IsNull || f.NotNull {
		cond := "(" + col + " IS NULL OR " + col + " = '')"
		if f.NotNull {
			cond = "(" + col + " IS NOT NULL AND " + col + " != '')"
		}
		if f.Negate {
			cond = "NOT " + cond
		}
		return cond, nil, nil
	}

	kind := inferBindKind(f.Field)
	values, err := translateValues(f.Field, f.Values, kind)
	if err != nil {
		return "", nil, err
	}

	var cond string
	var binds []Bind
	if len(values) > 1 {
		placeholders := strings.Repeat("?,", len(values))
		placeholders = placeholders[:len(placeholders)-1]
		op := "IN"
		if f.Op == OpNeq {
			op = "NOT IN"
		}
		cond = fmt.Sprintf("%s %s (%s)", col, op, placeholders)
		for _, v := range values {
			binds = append(binds, Bind{Kind: kind, Value: v})
		}
	} else {
		cond = fmt.Sprintf("%s %s ?", col, string(f.Op))
		binds = append(binds, Bind{Kind: kind, Value: values[0]})
	}
	if f.Negate {
		cond = "NOT (" + cond + ")"
	}
	return cond, binds, nil
}

// buildHavingCondition compiles a having clause against a previously
// built aggregate alias, or falls back to a grouped plain column.
func buildHavingCondition(f Filter, aggAliases map[string]string) (string, []Bind, error) {
	expr, ok := aggAliases[f.Field]
	if !ok {
		expr = "t." + f.Field
	}
	if len(f.Values) != 1 {
		return "", nil, fmt.Errorf("tql: having clause takes exactly one value")
	}
	n, err := strconv.ParseFloat(f.Values[0], 64)
	if err != nil {
		return "", nil, fmt.Errorf("tql: having value must be numeric: %w", err)
	}
	return fmt.Sprintf("%s %s ?", expr, string(f.Op)), []Bind{{Kind: BindDouble, Value: n}}, nil
}

// inferBindKind picks the bind type for a known column.
func inferBindKind(field string) BindKind {
	switch field {
	case "status", "priority", "completed_at", "created_at", "updated_at",
		"resolved_at", "compacted_at", "is_accept", "timestamp":
		return BindInt
	default:
		return BindText
	}
}

// translateValues applies the status/priority enum sugar (§4.3 "Enum
// sugar") to filter values, converting tokens like "pending"/"high"
// into their integer codes.
func translateValues(field string, raw []string, kind BindKind) ([]any, error) {
	out := make([]any, 0, len(raw))
	for _, v := range raw {
		switch field {
		case "status":
			if code, ok := tix.StatusFromToken(v); ok {
				out = append(out, int(code))
				continue
			}
		case "priority":
			if code, ok := tix.PriorityFromToken(v); ok {
				out = append(out, int(code))
				continue
			}
		}
		if kind == BindInt {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("tql: field %q expects an integer, got %q", field, v)
			}
			out = append(out, n)
			continue
		}
		out = append(out, v)
	}
	return out, nil
}
