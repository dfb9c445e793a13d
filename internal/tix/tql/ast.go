// Package tql implements the Ticket Query Language (§4.3): a pipeline
// mini-language parsed into an AST and compiled to a parameterized
// query against the ticket cache's SQL schema. Grounded on the pack's
// own IssueFilter/WorkFilter structs (pointer-typed optional fields,
// AND-vs-OR label semantics, default tombstone exclusion) — TQL is a
// textual front end that compiles into that same filter shape before
// it ever reaches SQL.
package tql

// Source is the table (or table group) a query reads from.
type Source string

const (
	SourceTasks      Source = "tasks"
	SourceIssues     Source = "issues"
	SourceNotes      Source = "notes"
	SourceTickets    Source = "tickets"
	SourceTombstones Source = "tombstones"
)

// Op is a filter comparison operator.
type Op string

const (
	OpEq  Op = "="
	OpNeq Op = "!="
	OpGt  Op = ">"
	OpLt  Op = "<"
	OpGte Op = ">="
	OpLte Op = "<="
)

// Filter is one `field op value` clause, or one of its sugared forms:
// IN/NOT-IN lists, negation, and null checks (§4.3 filter table).
type Filter struct {
	Field   string
	Op      Op
	Values  []string // len > 1 for an IN / NOT IN list
	Negate  bool      // leading "!" on the field, e.g. !field=val
	IsNull  bool      // field= with an empty value
	NotNull bool      // field!= with an empty value
}

// SortField is one `sort field [asc|desc]` clause.
type SortField struct {
	Field string
	Desc  bool
}

// Aggregate is one of `count`, `sum col`, `avg col`, `min col`,
// `max col`, `count_distinct col`.
type Aggregate struct {
	Func string
	Col  string
}

// Query is the parsed AST for one TQL pipeline (§4.3).
type Query struct {
	Source   Source
	All      bool
	Filters  []Filter
	Select   []string
	Sort     []SortField
	Limit    int
	Offset   int
	Distinct bool
	Group    string
	Agg      []Aggregate
	Having   []Filter
}

// hasStatusFilter reports whether the query already constrains status
// explicitly, which disables the default-exclusion injection (§4.3
// "Default exclusion").
func (q *Query) hasStatusFilter() bool {
	for _, f := range q.Filters {
		if f.Field == "status" {
			return true
		}
	}
	return false
}
