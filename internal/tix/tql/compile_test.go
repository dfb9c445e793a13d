package tql

import (
	"strings"
	"testing"
)

func mustParse(t *testing.T, s string) *Query {
	t.Helper()
	q, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	return q
}

func TestCompileDefaultExclusion(t *testing.T) {
	q := mustParse(t, "tasks")
	cq, err := Compile(q)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(cq.SQL, "t.status < ?") {
		t.Fatalf("expected default status exclusion, got %q", cq.SQL)
	}
}

func TestCompileAllSkipsDefaultExclusion(t *testing.T) {
	q := mustParse(t, "tasks all")
	cq, err := Compile(q)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if strings.Contains(cq.SQL, "t.status < ?") {
		t.Fatalf("did not expect default exclusion with 'all', got %q", cq.SQL)
	}
}

func TestCompileExplicitStatusSkipsDefaultExclusion(t *testing.T) {
	q := mustParse(t, "tasks | status=done")
	cq, err := Compile(q)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if strings.Contains(cq.SQL, "t.status < ?") {
		t.Fatalf("explicit status filter should disable default exclusion, got %q", cq.SQL)
	}
	// status sugar: "done" -> code 1
	found := false
	for _, b := range cq.Binds {
		if b.Kind == BindInt && b.Value == 1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected status=done to bind int 1, got %+v", cq.Binds)
	}
}

func TestCompileInListUsesINClause(t *testing.T) {
	q := mustParse(t, "tasks all | status=pending,done")
	cq, err := Compile(q)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(cq.SQL, "IN (?,?)") {
		t.Fatalf("expected IN clause, got %q", cq.SQL)
	}
}

func TestCompileMetaFilterJoinsOncePerKey(t *testing.T) {
	q := mustParse(t, "tasks all | meta.cost>1 | meta.cost<10")
	cq, err := Compile(q)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if strings.Count(cq.SQL, "LEFT JOIN ticket_meta") != 1 {
		t.Fatalf("expected exactly one join for repeated meta.cost, got %q", cq.SQL)
	}
}

func TestCompileLabelFilter(t *testing.T) {
	q := mustParse(t, "tasks all | label=urgent")
	cq, err := Compile(q)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(cq.SQL, "EXISTS (SELECT 1 FROM ticket_labels") {
		t.Fatalf("expected label EXISTS clause, got %q", cq.SQL)
	}
}

func TestCompileUnknownFieldErrors(t *testing.T) {
	q := mustParse(t, "tasks | nonexistent_field=1")
	if _, err := Compile(q); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestCompileAggregateWithGroupAndHaving(t *testing.T) {
	q := mustParse(t, "tasks all | group priority | count | having count>3")
	cq, err := Compile(q)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(cq.SQL, "GROUP BY t.priority") {
		t.Fatalf("expected GROUP BY, got %q", cq.SQL)
	}
	if !strings.Contains(cq.SQL, "HAVING COUNT(*) > ?") {
		t.Fatalf("expected having to resolve against the count aggregate expression, got %q", cq.SQL)
	}
}

func TestCompileGroupAndAggregateOverMeta(t *testing.T) {
	q := mustParse(t, "tasks | group meta.model | sum meta.cost | sort sum_meta.cost desc")
	cq, err := Compile(q)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if strings.Count(cq.SQL, "LEFT JOIN ticket_meta") != 2 {
		t.Fatalf("expected one join for the group key and one for the aggregate column, got %q", cq.SQL)
	}
	if !strings.Contains(cq.SQL, `GROUP BY COALESCE(`) {
		t.Fatalf("expected GROUP BY to resolve against the meta join's coalesced value, got %q", cq.SQL)
	}
	if !strings.Contains(cq.SQL, `SUM(`) || !strings.Contains(cq.SQL, `.value_num)`) {
		t.Fatalf("expected SUM over the meta column's value_num, got %q", cq.SQL)
	}
	if !strings.Contains(cq.SQL, `ORDER BY "sum_meta.cost" DESC`) {
		t.Fatalf("expected ORDER BY to reference the quoted aggregate alias, got %q", cq.SQL)
	}
}

func TestCompileTombstonesSource(t *testing.T) {
	q := mustParse(t, "tombstones | reason=scope")
	cq, err := Compile(q)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.HasPrefix(cq.SQL, "SELECT * FROM tombstones") {
		t.Fatalf("unexpected tombstones SQL: %q", cq.SQL)
	}
}
