package tql

import "testing"

func TestParseSourceAndAll(t *testing.T) {
	q, err := Parse("tasks all")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if q.Source != SourceTasks || !q.All {
		t.Fatalf("got source=%v all=%v", q.Source, q.All)
	}
}

func TestParseUnknownSource(t *testing.T) {
	if _, err := Parse("widgets"); err == nil {
		t.Fatal("expected error for unknown source")
	}
}

func TestParseFilterClause(t *testing.T) {
	q, err := Parse("tasks | status=pending | priority>=2")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(q.Filters) != 2 {
		t.Fatalf("expected 2 filters, got %d", len(q.Filters))
	}
	if q.Filters[0].Field != "status" || q.Filters[0].Op != OpEq || q.Filters[0].Values[0] != "pending" {
		t.Fatalf("unexpected first filter: %+v", q.Filters[0])
	}
	if q.Filters[1].Op != OpGte {
		t.Fatalf("expected >= op, got %q", q.Filters[1].Op)
	}
}

func TestParseInList(t *testing.T) {
	q, err := Parse("tasks | status=pending,done")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(q.Filters[0].Values) != 2 {
		t.Fatalf("expected 2 values, got %d", len(q.Filters[0].Values))
	}
}

func TestParseNegationAndNullCheck(t *testing.T) {
	q, err := Parse("tasks | !kill_reason= | author!=")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !q.Filters[0].Negate || !q.Filters[0].IsNull {
		t.Fatalf("expected negated null-check, got %+v", q.Filters[0])
	}
	if !q.Filters[1].NotNull {
		t.Fatalf("expected not-null check, got %+v", q.Filters[1])
	}
}

func TestParseSortLimitOffsetDistinct(t *testing.T) {
	q, err := Parse("tasks | sort priority desc | limit 5 | offset 10 | distinct")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(q.Sort) != 1 || q.Sort[0].Field != "priority" || !q.Sort[0].Desc {
		t.Fatalf("unexpected sort: %+v", q.Sort)
	}
	if q.Limit != 5 || q.Offset != 10 || !q.Distinct {
		t.Fatalf("unexpected limit/offset/distinct: %+v", q)
	}
}

func TestParseGroupAggregateHaving(t *testing.T) {
	q, err := Parse("tasks | group priority | count | having count>3")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if q.Group != "priority" {
		t.Fatalf("expected group priority, got %q", q.Group)
	}
	if len(q.Agg) != 1 || q.Agg[0].Func != "count" {
		t.Fatalf("unexpected agg: %+v", q.Agg)
	}
	if len(q.Having) != 1 || q.Having[0].Field != "count" || q.Having[0].Op != OpGt {
		t.Fatalf("unexpected having: %+v", q.Having)
	}
}

func TestParseMetaFilter(t *testing.T) {
	q, err := Parse("tasks | meta.retries>2")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if q.Filters[0].Field != "meta.retries" {
		t.Fatalf("unexpected field: %q", q.Filters[0].Field)
	}
}

func TestHasStatusFilter(t *testing.T) {
	q, err := Parse("tasks | status=done")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !q.hasStatusFilter() {
		t.Fatal("expected hasStatusFilter true")
	}
}
