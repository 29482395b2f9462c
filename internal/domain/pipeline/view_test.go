package pipeline

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type queryLog struct{ queries []Query }

func (l *queryLog) record(q Query) { l.queries = append(l.queries, q) }

func (l *queryLog) last(t *testing.T) Query {
	t.Helper()
	if len(l.queries) == 0 {
		t.Fatal("no query emitted")
	}
	return l.queries[len(l.queries)-1]
}

func newTestView(stage Stage) (*ViewController, *manualScheduler, *queryLog) {
	sched := &manualScheduler{}
	log := &queryLog{}
	v := NewViewController(ViewOptions{
		Stage:     stage,
		PageSize:  20,
		Debounce:  400 * time.Millisecond,
		Scheduler: sched,
		Location:  ict,
	}, log.record)
	return v, sched, log
}

func TestView_InitialState(t *testing.T) {
	v, _, log := newTestView(StageReception)

	want := ViewState{Stage: StageReception, Page: 1, PageSize: 20}
	if diff := cmp.Diff(want, v.State()); diff != "" {
		t.Errorf("initial state mismatch (-want +got):\n%s", diff)
	}
	if len(log.queries) != 0 {
		t.Errorf("constructor should not fetch, got %v", log.queries)
	}

	v.Refresh()
	want2 := Query{Page: 1, PageSize: 20, Discriminator: "checked_in"}
	if diff := cmp.Diff(want2, log.last(t)); diff != "" {
		t.Errorf("refresh query mismatch (-want +got):\n%s", diff)
	}
}

func TestView_StageSwitchResetsPageKeepsSearch(t *testing.T) {
	v, _, log := newTestView(StageReception)

	v.CommitSearch("an")
	v.SetPage(3)
	v.SetStage(StageNurse)

	want := Query{Page: 1, PageSize: 20, Discriminator: "vitals", Search: "an"}
	if diff := cmp.Diff(want, log.last(t)); diff != "" {
		t.Errorf("query after stage switch mismatch (-want +got):\n%s", diff)
	}
	if len(log.queries) != 3 {
		t.Errorf("expected one query per transition, got %d", len(log.queries))
	}
}

func TestView_SearchCommitResetsPage(t *testing.T) {
	v, sched, log := newTestView(StageDoctor)

	v.SetPage(4)
	v.Type("x")
	if v.State().Page != 4 {
		t.Fatal("typing alone should not change the page")
	}
	if got := len(log.queries); got != 1 {
		t.Fatalf("typing alone should not fetch, got %d queries", got)
	}

	sched.Advance(400 * time.Millisecond)
	want := Query{Page: 1, PageSize: 20, Discriminator: "consultation", Search: "x"}
	if diff := cmp.Diff(want, log.last(t)); diff != "" {
		t.Errorf("query after debounce mismatch (-want +got):\n%s", diff)
	}
}

func TestView_RawAndCommittedDiverge(t *testing.T) {
	v, _, _ := newTestView(StageTreatment)

	v.CommitSearch("lan")
	v.Type("lanh")

	s := v.State()
	if s.Raw != "lanh" || s.Search != "lan" {
		t.Errorf("expected raw %q committed %q, got %+v", "lanh", "lan", s)
	}
	if v.Query().Search != "lan" {
		t.Errorf("query must carry the committed text, got %q", v.Query().Search)
	}
}

func TestView_ClearSearch(t *testing.T) {
	v, _, log := newTestView(StageReception)

	v.CommitSearch("abc")
	v.SetPage(2)
	v.ClearSearch()

	want := Query{Page: 1, PageSize: 20, Discriminator: "checked_in"}
	if diff := cmp.Diff(want, log.last(t)); diff != "" {
		t.Errorf("query after clear mismatch (-want +got):\n%s", diff)
	}
}

func TestView_SetPageClampsToOne(t *testing.T) {
	v, _, log := newTestView(StageReception)
	v.SetPage(0)
	if log.last(t).Page != 1 {
		t.Errorf("expected page 1, got %d", log.last(t).Page)
	}
}

func TestView_CloseDropsPendingSearch(t *testing.T) {
	v, sched, log := newTestView(StageReception)

	v.Type("late")
	v.Close()
	sched.Advance(time.Second)

	if len(log.queries) != 0 {
		t.Errorf("expected no queries after Close, got %v", log.queries)
	}
}

func TestView_DefaultPageSize(t *testing.T) {
	v := NewViewController(ViewOptions{Stage: StageNurse, Scheduler: &manualScheduler{}}, nil)
	if v.State().PageSize != 10 {
		t.Errorf("expected default page size 10, got %d", v.State().PageSize)
	}
	v.Refresh()
}

func TestView_PresentUsesCurrentStage(t *testing.T) {
	v, _, _ := newTestView(StageReception)
	v.SetStage(StageTreatment)

	empty := v.Present(nil, clinicNow)
	if empty.Stage != StageTreatment || len(empty.Rows) != 0 {
		t.Errorf("unexpected table for nil page: %+v", empty)
	}
	if diff := cmp.Diff(StageTreatment.Columns(), empty.Columns, cmp.Comparer(sameColumn)); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}

	table := v.Present(&Page{Results: []Record{
		{"id": "a", "session_date": "2024-03-01"},
		{"id": "b", "session_date": "2024-03-05"},
	}}, clinicNow)
	if diff := cmp.Diff([]string{"b", "a"}, keys(table)); diff != "" {
		t.Errorf("row order mismatch (-want +got):\n%s", diff)
	}
}

func sameColumn(a, b Column) bool { return a.Key == b.Key && a.Title == b.Title }
