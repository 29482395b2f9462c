package pipeline

import (
	"time"
)

// ViewState is the state of one pipeline list view.
type ViewState struct {
	Stage    Stage  `json:"stage"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
	Search   string `json:"search"`
	Raw      string `json:"raw"`
}

// ViewController owns a ViewState. State changes only through SetStage,
// SetPage and search commits; each of them emits the next Query.
type ViewController struct {
	stage    Stage
	page     int
	pageSize int
	loc      *time.Location
	search   *SearchController
	request  func(Query)
}

// ViewOptions configures a ViewController.
type ViewOptions struct {
	Stage     Stage
	PageSize  int
	Debounce  time.Duration
	Scheduler Scheduler
	Location  *time.Location
}

// NewViewController creates a view on page 1 with no filter. request is
// called with every query the view wants fetched.
func NewViewController(opts ViewOptions, request func(Query)) *ViewController {
	opts.Stage.def()
	if opts.PageSize <= 0 {
		opts.PageSize = 10
	}
	v := &ViewController{
		stage:    opts.Stage,
		page:     1,
		pageSize: opts.PageSize,
		loc:      opts.Location,
		request:  request,
	}
	v.search = NewSearchController(opts.Debounce, opts.Scheduler, v.onCommit)
	return v
}

// State returns a snapshot of the view.
func (v *ViewController) State() ViewState {
	s := v.search.State()
	return ViewState{
		Stage:    v.stage,
		Page:     v.page,
		PageSize: v.pageSize,
		Search:   s.Committed,
		Raw:      s.Raw,
	}
}

// Query returns the request matching the current state.
func (v *ViewController) Query() Query {
	return Query{
		Page:          v.page,
		PageSize:      v.pageSize,
		Discriminator: v.stage.Discriminator(),
		Search:        v.search.Committed(),
	}
}

// Refresh re-emits the current query.
func (v *ViewController) Refresh() {
	v.emit()
}

// SetStage switches stage and returns to page 1. The search is kept.
func (v *ViewController) SetStage(s Stage) {
	s.def()
	v.stage = s
	v.page = 1
	v.emit()
}

// SetPage moves to page p (at least 1).
func (v *ViewController) SetPage(p int) {
	if p < 1 {
		p = 1
	}
	v.page = p
	v.emit()
}

// Type forwards a keystroke to the search controller.
func (v *ViewController) Type(text string) { v.search.Type(text) }

// CommitSearch commits text immediately.
func (v *ViewController) CommitSearch(text string) { v.search.Commit(text) }

// ClearSearch drops the filter immediately.
func (v *ViewController) ClearSearch() { v.search.Clear() }

// Close drops any pending search timer.
func (v *ViewController) Close() { v.search.Stop() }

// Present turns fetched results into the table for the current stage. A nil
// page renders as an empty table.
func (v *ViewController) Present(p *Page, now time.Time) Table {
	var records []Record
	if p != nil {
		records = p.Results
	}
	return BuildTable(v.stage, records, now, v.loc)
}

func (v *ViewController) onCommit(string) {
	v.page = 1
	v.emit()
}

func (v *ViewController) emit() {
	if v.request != nil {
		v.request(v.Query())
	}
}
