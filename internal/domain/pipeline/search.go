package pipeline

import (
	"time"
)

// DefaultDebounce is the delay after the last keystroke before the search
// text commits on its own.
const DefaultDebounce = 400 * time.Millisecond

// Timer is a cancellable single-shot callback.
type Timer interface {
	Stop() bool
}

// Scheduler arms single-shot timers. Callbacks must run on the same logical
// thread as the SearchController that armed them.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// RealScheduler schedules on the runtime timer. When a timer expires its
// callback is handed to Post, which must run it on the owner's goroutine.
type RealScheduler struct {
	Post func(f func())
}

// AfterFunc implements Scheduler.
func (s RealScheduler) AfterFunc(d time.Duration, f func()) Timer {
	post := s.Post
	if post == nil {
		panic("pipeline: RealScheduler requires Post")
	}
	return time.AfterFunc(d, func() { post(f) })
}

// SearchState is the observable state of a SearchController.
type SearchState struct {
	Raw       string `json:"raw"`
	Committed string `json:"committed"`
	Pending   bool   `json:"pending"`
}

// SearchController debounces typed filter text and lets an explicit commit or
// clear preempt the pending timer. At most one timer is armed at a time and a
// timer armed before the latest cancel can never commit.
type SearchController struct {
	window   time.Duration
	sched    Scheduler
	onCommit func(text string)

	raw       string
	committed string
	pending   Timer
	gen       uint64
}

// NewSearchController creates a controller. onCommit runs synchronously for
// every commit, including the one fired by the debounce timer. sched is
// required; the controller is not safe for concurrent use.
func NewSearchController(window time.Duration, sched Scheduler, onCommit func(text string)) *SearchController {
	if window <= 0 {
		window = DefaultDebounce
	}
	if sched == nil {
		panic("pipeline: SearchController requires a Scheduler")
	}
	return &SearchController{window: window, sched: sched, onCommit: onCommit}
}

// State returns a snapshot of the controller.
func (c *SearchController) State() SearchState {
	return SearchState{Raw: c.raw, Committed: c.committed, Pending: c.pending != nil}
}

// Committed returns the text last made authoritative.
func (c *SearchController) Committed() string { return c.committed }

// Type records a keystroke. Non-empty text arms a fresh debounce timer;
// emptying the box clears an active filter immediately.
func (c *SearchController) Type(text string) {
	c.cancel()
	c.raw = text
	if text == "" {
		if c.committed != "" {
			c.commit("")
		}
		return
	}

	c.gen++
	gen := c.gen
	c.pending = c.sched.AfterFunc(c.window, func() { c.fire(gen, text) })
}

// Commit makes text authoritative now, dropping any pending timer.
func (c *SearchController) Commit(text string) {
	c.cancel()
	c.raw = text
	c.commit(text)
}

// Clear empties the filter now, dropping any pending timer.
func (c *SearchController) Clear() {
	c.cancel()
	c.raw = ""
	c.commit("")
}

// Stop drops any pending timer without committing.
func (c *SearchController) Stop() {
	c.cancel()
}

func (c *SearchController) fire(gen uint64, text string) {
	if c.pending == nil || gen != c.gen {
		return
	}
	c.pending = nil
	c.commit(text)
}

func (c *SearchController) cancel() {
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
	c.gen++
}

func (c *SearchController) commit(text string) {
	c.committed = text
	if c.onCommit != nil {
		c.onCommit(text)
	}
}
