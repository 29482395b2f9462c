package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// memFeed is an in-memory Feed that filters by discriminator and search and
// pages like the Postgres repo.
type memFeed struct {
	mu      sync.Mutex
	records map[string][]Record
	queries []Query
	failOn  func(Query) error
	// gate, when set, blocks each Fetch until the test releases it.
	gate func(Query) <-chan struct{}
}

func newMemFeed() *memFeed {
	return &memFeed{records: map[string][]Record{}}
}

func (f *memFeed) add(stage Stage, rs ...Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[stage.Discriminator()] = append(f.records[stage.Discriminator()], rs...)
}

func (f *memFeed) Fetch(ctx context.Context, q Query) (*Page, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	gate := f.gate
	failOn := f.failOn
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate(q):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failOn != nil {
		if err := failOn(q); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []Record
	needle := strings.ToLower(q.Search)
	for _, r := range f.records[q.Discriminator] {
		if needle == "" ||
			strings.Contains(strings.ToLower(r.String("customer_name")), needle) ||
			strings.Contains(r.String("customer_phone"), needle) {
			matched = append(matched, r)
		}
	}

	start := q.Offset()
	if start > len(matched) {
		start = len(matched)
	}
	end := start + q.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return &Page{Results: matched[start:end], Total: len(matched)}, nil
}

func (f *memFeed) seen() []Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Query(nil), f.queries...)
}

var errUpstream = errors.New("upstream unavailable")
