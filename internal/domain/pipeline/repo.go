package pipeline

import (
	"context"
)

// Feed fetches one page of pipeline records. Results may be stale or empty;
// callers render whatever comes back.
type Feed interface {
	Fetch(ctx context.Context, q Query) (*Page, error)
}
