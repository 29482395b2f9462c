package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/clinic/backoffice/internal/platform/db"
)

const (
	defaultExportPageSize    = 100
	defaultExportConcurrency = 4
)

type Service struct {
	feed   Feed
	loc    *time.Location
	now    func() time.Time
	logger zerolog.Logger

	exportPageSize    int
	exportConcurrency int
}

func NewService(feed Feed, loc *time.Location, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		feed:              feed,
		loc:               loc,
		now:               time.Now,
		logger:            logger.With().Str("component", "pipeline").Logger(),
		exportPageSize:    defaultExportPageSize,
		exportConcurrency: defaultExportConcurrency,
	}
}

// SetClock replaces the wall clock used for the today predicate.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// SetExportLimits sets the page size and fan-out used to pull every page for
// an export. Non-positive values keep the current setting.
func (s *Service) SetExportLimits(pageSize, concurrency int) {
	if pageSize > 0 {
		s.exportPageSize = pageSize
	}
	if concurrency > 0 {
		s.exportConcurrency = concurrency
	}
}

// Location returns the clinic's time zone.
func (s *Service) Location() *time.Location { return s.loc }

// Now returns the current time in the clinic's time zone.
func (s *Service) Now() time.Time { return s.now().In(s.loc) }

// Fetch passes a query to the feed.
func (s *Service) Fetch(ctx context.Context, q Query) (*Page, error) {
	page, err := s.feed.Fetch(ctx, q)
	if err != nil {
		s.logger.Error().Err(err).
			Str("discriminator", q.Discriminator).
			Int("page", q.Page).
			Msg("fetch pipeline page")
		return nil, err
	}
	if page == nil {
		page = &Page{}
	}
	return page, nil
}

// List returns one page of a stage, ordered and projected, plus the upstream
// total.
func (s *Service) List(ctx context.Context, stage Stage, page, pageSize int, search string) (Table, int, error) {
	q := Query{Page: page, PageSize: pageSize, Discriminator: stage.Discriminator(), Search: search}
	p, err := s.Fetch(ctx, q)
	if err != nil {
		return BuildTable(stage, nil, s.Now(), s.loc), 0, err
	}
	return BuildTable(stage, p.Results, s.Now(), s.loc), p.Total, nil
}

// ExportTable pulls every page matching search and builds one table from all
// of them.
func (s *Service) ExportTable(ctx context.Context, stage Stage, search string) (Table, error) {
	q := Query{Page: 1, PageSize: s.exportPageSize, Discriminator: stage.Discriminator(), Search: search}
	first, err := s.Fetch(ctx, q)
	if err != nil {
		return Table{}, fmt.Errorf("export %s: %w", stage, err)
	}

	pages := 1
	if first.Total > q.PageSize {
		pages = (first.Total + q.PageSize - 1) / q.PageSize
	}
	results := make([][]Record, pages)
	results[0] = first.Results

	// A pinned connection runs one query at a time; every remaining page takes
	// its own connection on the same branch.
	g, gctx := errgroup.WithContext(db.DetachConn(ctx))
	g.SetLimit(s.exportConcurrency)
	for i := 1; i < pages; i++ {
		pq := q
		pq.Page = i + 1
		g.Go(func() error {
			p, err := s.Fetch(gctx, pq)
			if err != nil {
				return err
			}
			results[pq.Page-1] = p.Results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Table{}, fmt.Errorf("export %s: %w", stage, err)
	}

	var all []Record
	for _, r := range results {
		all = append(all, r...)
	}
	table := BuildTable(stage, all, s.Now(), s.loc)
	s.logger.Info().
		Str("stage", stage.String()).
		Int("pages", pages).
		Int("rows", len(table.Rows)).
		Msg("pipeline export built")
	return table, nil
}

// Export writes every matching record of a stage as a spreadsheet.
func (s *Service) Export(ctx context.Context, stage Stage, search string, w io.Writer) error {
	table, err := s.ExportTable(ctx, stage, search)
	if err != nil {
		return err
	}
	return EncodeXLSX(w, table)
}
