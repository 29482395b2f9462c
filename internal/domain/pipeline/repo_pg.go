package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/backoffice/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

// NewRepo returns a Feed backed by the pipeline_record table.
func NewRepo(pool *pgxpool.Pool) Feed {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// conn prefers the request-pinned connection. A branch-scoped context without
// one (live sessions, the export CLI) gets its own connection for the call.
func (r *repoPG) conn(ctx context.Context) (querier, func(), error) {
	if c := db.ConnFromContext(ctx); c != nil {
		return c, func() {}, nil
	}
	branch := db.BranchFromContext(ctx)
	if branch == "" {
		return r.pool, func() {}, nil
	}
	schema, err := db.BranchSchema(branch)
	if err != nil {
		return nil, nil, err
	}
	c, err := db.AcquireBranch(ctx, r.pool, schema)
	if err != nil {
		return nil, nil, err
	}
	return c, c.Release, nil
}

const recordFilter = `stage_status = $1 AND (
	$2 = '' OR
	payload->>'customer_name' ILIKE $2 ESCAPE '\' OR
	payload->>'customer_phone' ILIKE $2 ESCAPE '\' OR
	payload->>'doctor_name' ILIKE $2 ESCAPE '\' OR
	payload->>'note' ILIKE $2 ESCAPE '\'
)`

// recordPageQuery orders by id after created_at so that rows written in one
// transaction keep the same position across page queries.
const recordPageQuery = `SELECT id, payload FROM pipeline_record WHERE ` + recordFilter + `
	ORDER BY created_at DESC, id LIMIT $3 OFFSET $4`

func (r *repoPG) Fetch(ctx context.Context, q Query) (*Page, error) {
	pattern := likePattern(q.Search)

	conn, release, err := r.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var total int
	if err := conn.QueryRow(ctx,
		`SELECT COUNT(*) FROM pipeline_record WHERE `+recordFilter,
		q.Discriminator, pattern,
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("count pipeline records: %w", err)
	}

	rows, err := conn.Query(ctx, recordPageQuery,
		q.Discriminator, pattern, q.PageSize, q.Offset())
	if err != nil {
		return nil, fmt.Errorf("query pipeline records: %w", err)
	}
	defer rows.Close()

	page := &Page{Total: total}
	for rows.Next() {
		var (
			id      uuid.UUID
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scan pipeline record: %w", err)
		}
		rec, err := decodePayload(payload)
		if err != nil {
			return nil, fmt.Errorf("decode pipeline record %s: %w", id, err)
		}
		if rec.String("id") == "" {
			rec["id"] = id.String()
		}
		page.Results = append(page.Results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pipeline records: %w", err)
	}
	return page, nil
}

func decodePayload(b []byte) (Record, error) {
	rec := Record{}
	if len(b) == 0 {
		return rec, nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// likePattern turns free text into an ILIKE substring pattern; "" stays "".
func likePattern(search string) string {
	search = strings.TrimSpace(search)
	if search == "" {
		return ""
	}
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(search) + "%"
}
