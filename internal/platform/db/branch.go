package db

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	BranchIDKey contextKey = "branch_id"
	DBConnKey   contextKey = "db_conn"
)

var branchIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// BranchSchema returns the Postgres schema holding a clinic branch's data.
func BranchSchema(branchID string) (string, error) {
	if !branchIDPattern.MatchString(branchID) {
		return "", fmt.Errorf("invalid branch identifier: %q", branchID)
	}
	return "branch_" + branchID, nil
}

// BranchMiddleware pins a pooled connection to the caller's branch schema for
// the duration of the request.
func BranchMiddleware(pool *pgxpool.Pool, defaultBranch string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			branchID := extractBranchID(c, defaultBranch)
			schema, err := BranchSchema(branchID)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid branch identifier")
			}

			ctx := c.Request().Context()
			conn, err := AcquireBranch(ctx, pool, schema)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			ctx = WithBranch(ctx, branchID)
			ctx = context.WithValue(ctx, DBConnKey, conn)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("branch_id", branchID)

			return next(c)
		}
	}
}

// AcquireBranch takes a pooled connection with search_path set to schema.
// The caller releases it.
func AcquireBranch(ctx context.Context, pool *pgxpool.Pool, schema string) (*pgxpool.Conn, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", schema)); err != nil {
		conn.Release()
		return nil, fmt.Errorf("set search_path to %s: %w", schema, err)
	}
	return conn, nil
}

// WithBranch scopes ctx to a branch without pinning a connection.
func WithBranch(ctx context.Context, branchID string) context.Context {
	return context.WithValue(ctx, BranchIDKey, branchID)
}

// DetachConn drops the request-pinned connection from ctx but keeps the
// branch, for work that outlives the request.
func DetachConn(ctx context.Context) context.Context {
	return context.WithValue(ctx, DBConnKey, (*pgxpool.Conn)(nil))
}

func extractBranchID(c echo.Context, defaultBranch string) string {
	if bid, ok := c.Get("jwt_branch_id").(string); ok && bid != "" {
		return bid
	}
	if bid := c.Request().Header.Get("X-Branch-ID"); bid != "" {
		return bid
	}
	return defaultBranch
}

// ConnFromContext retrieves the branch-scoped connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// BranchFromContext retrieves the branch ID from context.
func BranchFromContext(ctx context.Context) string {
	bid, _ := ctx.Value(BranchIDKey).(string)
	return bid
}

// CreateBranchSchema creates a branch schema and applies all migrations to it.
func CreateBranchSchema(ctx context.Context, pool *pgxpool.Pool, branchID string, migrator *Migrator) error {
	schema, err := BranchSchema(branchID)
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}
	if migrator != nil {
		if _, err := migrator.Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}
	return nil
}
