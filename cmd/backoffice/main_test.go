package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinic/backoffice/internal/config"
	"github.com/clinic/backoffice/internal/domain/pipeline"
	"github.com/clinic/backoffice/internal/platform/db"
	"github.com/clinic/backoffice/internal/platform/websocket"
)

type stubFeed struct {
	queries []pipeline.Query
}

func (f *stubFeed) Fetch(_ context.Context, q pipeline.Query) (*pipeline.Page, error) {
	f.queries = append(f.queries, q)
	return &pipeline.Page{
		Results: []pipeline.Record{
			{"id": "r1", "customer_name": "Nguyen Van A", "checkin_date": "2024-03-01", "checkin_time": "9:5"},
		},
		Total: 1,
	}, nil
}

type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }

func testConfig(env string) *config.Config {
	return &config.Config{
		Env:                       env,
		AuthSigningKey:            "test-key",
		CORSOrigins:               []string{"http://localhost:3000"},
		RateLimitRPS:              50,
		RateLimitBurst:            100,
		PipelinePageSize:          10,
		PipelineExportPageSize:    100,
		PipelineExportConcurrency: 4,
		SearchDebounce:            400 * time.Millisecond,
		RequestTimeout:            30 * time.Second,
	}
}

func testRouter(t *testing.T, env string, feed pipeline.Feed) http.Handler {
	t.Helper()
	return newRouter(testConfig(env), time.UTC, routerDeps{
		pinger: okPinger{},
		feed:   feed,
		hub:    websocket.NewHub(),
	}, zerolog.Nop())
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := rootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "migrate", "branch", "export"}, names)
}

func TestExportCmd_RequiresStage(t *testing.T) {
	root := rootCmd()
	root.SetArgs([]string{"export"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage")
}

func TestMigrationSource_DefaultsToEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(migrationSource(""), ".")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "001_pipeline.sql", entries[0].Name())
}

func TestPrintStatus(t *testing.T) {
	at := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)
	var buf bytes.Buffer
	printStatus(&buf, "branch_main", []db.MigrationStatus{
		{Version: 1, Name: "001_pipeline.sql", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "002_indexes.sql"},
	})

	out := buf.String()
	assert.Contains(t, out, "branch_main")
	assert.Contains(t, out, "2024-03-01 08:30:00")
	assert.Contains(t, out, "pending")
}

func TestNewLogger_ProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger("production", &buf)
	logger.Info().Str("stage", "nurse").Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "nurse", line["stage"])
}

func TestRouter_Health(t *testing.T) {
	h := testRouter(t, "production", &stubFeed{})

	for _, path := range []string{"/health", "/health/db"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"), path)
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"), path)
	}
}

func TestRouter_ProductionRequiresToken(t *testing.T) {
	h := testRouter(t, "production", &stubFeed{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/pipeline/stages", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_DevListsStage(t *testing.T) {
	feed := &stubFeed{}
	h := testRouter(t, "development", feed)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/pipeline/reception?search=nguyen", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Columns []struct {
			Key string `json:"key"`
		} `json:"columns"`
		Results []struct {
			Key   string   `json:"key"`
			Cells []string `json:"cells"`
		} `json:"results"`
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Total)
	require.Len(t, body.Results, 1)
	assert.Equal(t, "r1", body.Results[0].Key)
	assert.Len(t, body.Results[0].Cells, len(body.Columns))

	require.Len(t, feed.queries, 1)
	assert.Equal(t, "nguyen", feed.queries[0].Search)
	assert.Equal(t, pipeline.StageReception.Discriminator(), feed.queries[0].Discriminator)
}

func TestRouter_UnknownStage(t *testing.T) {
	h := testRouter(t, "development", &stubFeed{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/pipeline/billing", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_ExportIsXLSX(t *testing.T) {
	h := testRouter(t, "development", &stubFeed{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/pipeline/nurse/export", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pipeline.XLSXContentType, rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Disposition"), "attachment;"))
}

func TestRouter_LiveChecksOrigin(t *testing.T) {
	hub := websocket.NewHub()
	srv := httptest.NewServer(newRouter(testConfig("development"), time.UTC, routerDeps{
		feed: &stubFeed{},
		hub:  hub,
	}, zerolog.Nop()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/pipeline/live"

	_, resp, err := gorillawebsocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	ws, _, err := gorillawebsocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"http://localhost:3000"}})
	require.NoError(t, err)
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(frame), `"snapshot"`)

	ws.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
