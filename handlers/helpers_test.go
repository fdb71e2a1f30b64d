package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/johnwmail/quickbin/internal/idgen"
	"github.com/johnwmail/quickbin/internal/services"
	"github.com/johnwmail/quickbin/internal/testutil"
	"github.com/johnwmail/quickbin/models"
	"github.com/johnwmail/quickbin/storage"
)

// fixedIDs hands out valid UUIDs in order.
var fixedIDs = []string{
	"0b3f6a8e-4c1d-4e2f-9a7b-1c2d3e4f5a6b",
	"1c4a7b9f-5d2e-4f30-8b8c-2d3e4f5a6b7c",
	"2d5b8cae-6e3f-4041-9c9d-3e4f5a6b7c8d",
}

type listIDs struct {
	ids []string
	n   int
}

func (g *listIDs) Generate() (string, error) {
	id := g.ids[g.n%len(g.ids)]
	g.n++
	return id, nil
}

// faultyStore fails every call with err.
type faultyStore struct {
	storage.SnippetStore
	err error
}

func (f *faultyStore) Put(context.Context, *models.Snippet) error { return f.err }
func (f *faultyStore) Get(context.Context, string, time.Time) (*models.Snippet, error) {
	return nil, f.err
}
func (f *faultyStore) Count(context.Context) (int64, error) { return 0, f.err }

type testEnv struct {
	router *gin.Engine
	store  storage.SnippetStore
	clock  *testutil.StubClock
}

func newTestEnv(t *testing.T, store storage.SnippetStore, ids idgen.Generator) *testEnv {
	t.Helper()
	return newTestEnvWithLimit(t, store, ids, 1<<10)
}

// newTestEnvWithLimit is newTestEnv with an explicit body cap; 0 selects
// DefaultMaxBodyBytes.
func newTestEnvWithLimit(t *testing.T, store storage.SnippetStore, ids idgen.Generator, maxBody int64) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if store == nil {
		store = storage.NewMemoryStore()
	}
	if ids == nil {
		ids = &listIDs{ids: fixedIDs}
	}
	clock := testutil.FixedClock()
	svc := services.NewSnippetService(store, ids, clock, services.Options{
		RetryAttempts: 1,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	router := gin.New()
	snippets := NewSnippetHandler(svc, maxBody)
	meta := NewMetaHandler(svc)
	system := NewSystemHandler(store, "memory", "test")
	router.GET("/", system.Index)
	router.GET("/health", system.Health)
	router.GET("/api/v1/expiry-options", system.ExpiryOptions)
	router.POST("/snippets", snippets.Create)
	router.GET("/snippets/:id", snippets.Get)
	router.GET("/api/v1/meta/:id", meta.GetMetadata)

	return &testEnv{router: router, store: store, clock: clock}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Success bool            `json:"success"`
	Status  int             `json:"status"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), "body: %s", w.Body.String())
	return env
}

func decodeSnippet(t *testing.T, w *httptest.ResponseRecorder) models.Snippet {
	t.Helper()
	env := decodeEnvelope(t, w)
	require.True(t, env.Success)
	require.Equal(t, http.StatusOK, env.Status)
	var s models.Snippet
	require.NoError(t, json.Unmarshal(env.Data, &s))
	return s
}
