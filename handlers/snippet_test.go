package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnwmail/quickbin/internal/testutil"
	"github.com/johnwmail/quickbin/storage"
)

func TestCreateSnippet(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	t0 := env.clock.Now()

	w := env.do(http.MethodPost, "/snippets", `{"title":"hello","content":"print(1)","expiry":"1h"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	s := decodeSnippet(t, w)
	assert.Equal(t, fixedIDs[0], s.ID)
	assert.Equal(t, "hello", s.Title)
	assert.Equal(t, "print(1)", s.Content)
	assert.True(t, s.CreatedAt.Equal(t0))
	assert.True(t, s.ExpiresAt.Equal(t0.Add(time.Hour)))
	assert.Contains(t, w.Body.String(), `"created_at":"2024-01-15T10:30:00Z"`)
}

func TestCreateSnippetErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		status  int
		message string
	}{
		{"malformed json", `{"title":`, http.StatusBadRequest, MsgInvalidBody},
		{"wrong type", `{"title":1,"content":"c"}`, http.StatusBadRequest, MsgInvalidBody},
		{"missing title", `{"content":"c"}`, http.StatusBadRequest, "Missing required fields"},
		{"missing content", `{"title":"t"}`, http.StatusBadRequest, "Missing required fields"},
		{"title too long", fmt.Sprintf(`{"title":%q,"content":"c"}`, strings.Repeat("a", 101)), http.StatusBadRequest, "Title too long"},
		{"trailing garbage", `{"title":"t","content":"c"} junk`, http.StatusBadRequest, MsgInvalidBody},
		{"two objects", `{"title":"t","content":"c"}{"title":"u","content":"d"}`, http.StatusBadRequest, MsgInvalidBody},
		{"body over cap", fmt.Sprintf(`{"title":"t","content":%q}`, strings.Repeat("a", 2<<10)), http.StatusBadRequest, MsgInvalidBody},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil, nil)
			w := env.do(http.MethodPost, "/snippets", tt.body)
			assert.Equal(t, tt.status, w.Code)

			e := decodeEnvelope(t, w)
			assert.False(t, e.Success)
			assert.Equal(t, tt.message, e.Error)
			assert.Empty(t, e.Data)

			n, err := env.store.Count(t.Context())
			require.NoError(t, err)
			assert.Zero(t, n, "nothing should be stored")
		})
	}
}

func TestCreateSnippetStoreFailures(t *testing.T) {
	t.Run("unavailable", func(t *testing.T) {
		env := newTestEnv(t, &faultyStore{err: fmt.Errorf("%w: timeout", storage.ErrUnavailable)}, nil)
		w := env.do(http.MethodPost, "/snippets", `{"title":"t","content":"c"}`)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "1", w.Header().Get("Retry-After"))
		assert.Equal(t, MsgUnavailable, decodeEnvelope(t, w).Error)
	})

	t.Run("unexpected", func(t *testing.T) {
		env := newTestEnv(t, &faultyStore{err: errors.New("disk on fire")}, nil)
		w := env.do(http.MethodPost, "/snippets", `{"title":"t","content":"c"}`)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, MsgInternal, decodeEnvelope(t, w).Error)
		assert.NotContains(t, w.Body.String(), "disk on fire")
	})

	t.Run("duplicate id", func(t *testing.T) {
		env := newTestEnv(t, nil, testutil.FixedIDGenerator{ID: fixedIDs[0]})
		require.Equal(t, http.StatusOK, env.do(http.MethodPost, "/snippets", `{"title":"t","content":"c"}`).Code)
		w := env.do(http.MethodPost, "/snippets", `{"title":"t","content":"c"}`)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, MsgInternal, decodeEnvelope(t, w).Error)
	})
}

func TestGetSnippet(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	w := env.do(http.MethodPost, "/snippets", `{"title":"hi","content":"body","expiry":"10m"}`)
	require.Equal(t, http.StatusOK, w.Code)
	created := decodeSnippet(t, w)

	w = env.do(http.MethodGet, "/snippets/"+created.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeSnippet(t, w)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "body", got.Content)

	env.clock.Advance(11 * time.Minute)
	expired := env.do(http.MethodGet, "/snippets/"+created.ID, "")
	unknown := env.do(http.MethodGet, "/snippets/"+fixedIDs[2], "")
	malformed := env.do(http.MethodGet, "/snippets/not-a-uuid", "")

	for name, w := range map[string]*httptest.ResponseRecorder{"expired": expired, "unknown": unknown, "malformed": malformed} {
		assert.Equal(t, http.StatusNotFound, w.Code, name)
		assert.Equal(t, MsgSnippetNotFound, decodeEnvelope(t, w).Error, name)
	}
	// expired and unknown ids are indistinguishable
	assert.Equal(t, unknown.Body.String(), expired.Body.String())
}

func TestGetSnippetStoreFailures(t *testing.T) {
	env := newTestEnv(t, &faultyStore{err: fmt.Errorf("%w: closed", storage.ErrUnavailable)}, nil)
	w := env.do(http.MethodGet, "/snippets/"+fixedIDs[0], "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	env = newTestEnv(t, &faultyStore{err: errors.New("bad record")}, nil)
	w = env.do(http.MethodGet, "/snippets/"+fixedIDs[0], "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, MsgInternal, decodeEnvelope(t, w).Error)
}

func TestCreateSnippetTrailingWhitespace(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	w := env.do(http.MethodPost, "/snippets", "{\"title\":\"t\",\"content\":\"c\"}\n\t ")
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestCreateSnippetMaximalEscapedContent(t *testing.T) {
	tests := []struct {
		name   string
		escape string
		want   string
	}{
		{"latin escapes", `\u00e9`, "é"},
		{"surrogate pair escapes", `\ud83d\ude00`, "😀"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnvWithLimit(t, nil, nil, 0)
			body := `{"title":"t","content":"` + strings.Repeat(tt.escape, 50000) + `","expiry":"1h"}`

			w := env.do(http.MethodPost, "/snippets", body)
			require.Equal(t, http.StatusOK, w.Code, "body of %d bytes", len(body))

			s := decodeSnippet(t, w)
			assert.Equal(t, strings.Repeat(tt.want, 50000), s.Content)
		})
	}
}
