package dashboard

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func TestActor(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts/a-1/acknowledge", nil)
	assert.Equal(t, DefaultActor, actor(req))

	req.Header.Set("X-Actor", "oncall")
	assert.Equal(t, "oncall", actor(req))
}

func TestRestoreRejectsMalformedBackup(t *testing.T) {
	// The payload is rejected while reading the opening token, before any
	// repository access.
	h := NewHandler(nil, nil, nil, nil, nil)
	r := chi.NewRouter()
	h.Register(r)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/restore",
		strings.NewReader(`{"not":"an array"}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid backup payload")
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts?hours=48&limit=abc", nil)

	assert.Equal(t, 48, queryInt(req, "hours", 24))
	assert.Equal(t, 100, queryInt(req, "limit", 100))
	assert.Equal(t, 10, queryInt(req, "missing", 10))
}
