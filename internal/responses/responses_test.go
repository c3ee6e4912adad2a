package responses

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOK(t *testing.T) {
	rec := httptest.NewRecorder()
	OK(rec, http.StatusAccepted, "event accepted", map[string]string{"event_id": "e-1"}, "corr-1")

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var envelope Envelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	assert.True(t, envelope.Success)
	assert.Equal(t, "event accepted", envelope.Message)
	assert.Equal(t, "corr-1", envelope.CorrelationID)
	assert.False(t, envelope.Timestamp.IsZero())
	assert.Empty(t, envelope.Error)

	data := envelope.Data.(map[string]any)
	assert.Equal(t, "e-1", data["event_id"])
}

func TestFail(t *testing.T) {
	rec := httptest.NewRecorder()
	Fail(rec, http.StatusBadRequest, "source is required", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var envelope Envelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	assert.False(t, envelope.Success)
	assert.Equal(t, "source is required", envelope.Error)
	assert.Nil(t, envelope.Data)
}

func TestOmittedFields(t *testing.T) {
	rec := httptest.NewRecorder()
	OK(rec, http.StatusOK, "", nil, "")

	body := rec.Body.String()
	assert.NotContains(t, body, "message")
	assert.NotContains(t, body, "data")
	assert.NotContains(t, body, "error")
	assert.NotContains(t, body, "correlation_id")
}
