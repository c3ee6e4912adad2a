// Package responses writes the JSON response envelope shared by every HTTP
// endpoint. It is thread-safe and never panics, suitable for production use.
package responses

import (
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// Envelope is the uniform response body:
// {success, message, data?, error?, timestamp, correlation_id?}.
type Envelope struct {
	Success       bool      `json:"success"`
	Message       string    `json:"message,omitempty"`
	Data          any       `json:"data,omitempty"`
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// JSON writes an arbitrary envelope with the given status code.
func JSON(w http.ResponseWriter, statusCode int, envelope Envelope) {
	envelope.Timestamp = time.Now().UTC()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(envelope); err != nil {
		// Log but never panic; part of the body may already be written.
		log.Printf("error encoding JSON response: %v", err)
	}
}

// OK writes a success envelope.
func OK(w http.ResponseWriter, statusCode int, message string, data any, correlationID string) {
	JSON(w, statusCode, Envelope{
		Success:       true,
		Message:       message,
		Data:          data,
		CorrelationID: correlationID,
	})
}

// Fail writes an error envelope.
func Fail(w http.ResponseWriter, statusCode int, errMsg, correlationID string) {
	JSON(w, statusCode, Envelope{
		Success:       false,
		Error:         errMsg,
		CorrelationID: correlationID,
	})
}
