package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Response is the envelope every vidcat JSON endpoint answers with.
type Response struct {
	Status     string `json:"status"`
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
}

// WriteJSON writes data as JSON with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// WriteSuccess wraps data in a success envelope.
func WriteSuccess(w http.ResponseWriter, status int, data any) {
	WriteJSON(w, status, Response{
		Status:     StatusSuccess,
		StatusCode: status,
		Data:       data,
	})
}

// WriteError wraps message in an error envelope.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, Response{
		Status:     StatusError,
		StatusCode: status,
		Error:      message,
	})
}
