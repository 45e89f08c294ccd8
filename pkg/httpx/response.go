// Package httpx holds small JSON response helpers shared by the read API.
package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/parkpulse/parkpulse/pkg/storage"
)

// RespondJSON writes data as a JSON body with the given status code.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The status line is already out; an encode failure here is the
	// client's disconnect, not something we can report.
	_ = json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RespondError writes an error body, mapping storage.ErrNotFound to 404.
func RespondError(w http.ResponseWriter, status int, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		status = http.StatusNotFound
	}
	RespondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: err.Error(),
	})
}

// RespondErrorString writes an error body from a plain message.
func RespondErrorString(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}
