package json

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dgellow/signin-gate/internal/log"
)

// ErrorResponse is the body of every JSON error the gate returns. Error is a
// stable machine-readable code, Message is safe to show to end users.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WriteResponse encodes data and writes it with statusCode. Everything the
// gate returns describes the caller's session, so it is never cached.
// If data cannot be encoded nothing is sent yet and a bare 500 goes out.
func WriteResponse(w http.ResponseWriter, statusCode int, data any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		log.LogErrorWithFields("json", "Failed to encode response", map[string]any{
			"status": statusCode,
			"error":  err.Error(),
		})
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return err
	}

	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	_, err := w.Write(buf.Bytes())
	return err
}

// Write writes data with 200 OK
func Write(w http.ResponseWriter, data any) error {
	return WriteResponse(w, http.StatusOK, data)
}

// WriteError writes an ErrorResponse
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	_ = WriteResponse(w, statusCode, ErrorResponse{Error: code, Message: message})
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, "unauthorized", message)
}

func WriteNotFound(w http.ResponseWriter) {
	WriteError(w, http.StatusNotFound, "not_found", "Not found")
}

func WriteInternalServerError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, "internal_server_error", message)
}

func WriteServiceUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusServiceUnavailable, "service_unavailable", message)
}

// WriteMethodNotAllowed answers 405 and lists the accepted methods in Allow
func WriteMethodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
}
