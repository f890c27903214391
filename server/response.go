package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/ronittamrakar/Xordon-sub048/errors"
)

// ErrorResponse represents an API error with optional structured details
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"` // Structured error context from errors.GetAllDetails()
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}

// writeWrappedError logs the underlying error and writes a JSON error
// response carrying the message plus any structured details on the error.
// Not-found errors are downgraded to 404 regardless of the suggested status.
func writeWrappedError(w http.ResponseWriter, log *zap.SugaredLogger, err error, message string, status int) {
	if errors.IsNotFoundError(err) {
		status = http.StatusNotFound
	} else if errors.Is(err, errors.ErrInvalidRequest) {
		status = http.StatusBadRequest
	}

	log.Errorw(message, "error", err, "status", status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   fmt.Sprintf("%s: %v", message, err),
		Details: errors.GetAllDetails(err),
	})
}

// readJSON reads and decodes a JSON request body
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return err
	}
	return nil
}

// requireMethod checks if the request method matches the expected method
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}
