package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"llmchat/backend/internal/validate"
)

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// completionErrorResponse is the flat error body of the completion
// endpoint, which the chat client reads before any stream opens.
type completionErrorResponse struct {
	Error     string                `json:"error"`
	Details   []validate.FieldError `json:"details,omitempty"`
	Remaining *int                  `json:"remaining,omitempty"`
}

const (
	msgInvalidBody    = "Invalid request body"
	msgAuthRequired   = "Authentication required"
	msgCreditsExhaust = "Daily credit limit reached"
	msgInternalError  = "Internal server error"
)

func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return err
	}
	if decoder.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

func writeCompletionError(w http.ResponseWriter, status int, body completionErrorResponse) {
	writeJSON(w, status, body)
}
