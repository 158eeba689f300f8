package validate

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed completion_request.schema.json
var completionRequestSchema []byte

const rootField = "(root)"

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is a schema-checked completion body.
type CompletionRequest struct {
	Mode               string    `json:"mode"`
	Prompt             string    `json:"prompt"`
	ThreadID           string    `json:"threadId"`
	ThreadItemID       string    `json:"threadItemId"`
	ParentThreadItemID string    `json:"parentThreadItemId,omitempty"`
	Messages           []Message `json:"messages,omitempty"`
	WebSearch          bool      `json:"webSearch,omitempty"`
	ShowSuggestions    bool      `json:"showSuggestions,omitempty"`
	CustomInstructions string    `json:"customInstructions,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error lists every schema violation found in one body.
type Error struct {
	Details []FieldError
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		parts = append(parts, d.Field+": "+d.Message)
	}
	return "invalid request body: " + strings.Join(parts, "; ")
}

type Validator struct {
	schema *gojsonschema.Schema
}

func New() (*Validator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(completionRequestSchema))
	if err != nil {
		return nil, fmt.Errorf("compile completion request schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// CompletionRequest validates body and decodes it. A failure is always
// returned as *Error, including bodies that are not JSON at all.
func (v *Validator) CompletionRequest(body []byte) (CompletionRequest, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return CompletionRequest{}, &Error{Details: []FieldError{{Field: rootField, Message: "request body is required"}}}
	}

	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return CompletionRequest{}, &Error{Details: []FieldError{{Field: rootField, Message: "request body must be valid JSON"}}}
	}
	if !result.Valid() {
		return CompletionRequest{}, &Error{Details: fieldErrors(result.Errors())}
	}

	var req CompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return CompletionRequest{}, &Error{Details: []FieldError{{Field: rootField, Message: err.Error()}}}
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return CompletionRequest{}, &Error{Details: []FieldError{{Field: "prompt", Message: "prompt must not be blank"}}}
	}
	return req, nil
}

func fieldErrors(errs []gojsonschema.ResultError) []FieldError {
	out := make([]FieldError, 0, len(errs))
	for _, e := range errs {
		out = append(out, FieldError{Field: fieldName(e), Message: e.Description()})
	}
	return out
}

// fieldName points required and additional-property errors at the
// property itself instead of its parent object.
func fieldName(e gojsonschema.ResultError) string {
	field := e.Field()
	switch e.Type() {
	case "required", "additional_property_not_allowed":
		property, _ := e.Details()["property"].(string)
		if property == "" {
			return field
		}
		if field == "" || field == rootField {
			return property
		}
		return field + "." + property
	}
	return field
}
