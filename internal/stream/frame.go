package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Status is the outcome carried by the terminal frame.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
	StatusError     Status = "error"
)

const doneEvent = "done"

// Correlation identifies the thread item a session answers.
type Correlation struct {
	ThreadID           string
	ThreadItemID       string
	ParentThreadItemID string
}

// Done is the terminal data frame payload.
type Done struct {
	Type               string `json:"type"`
	Status             Status `json:"status"`
	ThreadID           string `json:"threadId"`
	ThreadItemID       string `json:"threadItemId"`
	ParentThreadItemID string `json:"parentThreadItemId"`
	Error              string `json:"error,omitempty"`
}

func newDone(ids Correlation, status Status, message string) Done {
	return Done{
		Type:               doneEvent,
		Status:             status,
		ThreadID:           ids.ThreadID,
		ThreadItemID:       ids.ThreadItemID,
		ParentThreadItemID: ids.ParentThreadItemID,
		Error:              message,
	}
}

// WriteHeaders sets the event-stream response headers.
func WriteHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// EncodeComment renders a comment frame. Conforming clients ignore it.
func EncodeComment(text string) []byte {
	text = strings.ReplaceAll(strings.ReplaceAll(text, "\r", " "), "\n", " ")
	return []byte(": " + text + "\n\n")
}

// EncodeData renders a named data frame with a JSON payload.
func EncodeData(event string, payload any) ([]byte, error) {
	event = strings.TrimSpace(event)
	if event == "" || strings.ContainsAny(event, "\r\n") {
		return nil, fmt.Errorf("invalid event name %q", event)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", event, err)
	}

	var buf bytes.Buffer
	buf.Grow(len(event) + len(data) + 16)
	buf.WriteString("event: ")
	buf.WriteString(event)
	buf.WriteString("\ndata: ")
	buf.Write(data)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}
