package validate

import (
	"errors"
	"testing"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New()
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	return v
}

func TestCompletionRequestAcceptsValidBody(t *testing.T) {
	t.Parallel()

	v := newValidator(t)
	req, err := v.CompletionRequest([]byte(`{
		"mode": "chat",
		"prompt": "What is SSE?",
		"threadId": "t1",
		"threadItemId": "i1",
		"parentThreadItemId": "p1",
		"messages": [{"role": "user", "content": "hi"}, {"role": "assistant", "content": "hello"}],
		"webSearch": true,
		"customInstructions": "be brief"
	}`))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if req.Mode != "chat" || req.ThreadID != "t1" || req.ThreadItemID != "i1" || req.ParentThreadItemID != "p1" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if len(req.Messages) != 2 || req.Messages[1].Role != "assistant" {
		t.Fatalf("unexpected messages: %+v", req.Messages)
	}
	if !req.WebSearch || req.CustomInstructions != "be brief" {
		t.Fatalf("unexpected flags: %+v", req)
	}
}

func TestCompletionRequestReportsMissingFields(t *testing.T) {
	t.Parallel()

	v := newValidator(t)
	_, err := v.CompletionRequest([]byte(`{"mode":"chat","prompt":"hi"}`))

	var verr *Error
	if !errors.As(err, &verr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	fields := map[string]bool{}
	for _, d := range verr.Details {
		fields[d.Field] = true
		if d.Message == "" {
			t.Fatalf("detail without message: %+v", d)
		}
	}
	if !fields["threadId"] || !fields["threadItemId"] {
		t.Fatalf("expected threadId and threadItemId details, got %+v", verr.Details)
	}
}

func TestCompletionRequestRejectsUnknownFieldsAndRoles(t *testing.T) {
	t.Parallel()

	v := newValidator(t)
	_, err := v.CompletionRequest([]byte(`{
		"mode": "chat", "prompt": "hi", "threadId": "t", "threadItemId": "i",
		"model": "gpt",
		"messages": [{"role": "tool", "content": "x"}]
	}`))

	var verr *Error
	if !errors.As(err, &verr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	fields := map[string]bool{}
	for _, d := range verr.Details {
		fields[d.Field] = true
	}
	if !fields["model"] {
		t.Fatalf("expected unknown property detail, got %+v", verr.Details)
	}
	if !fields["messages.0.role"] {
		t.Fatalf("expected role enum detail, got %+v", verr.Details)
	}
}

func TestCompletionRequestRejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	v := newValidator(t)
	for _, body := range []string{``, `{"mode":`, `[1,2]`} {
		_, err := v.CompletionRequest([]byte(body))
		var verr *Error
		if !errors.As(err, &verr) || len(verr.Details) == 0 {
			t.Fatalf("body %q: expected validation error, got %v", body, err)
		}
	}
}

func TestCompletionRequestRejectsBlankPrompt(t *testing.T) {
	t.Parallel()

	v := newValidator(t)
	_, err := v.CompletionRequest([]byte(`{"mode":"chat","prompt":"   ","threadId":"t","threadItemId":"i"}`))
	var verr *Error
	if !errors.As(err, &verr) || verr.Details[0].Field != "prompt" {
		t.Fatalf("expected blank prompt error, got %v", err)
	}
}
