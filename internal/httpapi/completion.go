package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"llmchat/backend/internal/completion"
	"llmchat/backend/internal/metrics"
	"llmchat/backend/internal/stream"
	"llmchat/backend/internal/validate"
)

const maxCompletionBodyBytes = 1 << 20

// Completion validates the request, charges credits and then streams the
// answer as server-sent events. Every failure before the stream opens is
// a JSON error; after that failures travel in the terminal frame.
func (h Handler) Completion(w http.ResponseWriter, r *http.Request) {
	streaming := false
	defer func() {
		if recovered := recover(); recovered != nil {
			if recovered == http.ErrAbortHandler {
				panic(recovered)
			}
			log.Printf("completion panic streaming=%t err=%v", streaming, recovered)
			if !streaming {
				writeCompletionError(w, http.StatusInternalServerError, completionErrorResponse{Error: msgInternalError})
			}
		}
	}()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCompletionBodyBytes))
	if err != nil {
		writeCompletionError(w, http.StatusBadRequest, completionErrorResponse{
			Error:   msgInvalidBody,
			Details: []validate.FieldError{{Field: "(root)", Message: "request body could not be read"}},
		})
		return
	}

	req, err := h.validator.CompletionRequest(body)
	if err != nil {
		resp := completionErrorResponse{Error: msgInvalidBody}
		var verr *validate.Error
		if errors.As(err, &verr) {
			resp.Details = verr.Details
		}
		writeCompletionError(w, http.StatusBadRequest, resp)
		return
	}

	mode, ok := h.modes.Lookup(req.Mode)
	if !ok {
		writeCompletionError(w, http.StatusBadRequest, completionErrorResponse{
			Error:   msgInvalidBody,
			Details: []validate.FieldError{{Field: "mode", Message: fmt.Sprintf("unknown mode %q", req.Mode)}},
		})
		return
	}

	user, signedIn := sessionUserFromContext(r.Context())
	if mode.AuthRequired && !signedIn {
		writeCompletionError(w, http.StatusUnauthorized, completionErrorResponse{Error: msgAuthRequired})
		return
	}

	if h.credits != nil {
		subject, authenticated := h.creditSubject(r)
		balance, allowed, err := h.credits.Consume(r.Context(), subject, authenticated, mode.CreditCost)
		if err != nil {
			log.Printf("completion credits failed subject=%s err=%v", subject, err)
			writeCompletionError(w, http.StatusInternalServerError, completionErrorResponse{Error: msgInternalError})
			return
		}
		if !allowed {
			metrics.ObserveCreditDenial(authenticated)
			remaining := balance.Remaining
			writeCompletionError(w, http.StatusTooManyRequests, completionErrorResponse{Error: msgCreditsExhaust, Remaining: &remaining})
			return
		}
	}

	creq := completion.Request{
		Mode:               mode,
		Prompt:             req.Prompt,
		Messages:           make([]completion.Message, 0, len(req.Messages)),
		ThreadID:           req.ThreadID,
		ThreadItemID:       req.ThreadItemID,
		ParentThreadItemID: req.ParentThreadItemID,
		WebSearch:          req.WebSearch,
		CustomInstructions: req.CustomInstructions,
		Geo:                geoFromHeaders(r.Header),
	}
	for _, m := range req.Messages {
		creq.Messages = append(creq.Messages, completion.Message{Role: m.Role, Content: m.Content})
	}
	if signedIn {
		creq.UserID = user.ID
	}

	ids := stream.Correlation{
		ThreadID:           req.ThreadID,
		ThreadItemID:       req.ThreadItemID,
		ParentThreadItemID: req.ParentThreadItemID,
	}
	opts := stream.Options{HeartbeatInterval: h.cfg.HeartbeatInterval, OnHeartbeat: metrics.ObserveHeartbeat}

	log.Printf("completion start %s user_id=%s", creq, creq.UserID)
	finish := metrics.StreamOpened(mode.ID)
	started := time.Now()
	streaming = true
	status, err := stream.Serve(w, r, ids, opts, withTimeout(h.executor.For(creq), h.cfg.CompletionTimeout))
	finish(string(status))
	if err != nil && !stream.IsDisconnect(err) {
		log.Printf("completion stream failed %s status=%s err=%v", creq, status, err)
		return
	}
	log.Printf("completion finish %s status=%s duration_ms=%d", creq, status, time.Since(started).Milliseconds())
}

// CompletionOptions answers a bare OPTIONS on the completion route with
// the event-stream headers and no body.
func (h Handler) CompletionOptions(w http.ResponseWriter, _ *http.Request) {
	stream.WriteHeaders(w)
	w.WriteHeader(http.StatusOK)
}

// withTimeout bounds a completion. Running past the limit ends the stream
// with an error rather than an abort.
func withTimeout(exec stream.Executor, limit time.Duration) stream.Executor {
	if limit <= 0 {
		return exec
	}
	return stream.ExecutorFunc(func(ctx context.Context, s *stream.Session) error {
		ctx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		err := exec.Execute(ctx, s)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !s.Aborted() {
			return fmt.Errorf("completion timed out after %s", limit)
		}
		return err
	})
}

// geoFromHeaders reads the location headers set by the edge network.
func geoFromHeaders(h http.Header) completion.Geo {
	city := strings.TrimSpace(h.Get("X-Vercel-IP-City"))
	if decoded, err := url.QueryUnescape(city); err == nil {
		city = decoded
	}
	return completion.Geo{
		City:    city,
		Region:  strings.TrimSpace(h.Get("X-Vercel-IP-Country-Region")),
		Country: strings.TrimSpace(h.Get("X-Vercel-IP-Country")),
	}
}
