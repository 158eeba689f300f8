package completion

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"llmchat/backend/internal/brave"
	"llmchat/backend/internal/config"
	"llmchat/backend/internal/openrouter"
	"llmchat/backend/internal/stream"
	"llmchat/backend/internal/threads"
)

const (
	searchResultCount = 6
	searchTimeout     = 20 * time.Second
	persistTimeout    = 5 * time.Second

	stepSearch = "search"
)

// Frame event names emitted while a completion runs.
const (
	EventStatus    = "status"
	EventSteps     = "steps"
	EventSources   = "sources"
	EventAnswer    = "answer"
	EventReasoning = "reasoning"
	EventUsage     = "usage"
)

const (
	framePending   = "PENDING"
	frameCompleted = "COMPLETED"
	frameError     = "ERROR"
)

type Message struct {
	Role    string
	Content string
}

// Geo is the caller's approximate location as reported by the edge.
type Geo struct {
	City    string `json:"city,omitempty"`
	Region  string `json:"region,omitempty"`
	Country string `json:"country,omitempty"`
}

func (g Geo) Label() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{g.City, g.Region, g.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Request is everything the executor needs for one completion. An empty
// UserID means nothing is persisted.
type Request struct {
	Mode               config.Mode
	Prompt             string
	Messages           []Message
	ThreadID           string
	ThreadItemID       string
	ParentThreadItemID string
	WebSearch          bool
	CustomInstructions string
	UserID             string
	Geo                Geo
}

// Emitter is the write side of a stream session.
type Emitter interface {
	Emit(event string, payload any) error
	Aborted() bool
}

type Streamer interface {
	StreamChatCompletion(ctx context.Context, req openrouter.StreamRequest, handlers openrouter.StreamHandlers) error
}

type ThreadStore interface {
	EnsureThread(ctx context.Context, userID, threadID, firstQuery, mode string) error
	SaveItem(ctx context.Context, userID string, item threads.Item) error
}

type StatusFrame struct {
	Status string `json:"status"`
}

type StepFrame struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Status  string   `json:"status"`
	Queries []string `json:"queries,omitempty"`
	Error   string   `json:"error,omitempty"`
}

type SourcesFrame struct {
	Sources []threads.Source `json:"sources"`
}

type AnswerFrame struct {
	Delta  string `json:"delta,omitempty"`
	Text   string `json:"text,omitempty"`
	Status string `json:"status"`
}

type ReasoningFrame struct {
	Delta string `json:"delta"`
}

type Executor struct {
	llm    Streamer
	search brave.Searcher
	store  ThreadStore
	now    func() time.Time
}

// NewExecutor wires the collaborators. search and store may be nil, which
// disables web search and persistence respectively.
func NewExecutor(llm Streamer, search brave.Searcher, store ThreadStore) *Executor {
	return &Executor{llm: llm, search: search, store: store, now: time.Now}
}

// For binds req to the executor so it can be served on a stream.
func (e *Executor) For(req Request) stream.Executor {
	return stream.ExecutorFunc(func(ctx context.Context, s *stream.Session) error {
		return e.Run(ctx, s, req)
	})
}

// Run performs one completion, emitting progress frames through em. It
// returns context.Canceled once em reports the session aborted.
func (e *Executor) Run(ctx context.Context, em Emitter, req Request) (err error) {
	run := &runState{req: req}

	e.persistStart(ctx, req)
	defer func() {
		e.persistFinish(ctx, em, run, err)
	}()

	if err := em.Emit(EventStatus, StatusFrame{Status: framePending}); err != nil {
		return err
	}

	if req.WebSearch && req.Mode.WebSearch && e.search != nil {
		if err := e.runSearch(ctx, em, run); err != nil {
			return err
		}
	}
	if em.Aborted() {
		return context.Canceled
	}

	system := buildSystemPrompt(req.Mode.SystemPrompt, e.now(), req.Geo, req.CustomInstructions, run.results)
	streamReq := openrouter.StreamRequest{
		Model:    req.Mode.Model,
		Messages: buildMessages(system, req.Messages, req.Prompt),
	}
	if effort := strings.TrimSpace(req.Mode.ReasoningEffort); effort != "" {
		streamReq.Reasoning = &openrouter.ReasoningConfig{Effort: effort}
	}

	err = e.llm.StreamChatCompletion(ctx, streamReq, openrouter.StreamHandlers{
		OnDelta: func(delta string) error {
			if em.Aborted() {
				return context.Canceled
			}
			run.answer.WriteString(delta)
			return em.Emit(EventAnswer, AnswerFrame{Delta: delta, Status: framePending})
		},
		OnReasoning: func(delta string) error {
			if em.Aborted() {
				return context.Canceled
			}
			run.reasoning.WriteString(delta)
			return em.Emit(EventReasoning, ReasoningFrame{Delta: delta})
		},
		OnUsage: func(usage openrouter.Usage) error {
			return em.Emit(EventUsage, usage)
		},
	})
	if em.Aborted() {
		return context.Canceled
	}
	if err != nil {
		return err
	}

	return em.Emit(EventAnswer, AnswerFrame{Text: run.answer.String(), Status: frameCompleted})
}

type runState struct {
	req       Request
	results   []brave.Result
	answer    strings.Builder
	reasoning strings.Builder
}

func (r *runState) sources() []threads.Source {
	out := make([]threads.Source, 0, len(r.results))
	for i, res := range r.results {
		out = append(out, threads.Source{Title: res.Title, URL: res.URL, Snippet: res.Snippet, Index: i + 1})
	}
	return out
}

func (e *Executor) runSearch(ctx context.Context, em Emitter, run *runState) error {
	query := searchQuery(run.req.Prompt, run.req.Geo)
	step := StepFrame{ID: stepSearch, Title: "Searching the web", Status: framePending, Queries: []string{query}}
	if err := em.Emit(EventSteps, step); err != nil {
		return err
	}

	searchCtx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()
	results, err := e.search.Search(searchCtx, brave.Query{Text: query, Count: searchResultCount, Country: run.req.Geo.Country})
	if em.Aborted() {
		return context.Canceled
	}
	if err != nil {
		log.Printf("completion search failed thread_id=%s item_id=%s err=%v", run.req.ThreadID, run.req.ThreadItemID, err)
		step.Status = frameError
		step.Error = "web search unavailable"
		return em.Emit(EventSteps, step)
	}

	run.results = results
	if err := em.Emit(EventSources, SourcesFrame{Sources: run.sources()}); err != nil {
		return err
	}
	step.Status = frameCompleted
	return em.Emit(EventSteps, step)
}

func (e *Executor) persistStart(ctx context.Context, req Request) {
	if e.store == nil || req.UserID == "" {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := e.store.EnsureThread(pctx, req.UserID, req.ThreadID, req.Prompt, req.Mode.ID); err != nil {
		log.Printf("completion persist failed stage=thread thread_id=%s user_id=%s err=%v", req.ThreadID, req.UserID, err)
		return
	}
	if err := e.store.SaveItem(pctx, req.UserID, newItem(req, threads.ItemPending)); err != nil {
		log.Printf("completion persist failed stage=pending thread_id=%s item_id=%s err=%v", req.ThreadID, req.ThreadItemID, err)
	}
}

// persistFinish records the outcome. It runs on a detached context because
// an aborted request still needs its partial answer saved.
func (e *Executor) persistFinish(ctx context.Context, em Emitter, run *runState, runErr error) {
	if e.store == nil || run.req.UserID == "" {
		return
	}

	item := newItem(run.req, threads.ItemCompleted)
	item.Answer = run.answer.String()
	item.Reasoning = run.reasoning.String()
	item.Sources = run.sources()
	switch {
	case em.Aborted():
		item.Status = threads.ItemAborted
	case runErr != nil:
		item.Status = threads.ItemError
		item.Error = stream.ErrorMessage(runErr)
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := e.store.SaveItem(pctx, run.req.UserID, item); err != nil {
		log.Printf("completion persist failed stage=%s thread_id=%s item_id=%s err=%v", strings.ToLower(string(item.Status)), run.req.ThreadID, run.req.ThreadItemID, err)
	}
}

func newItem(req Request, status threads.ItemStatus) threads.Item {
	return threads.Item{
		ID:       req.ThreadItemID,
		ThreadID: req.ThreadID,
		ParentID: req.ParentThreadItemID,
		Mode:     req.Mode.ID,
		Query:    req.Prompt,
		Status:   status,
	}
}

var _ Emitter = (*stream.Session)(nil)

func (r Request) String() string {
	return fmt.Sprintf("mode=%s thread_id=%s item_id=%s web_search=%t", r.Mode.ID, r.ThreadID, r.ThreadItemID, r.WebSearch)
}
