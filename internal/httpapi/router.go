package httpapi

import (
	"database/sql"
	"fmt"
	"net/http"

	"llmchat/backend/internal/auth"
	"llmchat/backend/internal/brave"
	"llmchat/backend/internal/completion"
	"llmchat/backend/internal/config"
	"llmchat/backend/internal/credits"
	"llmchat/backend/internal/metrics"
	"llmchat/backend/internal/openrouter"
	"llmchat/backend/internal/session"
	"llmchat/backend/internal/stream"
	"llmchat/backend/internal/threads"
	"llmchat/backend/internal/validate"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const completionPath = "/v1/completion"

func NewRouter(cfg config.Config, db *sql.DB, modes config.Modes, limiter *credits.Limiter) (http.Handler, error) {
	validator, err := validate.New()
	if err != nil {
		return nil, fmt.Errorf("build validator: %w", err)
	}

	threadStore := threads.NewStore(db)

	var search brave.Searcher
	if braveClient := brave.NewClient(cfg, nil); braveClient.Configured() {
		search = brave.WithMinInterval(braveClient, cfg.BraveMinInterval)
	}
	executor := completion.NewExecutor(openrouter.NewClient(cfg, nil), search, threadStore)

	h := NewHandler(Deps{
		Config:    cfg,
		DB:        db,
		Sessions:  session.NewStore(db),
		Verifier:  auth.NewVerifier(cfg),
		Threads:   threadStore,
		Modes:     modes,
		Credits:   limiter,
		Executor:  executor,
		Validator: validator,
	})
	return h.Routes(), nil
}

func (h Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(streamPreflightHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   append([]string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"}, auth.TestHeaders...),
		ExposedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Route("/auth", func(authR chi.Router) {
			authR.Post("/google", h.AuthGoogle)
			authR.With(h.RequireSession).Get("/me", h.AuthMe)
			authR.With(h.RequireSession).Post("/logout", h.AuthLogout)
		})

		v1.Get("/modes", h.ListModes)

		v1.Group(func(o chi.Router) {
			o.Use(h.OptionalSession)
			o.Get("/credits", h.Credits)
			o.Post("/completion", h.Completion)
			o.Options("/completion", h.CompletionOptions)
		})

		v1.Group(func(p chi.Router) {
			p.Use(h.RequireSession)
			p.Get("/threads", h.ListThreads)
			p.Post("/threads", h.CreateThread)
			p.Delete("/threads", h.DeleteAllThreads)
			p.Get("/threads/{threadID}", h.GetThread)
			p.Patch("/threads/{threadID}", h.UpdateThread)
			p.Delete("/threads/{threadID}", h.DeleteThread)
			p.Get("/threads/{threadID}/items", h.ListThreadItems)
		})
	})

	return r
}

// streamPreflightHeaders adds the event-stream headers to OPTIONS on the
// completion route before the CORS middleware answers the preflight.
func streamPreflightHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions && r.URL.Path == completionPath {
			stream.WriteHeaders(w)
		}
		next.ServeHTTP(w, r)
	})
}
