package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"llmchat/backend/internal/auth"
	"llmchat/backend/internal/completion"
	"llmchat/backend/internal/config"
	"llmchat/backend/internal/credits"
	"llmchat/backend/internal/session"
	"llmchat/backend/internal/threads"
	"llmchat/backend/internal/validate"
)

// Deps are the collaborators a Handler serves requests with. Credits may
// be nil to disable the daily budget.
type Deps struct {
	Config    config.Config
	DB        *sql.DB
	Sessions  session.Store
	Verifier  auth.Verifier
	Threads   threads.Store
	Modes     config.Modes
	Credits   *credits.Limiter
	Executor  *completion.Executor
	Validator *validate.Validator
}

type Handler struct {
	cfg       config.Config
	db        *sql.DB
	sessions  session.Store
	verifier  auth.Verifier
	threads   threads.Store
	modes     config.Modes
	credits   *credits.Limiter
	executor  *completion.Executor
	validator *validate.Validator
}

func NewHandler(d Deps) Handler {
	return Handler{
		cfg:       d.Config,
		db:        d.DB,
		sessions:  d.Sessions,
		verifier:  d.Verifier,
		threads:   d.Threads,
		modes:     d.Modes,
		credits:   d.Credits,
		executor:  d.Executor,
		validator: d.Validator,
	}
}

type contextKey string

const sessionUserContextKey contextKey = "session_user"

func (h Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.PingContext(ctx); err != nil {
		log.Printf("healthz db ping failed err=%v", err)
		writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database is unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type authGoogleRequest struct {
	IDToken string `json:"idToken"`
}

func (h Handler) AuthGoogle(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.AuthRequired {
		writeJSON(w, http.StatusOK, map[string]any{"user": session.Anonymous()})
		return
	}

	var req authGoogleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	identity, err := h.verifier.Identify(r.Context(), req.IDToken, r.Header)
	if errors.Is(err, auth.ErrNotAllowed) {
		writeError(w, http.StatusForbidden, "email_not_allowlisted", "email is not allowed")
		return
	}
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_google_token", err.Error())
		return
	}

	user, err := h.sessions.UpsertUser(r.Context(), identity.GoogleSubject, identity.Email, identity.Name, identity.AvatarURL)
	if err != nil {
		log.Printf("auth upsert user failed err=%v", err)
		writeError(w, http.StatusInternalServerError, "db_error", "failed to upsert user")
		return
	}

	token, expiresAt, err := h.sessions.CreateSession(r.Context(), user.ID, h.cfg.SessionTTL)
	if err != nil {
		log.Printf("auth create session failed user_id=%s err=%v", user.ID, err)
		writeError(w, http.StatusInternalServerError, "db_error", "failed to create session")
		return
	}

	h.setSessionCookie(w, token, expiresAt)
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h Handler) AuthMe(w http.ResponseWriter, r *http.Request) {
	user, ok := sessionUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h Handler) AuthLogout(w http.ResponseWriter, r *http.Request) {
	if rawToken, err := readSessionCookie(r, h.cfg.SessionCookieName); err == nil {
		if err := h.sessions.DeleteSession(r.Context(), rawToken); err != nil {
			log.Printf("auth logout delete session failed err=%v", err)
		}
	}
	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h Handler) ListModes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"modes": h.modes.List()})
}

func (h Handler) Credits(w http.ResponseWriter, r *http.Request) {
	if h.credits == nil {
		writeJSON(w, http.StatusOK, map[string]any{"credits": credits.Balance{Unlimited: true}})
		return
	}
	subject, authenticated := h.creditSubject(r)
	balance, err := h.credits.Remaining(r.Context(), subject, authenticated)
	if err != nil {
		log.Printf("credits read failed subject=%s err=%v", subject, err)
		writeError(w, http.StatusInternalServerError, "credits_error", "failed to read credits")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"credits": balance})
}

// RequireSession rejects requests without a valid session cookie. With
// sign-in disabled every caller is the anonymous user.
func (h Handler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := h.resolveUser(r)
		switch {
		case errors.Is(err, session.ErrNotFound):
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid session")
			return
		case err != nil:
			log.Printf("resolve session failed err=%v", err)
			writeError(w, http.StatusInternalServerError, "db_error", "failed to resolve session")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionUserContextKey, user)))
	})
}

// OptionalSession attaches the session user when there is one and lets
// the request through either way.
func (h Handler) OptionalSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := h.resolveUser(r)
		if err != nil {
			if !errors.Is(err, session.ErrNotFound) {
				log.Printf("resolve optional session failed err=%v", err)
			}
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionUserContextKey, user)))
	})
}

func (h Handler) resolveUser(r *http.Request) (session.User, error) {
	if !h.cfg.AuthRequired {
		return session.Anonymous(), nil
	}
	rawToken, err := readSessionCookie(r, h.cfg.SessionCookieName)
	if err != nil {
		return session.User{}, session.ErrNotFound
	}
	return h.sessions.ResolveSession(r.Context(), rawToken)
}

// creditSubject keys the daily budget by user, or by client address for
// callers without an account.
func (h Handler) creditSubject(r *http.Request) (string, bool) {
	if user, ok := sessionUserFromContext(r.Context()); ok && user.ID != session.AnonymousUserID {
		return user.ID, true
	}
	return "ip:" + clientIP(r), false
}

func (h Handler) setSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		Expires:  expiresAt,
	})
}

func (h Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

func readSessionCookie(r *http.Request, name string) (string, error) {
	cookie, err := r.Cookie(name)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(cookie.Value) == "" {
		return "", errors.New("empty session cookie")
	}
	return cookie.Value, nil
}

func sessionUserFromContext(ctx context.Context) (session.User, bool) {
	user, ok := ctx.Value(sessionUserContextKey).(session.User)
	return user, ok
}

// clientIP reads the address chi's RealIP middleware already normalized.
func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
