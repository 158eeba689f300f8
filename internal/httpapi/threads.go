package httpapi

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"llmchat/backend/internal/threads"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type createThreadRequest struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Mode  string `json:"mode"`
}

type updateThreadRequest struct {
	Title  *string `json:"title"`
	Pinned *bool   `json:"pinned"`
}

func (h Handler) ListThreads(w http.ResponseWriter, r *http.Request) {
	user, ok := sessionUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}

	list, err := h.threads.ListThreads(r.Context(), user.ID)
	if err != nil {
		log.Printf("list threads failed user_id=%s err=%v", user.ID, err)
		writeError(w, http.StatusInternalServerError, "db_error", "failed to list threads")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": list})
}

func (h Handler) CreateThread(w http.ResponseWriter, r *http.Request) {
	user, ok := sessionUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}

	var req createThreadRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	threadID := strings.TrimSpace(req.ID)
	if threadID == "" {
		threadID = uuid.NewString()
	} else if _, err := h.threads.GetThread(r.Context(), user.ID, threadID); err == nil {
		writeError(w, http.StatusConflict, "thread_exists", "thread already exists")
		return
	}
	if mode := strings.TrimSpace(req.Mode); mode != "" {
		if _, ok := h.modes.Lookup(mode); !ok {
			writeError(w, http.StatusBadRequest, "invalid_mode", "unknown mode")
			return
		}
	}

	thread, err := h.threads.CreateThread(r.Context(), user.ID, threadID, req.Title, req.Mode)
	if err != nil {
		log.Printf("create thread failed user_id=%s thread_id=%s err=%v", user.ID, threadID, err)
		writeError(w, http.StatusInternalServerError, "db_error", "failed to create thread")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"thread": thread})
}

func (h Handler) GetThread(w http.ResponseWriter, r *http.Request) {
	user, ok := sessionUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}

	thread, err := h.threads.GetThread(r.Context(), user.ID, chi.URLParam(r, "threadID"))
	if err != nil {
		h.writeThreadError(w, "get thread", user.ID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"thread": thread})
}

func (h Handler) UpdateThread(w http.ResponseWriter, r *http.Request) {
	user, ok := sessionUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}

	var req updateThreadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Title == nil && req.Pinned == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "title or pinned is required")
		return
	}

	thread, err := h.threads.UpdateThread(r.Context(), user.ID, chi.URLParam(r, "threadID"), req.Title, req.Pinned)
	if err != nil {
		h.writeThreadError(w, "update thread", user.ID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"thread": thread})
}

func (h Handler) DeleteThread(w http.ResponseWriter, r *http.Request) {
	user, ok := sessionUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}

	if err := h.threads.DeleteThread(r.Context(), user.ID, chi.URLParam(r, "threadID")); err != nil {
		h.writeThreadError(w, "delete thread", user.ID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h Handler) DeleteAllThreads(w http.ResponseWriter, r *http.Request) {
	user, ok := sessionUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}

	deleted, err := h.threads.DeleteAllThreads(r.Context(), user.ID)
	if err != nil {
		log.Printf("delete all threads failed user_id=%s err=%v", user.ID, err)
		writeError(w, http.StatusInternalServerError, "db_error", "failed to delete threads")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func (h Handler) ListThreadItems(w http.ResponseWriter, r *http.Request) {
	user, ok := sessionUserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
		return
	}

	items, err := h.threads.ListItems(r.Context(), user.ID, chi.URLParam(r, "threadID"))
	if err != nil {
		h.writeThreadError(w, "list thread items", user.ID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h Handler) writeThreadError(w http.ResponseWriter, op, userID string, err error) {
	if errors.Is(err, threads.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "thread not found")
		return
	}
	log.Printf("%s failed user_id=%s err=%v", op, userID, err)
	writeError(w, http.StatusInternalServerError, "db_error", "failed to "+op)
}
