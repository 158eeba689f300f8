package threads

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrNotFound = errors.New("thread not found")

const (
	defaultTitle  = "New Thread"
	maxTitleRunes = 80
)

type ItemStatus string

const (
	ItemPending   ItemStatus = "PENDING"
	ItemCompleted ItemStatus = "COMPLETED"
	ItemAborted   ItemStatus = "ABORTED"
	ItemError     ItemStatus = "ERROR"
)

type Thread struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Mode      string `json:"mode"`
	Pinned    bool   `json:"pinned"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

type Source struct {
	Title   string `json:"title"`
	URL     string `json:"link"`
	Snippet string `json:"snippet,omitempty"`
	Index   int    `json:"index"`
}

type Item struct {
	ID        string     `json:"id"`
	ThreadID  string     `json:"threadId"`
	ParentID  string     `json:"parentId,omitempty"`
	Mode      string     `json:"mode"`
	Query     string     `json:"query"`
	Answer    string     `json:"answer"`
	Reasoning string     `json:"reasoning,omitempty"`
	Sources   []Source   `json:"sources"`
	Status    ItemStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
	CreatedAt string     `json:"createdAt"`
	UpdatedAt string     `json:"updatedAt"`
}

// Store reads and writes threads scoped by user. A row owned by another
// user is reported as ErrNotFound.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) Store {
	return Store{db: db}
}

func (s Store) ListThreads(ctx context.Context, userID string) ([]Thread, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, title, mode, pinned, created_at, updated_at
FROM threads
WHERE user_id = ?
ORDER BY pinned DESC, updated_at DESC, id ASC;
`, userID)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	out := make([]Thread, 0, 16)
	for rows.Next() {
		var t Thread
		if err := rows.Scan(&t.ID, &t.Title, &t.Mode, &t.Pinned, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate threads: %w", err)
	}
	return out, nil
}

func (s Store) GetThread(ctx context.Context, userID, threadID string) (Thread, error) {
	var t Thread
	err := s.db.QueryRowContext(ctx, `
SELECT id, title, mode, pinned, created_at, updated_at
FROM threads
WHERE id = ? AND user_id = ?;
`, threadID, userID).Scan(&t.ID, &t.Title, &t.Mode, &t.Pinned, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Thread{}, ErrNotFound
	}
	if err != nil {
		return Thread{}, fmt.Errorf("get thread: %w", err)
	}
	return t, nil
}

func (s Store) CreateThread(ctx context.Context, userID, threadID, title, mode string) (Thread, error) {
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO threads (id, user_id, title, mode) VALUES (?, ?, ?, ?);
`, threadID, userID, normalizeTitle(title), strings.TrimSpace(mode)); err != nil {
		return Thread{}, fmt.Errorf("create thread: %w", err)
	}
	return s.GetThread(ctx, userID, threadID)
}

// EnsureThread creates the thread on first use. The title is taken from
// the first query; later calls only touch updated_at.
func (s Store) EnsureThread(ctx context.Context, userID, threadID, firstQuery, mode string) error {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO threads (id, user_id, title, mode) VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  mode = excluded.mode,
  updated_at = CURRENT_TIMESTAMP
WHERE threads.user_id = excluded.user_id;
`, threadID, userID, normalizeTitle(firstQuery), strings.TrimSpace(mode))
	if err != nil {
		return fmt.Errorf("ensure thread: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s Store) UpdateThread(ctx context.Context, userID, threadID string, title *string, pinned *bool) (Thread, error) {
	current, err := s.GetThread(ctx, userID, threadID)
	if err != nil {
		return Thread{}, err
	}
	if title != nil {
		current.Title = normalizeTitle(*title)
	}
	if pinned != nil {
		current.Pinned = *pinned
	}

	if _, err := s.db.ExecContext(ctx, `
UPDATE threads SET title = ?, pinned = ?, updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND user_id = ?;
`, current.Title, current.Pinned, threadID, userID); err != nil {
		return Thread{}, fmt.Errorf("update thread: %w", err)
	}
	return s.GetThread(ctx, userID, threadID)
}

func (s Store) RenameThread(ctx context.Context, userID, threadID, title string) (Thread, error) {
	return s.UpdateThread(ctx, userID, threadID, &title, nil)
}

func (s Store) DeleteThread(ctx context.Context, userID, threadID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete thread: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM thread_items WHERE thread_id = ? AND user_id = ?;`, threadID, userID); err != nil {
		return fmt.Errorf("delete thread items: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE id = ? AND user_id = ?;`, threadID, userID)
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete thread: %w", err)
	}
	return nil
}

func (s Store) DeleteAllThreads(ctx context.Context, userID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin delete threads: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM thread_items WHERE user_id = ?;`, userID); err != nil {
		return 0, fmt.Errorf("delete thread items: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE user_id = ?;`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete threads: %w", err)
	}
	deleted, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete threads: %w", err)
	}
	return deleted, nil
}

func (s Store) ListItems(ctx context.Context, userID, threadID string) ([]Item, error) {
	if _, err := s.GetThread(ctx, userID, threadID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, thread_id, parent_id, mode, query, answer, reasoning, sources, status, error, created_at, updated_at
FROM thread_items
WHERE thread_id = ? AND user_id = ?
ORDER BY created_at ASC, rowid ASC;
`, threadID, userID)
	if err != nil {
		return nil, fmt.Errorf("list thread items: %w", err)
	}
	defer rows.Close()

	out := make([]Item, 0, 16)
	for rows.Next() {
		var (
			item       Item
			rawSources string
		)
		if err := rows.Scan(&item.ID, &item.ThreadID, &item.ParentID, &item.Mode, &item.Query, &item.Answer, &item.Reasoning, &rawSources, &item.Status, &item.Error, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan thread item: %w", err)
		}
		item.Sources = decodeSources(rawSources)
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate thread items: %w", err)
	}
	return out, nil
}

// SaveItem upserts a thread item. The owning thread must already exist for
// userID.
func (s Store) SaveItem(ctx context.Context, userID string, item Item) error {
	if item.Sources == nil {
		item.Sources = []Source{}
	}
	sources, err := json.Marshal(item.Sources)
	if err != nil {
		return fmt.Errorf("encode sources: %w", err)
	}
	if item.Status == "" {
		item.Status = ItemPending
	}

	if _, err := s.GetThread(ctx, userID, item.ThreadID); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO thread_items (id, thread_id, user_id, parent_id, mode, query, answer, reasoning, sources, status, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  answer = excluded.answer,
  reasoning = excluded.reasoning,
  sources = excluded.sources,
  status = excluded.status,
  error = excluded.error,
  updated_at = CURRENT_TIMESTAMP
WHERE thread_items.user_id = excluded.user_id;
`, item.ID, item.ThreadID, userID, item.ParentID, item.Mode, item.Query, item.Answer, item.Reasoning, string(sources), string(item.Status), item.Error)
	if err != nil {
		return fmt.Errorf("save thread item: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func decodeSources(raw string) []Source {
	out := []Source{}
	if strings.TrimSpace(raw) == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return []Source{}
	}
	return out
}

func normalizeTitle(raw string) string {
	title := strings.Join(strings.Fields(raw), " ")
	if title == "" {
		return defaultTitle
	}
	runes := []rune(title)
	if len(runes) > maxTitleRunes {
		return strings.TrimSpace(string(runes[:maxTitleRunes])) + "…"
	}
	return title
}
