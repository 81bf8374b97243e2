// SPDX-License-Identifier: AGPL-3.0-only
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bigduu/Bamboo/internal/chatmodel"
	"github.com/bigduu/Bamboo/internal/model"

	_ "modernc.org/sqlite"
)

const timeFormat = time.RFC3339Nano

// SQLiteStore is the supplemental SQL index described in §4.7: task
// and scheduled-run-result persistence for the scheduler, plus a
// session metadata index (id, user, state, last_activity) that backs
// fast by-user and retention-sweep queries. It is never the source of
// truth for session content — the JSONL event log owns that — it only
// makes sessions queryable without scanning the filesystem.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// SaveResult persists a scheduled agent run's result.
func (s *SQLiteStore) SaveResult(result *model.Result) error {
	_, err := s.db.Exec(`
		INSERT INTO results (task_id, skill_name, prompt, output, error, start_time, end_time, duration)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		result.TaskID,
		result.SkillName,
		result.Prompt,
		result.Output,
		result.Error,
		result.StartTime.Format(timeFormat),
		result.EndTime.Format(timeFormat),
		result.Duration,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// GetLatestResult returns the most recent result for the given task ID.
// Returns nil, nil if no result exists.
func (s *SQLiteStore) GetLatestResult(taskID string) (*model.Result, error) {
	results, err := s.GetResults(taskID, 1)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

// GetResults returns up to limit results for the given task ID, ordered
// by start_time descending (most recent first).
func (s *SQLiteStore) GetResults(taskID string, limit int) ([]*model.Result, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}

	rows, err := s.db.Query(`
		SELECT task_id, skill_name, prompt, output, error, start_time, end_time, duration
		FROM results
		WHERE task_id = ?
		ORDER BY start_time DESC
		LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var results []*model.Result
	for rows.Next() {
		var r model.Result
		var startStr, endStr string
		if err := rows.Scan(
			&r.TaskID, &r.SkillName, &r.Prompt, &r.Output,
			&r.Error, &startStr, &endStr, &r.Duration,
		); err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}
		r.StartTime, _ = time.Parse(timeFormat, startStr)
		r.EndTime, _ = time.Parse(timeFormat, endStr)
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate result rows: %w", err)
	}

	return results, nil
}

// SaveTask persists a new scheduled agent-run definition.
func (s *SQLiteStore) SaveTask(task *model.Task) error {
	_, err := s.db.Exec(`
		INSERT INTO tasks (id, name, description, skill_name, session_id, prompt, schedule, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID,
		task.Name,
		task.Description,
		task.SkillName,
		task.SessionID,
		task.Prompt,
		task.Schedule,
		boolToInt(task.Enabled),
		task.CreatedAt.Format(timeFormat),
		task.UpdatedAt.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// UpdateTask updates an existing task definition.
func (s *SQLiteStore) UpdateTask(task *model.Task) error {
	result, err := s.db.Exec(`
		UPDATE tasks SET name=?, description=?, skill_name=?, session_id=?, prompt=?, schedule=?, enabled=?, updated_at=?
		WHERE id=?`,
		task.Name,
		task.Description,
		task.SkillName,
		task.SessionID,
		task.Prompt,
		task.Schedule,
		boolToInt(task.Enabled),
		task.UpdatedAt.Format(timeFormat),
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check update result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("task %s not found", task.ID)
	}
	return nil
}

// DeleteTask removes a task definition by ID.
func (s *SQLiteStore) DeleteTask(taskID string) error {
	_, err := s.db.Exec("DELETE FROM tasks WHERE id=?", taskID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// LoadTasks returns all persisted task definitions.
func (s *SQLiteStore) LoadTasks() ([]*model.Task, error) {
	rows, err := s.db.Query(`
		SELECT id, name, description, skill_name, session_id, prompt, schedule, enabled, created_at, updated_at
		FROM tasks`)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		var t model.Task
		var enabled int
		var createdStr, updatedStr string
		if err := rows.Scan(
			&t.ID, &t.Name, &t.Description, &t.SkillName, &t.SessionID,
			&t.Prompt, &t.Schedule, &enabled, &createdStr, &updatedStr,
		); err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		t.Enabled = enabled != 0
		t.CreatedAt, _ = time.Parse(timeFormat, createdStr)
		t.UpdatedAt, _ = time.Parse(timeFormat, updatedStr)
		t.Status = model.StatusPending
		if !t.Enabled {
			t.Status = model.StatusDisabled
		}
		tasks = append(tasks, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task rows: %w", err)
	}
	return tasks, nil
}

// UpsertSessionMeta writes or refreshes a session's index row. The
// session store calls this on every create/append so the index never
// drifts from the JSONL log's own notion of last_activity.
func (s *SQLiteStore) UpsertSessionMeta(sess *chatmodel.Session) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, user_id, state, created_at, last_activity)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id=excluded.user_id, state=excluded.state, last_activity=excluded.last_activity`,
		sess.ID, sess.UserID, string(sess.State),
		sess.CreatedAt.Format(timeFormat), sess.LastActivity.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("upsert session meta: %w", err)
	}
	return nil
}

// DeleteSessionMeta removes a session's index row (used by the
// retention sweep once the underlying files are removed).
func (s *SQLiteStore) DeleteSessionMeta(sessionID string) error {
	_, err := s.db.Exec("DELETE FROM sessions WHERE id=?", sessionID)
	if err != nil {
		return fmt.Errorf("delete session meta: %w", err)
	}
	return nil
}

// SessionMeta is the thin index row returned by list/sweep queries,
// distinct from the full chatmodel.Session (which additionally
// carries the message list, read from the JSON document, not here).
type SessionMeta struct {
	ID           string
	UserID       string
	State        string
	CreatedAt    time.Time
	LastActivity time.Time
}

// ListSessionsByUser returns session ids for a user, most recently
// active first.
func (s *SQLiteStore) ListSessionsByUser(userID string) ([]SessionMeta, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, state, created_at, last_activity
		FROM sessions WHERE user_id=? ORDER BY last_activity DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query sessions by user: %w", err)
	}
	defer rows.Close()
	return scanSessionMetaRows(rows)
}

// ListExpiredSessions returns sessions whose last_activity predates
// the cutoff, for the retention sweep to delete.
func (s *SQLiteStore) ListExpiredSessions(cutoff time.Time) ([]SessionMeta, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, state, created_at, last_activity
		FROM sessions WHERE last_activity < ?`, cutoff.Format(timeFormat))
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	defer rows.Close()
	return scanSessionMetaRows(rows)
}

func scanSessionMetaRows(rows *sql.Rows) ([]SessionMeta, error) {
	var out []SessionMeta
	for rows.Next() {
		var m SessionMeta
		var createdStr, activityStr string
		if err := rows.Scan(&m.ID, &m.UserID, &m.State, &createdStr, &activityStr); err != nil {
			return nil, fmt.Errorf("scan session meta row: %w", err)
		}
		m.CreatedAt, _ = time.Parse(timeFormat, createdStr)
		m.LastActivity, _ = time.Parse(timeFormat, activityStr)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session meta rows: %w", err)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
