// CLAUDE:SUMMARY SQLite journal of terminal upload outcomes (one row per file per batch); never stores resumable in-flight state.
// Package journal persists the terminal outcome of every processed file so
// an operator can audit a batch after the process exits.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/docattach/attach/internal/flow"
	"github.com/hazyhaar/docattach/attach/internal/queue"
	"github.com/hazyhaar/docattach/dbopen"
)

const schema = `
CREATE TABLE IF NOT EXISTS upload_outcomes (
    entry_id          TEXT NOT NULL,
    batch_id          TEXT NOT NULL,
    name              TEXT NOT NULL,
    size              INTEGER NOT NULL DEFAULT 0,
    status            TEXT NOT NULL,
    state             TEXT NOT NULL DEFAULT '',
    diagnostic        TEXT NOT NULL DEFAULT '',
    final_url         TEXT NOT NULL DEFAULT '',
    errors            TEXT NOT NULL DEFAULT '[]',
    series            TEXT NOT NULL DEFAULT '',
    processed_name    TEXT NOT NULL DEFAULT '',
    identifier_source TEXT NOT NULL DEFAULT '',
    started_at        INTEGER NOT NULL DEFAULT 0,
    finished_at       INTEGER NOT NULL,
    PRIMARY KEY (entry_id, batch_id)
);
CREATE INDEX IF NOT EXISTS idx_outcomes_batch ON upload_outcomes(batch_id, finished_at);
CREATE INDEX IF NOT EXISTS idx_outcomes_finished ON upload_outcomes(finished_at DESC);
`

// DefaultLimit caps List when limit <= 0.
const DefaultLimit = 100

// Journal writes outcomes to SQLite. It satisfies queue.Recorder.
type Journal struct {
	db *sql.DB
}

// New applies the schema to db.
func New(db *sql.DB) (*Journal, error) {
	if db == nil {
		return nil, errors.New("journal: DB is required")
	}
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("journal: schema: %w", err)
		}
	}
	return &Journal{db: db}, nil
}

// Open opens (or creates) the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll())
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	j, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error { return j.db.Close() }

// Record stores one terminal entry. Recording the same entry twice in a
// batch replaces the earlier row.
func (j *Journal) Record(ctx context.Context, e queue.Entry) error {
	errs := e.Outcome.Errors
	if errs == nil {
		errs = []string{}
	}
	raw, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("journal: encode errors: %w", err)
	}
	finished := e.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	_, err = dbopen.Exec(ctx, j.db, `
		INSERT OR REPLACE INTO upload_outcomes
		    (entry_id, batch_id, name, size, status, state, diagnostic, final_url, errors,
		     series, processed_name, identifier_source, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.BatchID, e.Name, e.Size, string(e.Status), string(e.State), e.Diagnostic,
		e.Outcome.FinalURL, string(raw), e.Series, e.ProcessedName, e.IdentifierSource,
		unixMilli(e.StartedAt), finished.UnixMilli())
	if err != nil {
		return fmt.Errorf("journal: record %s: %w", e.ID, err)
	}
	return nil
}

// List returns the most recent outcomes, newest first. An empty batchID
// lists every batch.
func (j *Journal) List(ctx context.Context, batchID string, limit int) ([]queue.Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	q := `SELECT entry_id, batch_id, name, size, status, state, diagnostic, final_url, errors,
	             series, processed_name, identifier_source, started_at, finished_at
	      FROM upload_outcomes`
	args := []any{}
	if batchID != "" {
		q += ` WHERE batch_id = ?`
		args = append(args, batchID)
	}
	q += ` ORDER BY finished_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	defer rows.Close()

	var out []queue.Entry
	for rows.Next() {
		var (
			e                 queue.Entry
			status, state     string
			errs              string
			started, finished int64
		)
		if err := rows.Scan(&e.ID, &e.BatchID, &e.Name, &e.Size, &status, &state, &e.Diagnostic,
			&e.Outcome.FinalURL, &errs, &e.Series, &e.ProcessedName, &e.IdentifierSource,
			&started, &finished); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.Status = queue.Status(status)
		e.State = flow.State(state)
		e.Outcome.Success = e.Status == queue.StatusSucceeded
		if err := json.Unmarshal([]byte(errs), &e.Outcome.Errors); err != nil {
			return nil, fmt.Errorf("journal: decode errors of %s: %w", e.ID, err)
		}
		if started > 0 {
			e.StartedAt = time.UnixMilli(started)
		}
		e.FinishedAt = time.UnixMilli(finished)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Counts returns the number of succeeded and fallback outcomes of a batch.
func (j *Journal) Counts(ctx context.Context, batchID string) (succeeded, fallback int, err error) {
	err = j.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(status = ?), 0), COALESCE(SUM(status = ?), 0)
		FROM upload_outcomes WHERE batch_id = ?`,
		string(queue.StatusSucceeded), string(queue.StatusFallback), batchID).Scan(&succeeded, &fallback)
	if err != nil {
		return 0, 0, fmt.Errorf("journal: counts: %w", err)
	}
	return succeeded, fallback, nil
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
