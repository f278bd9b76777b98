package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/chenders/deadonfilm-sub014/internal/model"
	"github.com/chenders/deadonfilm-sub014/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS subjects (
	id                  TEXT PRIMARY KEY,
	imdb_id             TEXT NOT NULL DEFAULT '',
	name                TEXT NOT NULL,
	birth               TEXT NOT NULL DEFAULT '',
	death               TEXT NOT NULL DEFAULT '',
	known_cause         TEXT NOT NULL DEFAULT '',
	known_cause_details TEXT NOT NULL DEFAULT '',
	professions         TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'running',
	options    TEXT NOT NULL,
	summary    TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS enrichments (
	subject_id TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	state      TEXT NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	record     TEXT,
	attempts   TEXT,
	last_cost  REAL NOT NULL DEFAULT 0,
	total_cost REAL NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS run_outcomes (
	run_id     TEXT NOT NULL,
	subject_id TEXT NOT NULL,
	state      TEXT NOT NULL,
	cost       REAL NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (run_id, subject_id)
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	subject_id     TEXT PRIMARY KEY,
	subject        TEXT NOT NULL,
	state          TEXT NOT NULL,
	reason         TEXT NOT NULL DEFAULT '',
	error_type     TEXT NOT NULL DEFAULT 'transient',
	run_id         TEXT NOT NULL DEFAULT '',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	created_at     DATETIME NOT NULL,
	last_failed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_enrichments_state ON enrichments(state);
CREATE INDEX IF NOT EXISTS idx_dlq_last_failed ON dead_letter_queue(last_failed_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertSubjects(ctx context.Context, subjects []model.Subject) (int64, error) {
	if len(subjects) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin subjects tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO subjects (`+strings.Join(subjectColumns, ", ")+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   imdb_id = excluded.imdb_id, name = excluded.name, birth = excluded.birth, death = excluded.death,
		   known_cause = excluded.known_cause, known_cause_details = excluded.known_cause_details,
		   professions = excluded.professions`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare subject upsert")
	}
	defer stmt.Close()

	var n int64
	for _, sub := range subjects {
		res, err := stmt.ExecContext(ctx, toRow(sub).values()...)
		if err != nil {
			return n, eris.Wrapf(err, "sqlite: upsert subject %s", sub.ID)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}
	return n, eris.Wrap(tx.Commit(), "sqlite: commit subjects")
}

func (s *SQLiteStore) GetSubject(ctx context.Context, id string) (*model.Subject, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+strings.Join(subjectColumns, ", ")+` FROM subjects WHERE id = ?`, id)
	sub, err := scanSubject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "subject %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get subject %s", id)
	}
	return sub, nil
}

func (s *SQLiteStore) ListPendingSubjects(ctx context.Context, limit int) ([]model.Subject, error) {
	query := `SELECT ` + strings.Join(subjectColumns, ", ") + ` FROM subjects s
		WHERE NOT EXISTS (SELECT 1 FROM enrichments e WHERE e.subject_id = s.id)
		ORDER BY s.id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pending subjects")
	}
	defer rows.Close()

	var out []model.Subject
	for rows.Next() {
		sub, err := scanSubject(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan subject")
		}
		out = append(out, *sub)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list pending subjects iterate")
}

func (s *SQLiteStore) CreateRun(ctx context.Context, opts model.RunOptions) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	optsJSON, err := json.Marshal(opts)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal run options")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, options, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(model.RunStatusRunning), string(optsJSON), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return &model.Run{
		ID:        id,
		Status:    model.RunStatusRunning,
		Options:   opts,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, summary *model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run summary")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, summary = ?, updated_at = ? WHERE id = ?`,
		string(status), string(summaryJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var (
		r           model.Run
		optsJSON    string
		summaryJSON sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, status, options, summary, created_at, updated_at FROM runs WHERE id = ?`, runID,
	).Scan(&r.ID, &r.Status, &optsJSON, &summaryJSON, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	if err := json.Unmarshal([]byte(optsJSON), &r.Options); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal run options")
	}
	if summaryJSON.Valid && summaryJSON.String != "null" {
		r.Summary = model.NewRunSummary()
		if err := json.Unmarshal([]byte(summaryJSON.String), r.Summary); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal run summary")
		}
	}
	return &r, nil
}

func (s *SQLiteStore) SaveOutcome(ctx context.Context, runID string, o *model.Outcome) error {
	recordJSON, attemptsJSON, err := encodeOutcome(o)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin outcome tx")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO enrichments (subject_id, run_id, state, reason, record, attempts, last_cost, total_cost, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (subject_id) DO UPDATE SET
		   run_id = excluded.run_id, state = excluded.state, reason = excluded.reason,
		   record = excluded.record, attempts = excluded.attempts, last_cost = excluded.last_cost,
		   total_cost = enrichments.total_cost + excluded.last_cost, updated_at = excluded.updated_at`,
		o.Subject.ID, runID, string(o.State), o.Reason, string(recordJSON), string(attemptsJSON), o.Cost, o.Cost, now,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save enrichment %s", o.Subject.ID)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO run_outcomes (run_id, subject_id, state, cost, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, subject_id) DO UPDATE SET state = excluded.state, cost = excluded.cost`,
		runID, o.Subject.ID, string(o.State), o.Cost, now,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save run outcome %s", o.Subject.ID)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit outcome")
}

func (s *SQLiteStore) GetEnrichment(ctx context.Context, subjectID string) (*Enrichment, error) {
	var (
		e                      Enrichment
		recordJSON, attemptsJS sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT subject_id, run_id, state, reason, record, attempts, last_cost, total_cost, updated_at
		 FROM enrichments WHERE subject_id = ?`, subjectID,
	).Scan(&e.SubjectID, &e.RunID, &e.State, &e.Reason, &recordJSON, &attemptsJS, &e.LastCost, &e.TotalCost, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "enrichment %s", subjectID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get enrichment %s", subjectID)
	}
	if err := decodeEnrichment(&e, []byte(recordJSON.String), []byte(attemptsJS.String)); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	subjectJSON, err := json.Marshal(entry.Subject)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal dlq subject")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dead_letter_queue
		 (subject_id, subject, state, reason, error_type, run_id, retry_count, max_retries, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (subject_id) DO UPDATE SET
		   subject = excluded.subject, state = excluded.state, reason = excluded.reason,
		   error_type = excluded.error_type, run_id = excluded.run_id,
		   retry_count = dead_letter_queue.retry_count + 1, last_failed_at = excluded.last_failed_at`,
		entry.SubjectID, string(subjectJSON), string(entry.State), entry.Reason, entry.ErrorType,
		entry.RunID, entry.RetryCount, entry.MaxRetries, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrapf(err, "sqlite: enqueue dlq %s", entry.SubjectID)
}

func (s *SQLiteStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT subject_id, subject, state, reason, error_type, run_id, retry_count, max_retries, created_at, last_failed_at
	          FROM dead_letter_queue WHERE 1=1`
	var args []any
	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, string(filter.State))
	}
	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}
	query += ` ORDER BY last_failed_at ASC, subject_id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var (
			e           resilience.DLQEntry
			subjectJSON string
		)
		if err := rows.Scan(&e.SubjectID, &subjectJSON, &e.State, &e.Reason, &e.ErrorType, &e.RunID,
			&e.RetryCount, &e.MaxRetries, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		if err := json.Unmarshal([]byte(subjectJSON), &e.Subject); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal dlq subject")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list dlq iterate")
}

func (s *SQLiteStore) DeleteDLQ(ctx context.Context, subjectID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dead_letter_queue WHERE subject_id = ?`, subjectID)
	return eris.Wrapf(err, "sqlite: delete dlq %s", subjectID)
}

func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count dlq")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func encodeOutcome(o *model.Outcome) (record, attempts []byte, err error) {
	record, err = json.Marshal(o.Record)
	if err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal record")
	}
	attempts, err = json.Marshal(o.Attempts)
	if err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal attempts")
	}
	return record, attempts, nil
}

func decodeEnrichment(e *Enrichment, record, attempts []byte) error {
	if len(record) > 0 && string(record) != "null" {
		e.Record = &model.MergedRecord{}
		if err := json.Unmarshal(record, e.Record); err != nil {
			return eris.Wrap(err, "store: unmarshal record")
		}
	}
	if len(attempts) > 0 && string(attempts) != "null" {
		if err := json.Unmarshal(attempts, &e.Attempts); err != nil {
			return eris.Wrap(err, "store: unmarshal attempts")
		}
	}
	return nil
}
