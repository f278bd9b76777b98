package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/chenders/deadonfilm-sub014/internal/db"
	"github.com/chenders/deadonfilm-sub014/internal/model"
	"github.com/chenders/deadonfilm-sub014/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
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
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	status     TEXT NOT NULL DEFAULT 'running',
	options    JSONB NOT NULL,
	summary    JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS enrichments (
	subject_id TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	state      TEXT NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	record     JSONB,
	attempts   JSONB,
	last_cost  DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_outcomes (
	run_id     TEXT NOT NULL,
	subject_id TEXT NOT NULL,
	state      TEXT NOT NULL,
	cost       DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, subject_id)
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	subject_id     TEXT PRIMARY KEY,
	subject        JSONB NOT NULL,
	state          TEXT NOT NULL,
	reason         TEXT NOT NULL DEFAULT '',
	error_type     TEXT NOT NULL DEFAULT 'transient',
	run_id         TEXT NOT NULL DEFAULT '',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_enrichments_state ON enrichments(state);
CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
CREATE INDEX IF NOT EXISTS idx_dlq_last_failed ON dead_letter_queue(last_failed_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// UpsertSubjects merges subjects through a staged COPY.
func (s *PostgresStore) UpsertSubjects(ctx context.Context, subjects []model.Subject) (int64, error) {
	rows := make([][]any, len(subjects))
	for i, sub := range subjects {
		rows[i] = toRow(sub).values()
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "subjects",
		Columns:      subjectColumns,
		ConflictKeys: []string{"id"},
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert subjects")
}

func (s *PostgresStore) GetSubject(ctx context.Context, id string) (*model.Subject, error) {
	sub, err := scanSubject(s.pool.QueryRow(ctx,
		`SELECT `+strings.Join(subjectColumns, ", ")+` FROM subjects WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "subject %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get subject %s", id)
	}
	return sub, nil
}

func (s *PostgresStore) ListPendingSubjects(ctx context.Context, limit int) ([]model.Subject, error) {
	query := `SELECT ` + strings.Join(subjectColumns, ", ") + ` FROM subjects s
		WHERE NOT EXISTS (SELECT 1 FROM enrichments e WHERE e.subject_id = s.id)
		ORDER BY s.id`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pending subjects")
	}
	defer rows.Close()

	var out []model.Subject
	for rows.Next() {
		sub, err := scanSubject(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan subject")
		}
		out = append(out, *sub)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list pending subjects iterate")
}

func (s *PostgresStore) CreateRun(ctx context.Context, opts model.RunOptions) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	optsJSON, err := json.Marshal(opts)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal run options")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, options, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, string(model.RunStatusRunning), optsJSON, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return &model.Run{
		ID:        id,
		Status:    model.RunStatusRunning,
		Options:   opts,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, summary *model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run summary")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, summary = $2, updated_at = $3 WHERE id = $4`,
		string(status), summaryJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var (
		r           model.Run
		status      string
		optsJSON    []byte
		summaryJSON []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, status, options, summary, created_at, updated_at FROM runs WHERE id = $1`, runID,
	).Scan(&r.ID, &status, &optsJSON, &summaryJSON, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	r.Status = model.RunStatus(status)
	if err := json.Unmarshal(optsJSON, &r.Options); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal run options")
	}
	if len(summaryJSON) > 0 && string(summaryJSON) != "null" {
		r.Summary = model.NewRunSummary()
		if err := json.Unmarshal(summaryJSON, r.Summary); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal run summary")
		}
	}
	return &r, nil
}

func (s *PostgresStore) SaveOutcome(ctx context.Context, runID string, o *model.Outcome) error {
	recordJSON, attemptsJSON, err := encodeOutcome(o)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin outcome tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO enrichments (subject_id, run_id, state, reason, record, attempts, last_cost, total_cost, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7, $8)
		 ON CONFLICT (subject_id) DO UPDATE SET
		   run_id = EXCLUDED.run_id, state = EXCLUDED.state, reason = EXCLUDED.reason,
		   record = EXCLUDED.record, attempts = EXCLUDED.attempts, last_cost = EXCLUDED.last_cost,
		   total_cost = enrichments.total_cost + EXCLUDED.last_cost, updated_at = EXCLUDED.updated_at`,
		o.Subject.ID, runID, string(o.State), o.Reason, recordJSON, attemptsJSON, o.Cost, now,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save enrichment %s", o.Subject.ID)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO run_outcomes (run_id, subject_id, state, cost, created_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (run_id, subject_id) DO UPDATE SET state = EXCLUDED.state, cost = EXCLUDED.cost`,
		runID, o.Subject.ID, string(o.State), o.Cost, now,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save run outcome %s", o.Subject.ID)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit outcome")
}

func (s *PostgresStore) GetEnrichment(ctx context.Context, subjectID string) (*Enrichment, error) {
	var (
		e                    Enrichment
		state                string
		recordJSON, attempts []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT subject_id, run_id, state, reason, record, attempts, last_cost, total_cost, updated_at
		 FROM enrichments WHERE subject_id = $1`, subjectID,
	).Scan(&e.SubjectID, &e.RunID, &state, &e.Reason, &recordJSON, &attempts, &e.LastCost, &e.TotalCost, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "enrichment %s", subjectID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get enrichment %s", subjectID)
	}
	e.State = model.SubjectState(state)
	if err := decodeEnrichment(&e, recordJSON, attempts); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PostgresStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	subjectJSON, err := json.Marshal(entry.Subject)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal dlq subject")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO dead_letter_queue
		 (subject_id, subject, state, reason, error_type, run_id, retry_count, max_retries, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (subject_id) DO UPDATE SET
		   subject = $2, state = $3, reason = $4, error_type = $5, run_id = $6,
		   retry_count = dead_letter_queue.retry_count + 1, last_failed_at = $10`,
		entry.SubjectID, subjectJSON, string(entry.State), entry.Reason, entry.ErrorType,
		entry.RunID, entry.RetryCount, entry.MaxRetries, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrapf(err, "postgres: enqueue dlq %s", entry.SubjectID)
}

func (s *PostgresStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT subject_id, subject, state, reason, error_type, run_id, retry_count, max_retries, created_at, last_failed_at
	          FROM dead_letter_queue WHERE 1=1`
	var args []any
	argIdx := 1

	if filter.State != "" {
		query += fmt.Sprintf(` AND state = $%d`, argIdx)
		args = append(args, string(filter.State))
		argIdx++
	}
	if filter.ErrorType != "" {
		query += fmt.Sprintf(` AND error_type = $%d`, argIdx)
		args = append(args, filter.ErrorType)
		argIdx++
	}
	query += ` ORDER BY last_failed_at ASC, subject_id ASC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var (
			e           resilience.DLQEntry
			state       string
			subjectJSON []byte
		)
		if err := rows.Scan(&e.SubjectID, &subjectJSON, &state, &e.Reason, &e.ErrorType, &e.RunID,
			&e.RetryCount, &e.MaxRetries, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		e.State = model.SubjectState(state)
		if err := json.Unmarshal(subjectJSON, &e.Subject); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal dlq subject")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list dlq iterate")
}

func (s *PostgresStore) DeleteDLQ(ctx context.Context, subjectID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE subject_id = $1`, subjectID)
	return eris.Wrapf(err, "postgres: delete dlq %s", subjectID)
}

func (s *PostgresStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count dlq")
}
