// Package store persists subjects, enrichment outcomes, runs and the dead
// letter queue. SQLite serves local runs and Postgres serves production.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/chenders/deadonfilm-sub014/internal/model"
	"github.com/chenders/deadonfilm-sub014/internal/resilience"
)

// ErrNotFound is returned when a lookup by id matches no row.
var ErrNotFound = eris.New("store: not found")

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Enrichment is the latest persisted outcome for a subject.
type Enrichment struct {
	SubjectID string              `json:"subject_id"`
	RunID     string              `json:"run_id"`
	State     model.SubjectState  `json:"state"`
	Reason    string              `json:"reason,omitempty"`
	Record    *model.MergedRecord `json:"record,omitempty"`
	Attempts  []model.Attempt     `json:"attempts,omitempty"`
	LastCost  float64             `json:"last_cost"`
	TotalCost float64             `json:"total_cost"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// Store defines the persistence interface for enrichment runs.
type Store interface {
	// Subjects
	UpsertSubjects(ctx context.Context, subjects []model.Subject) (int64, error)
	GetSubject(ctx context.Context, id string) (*model.Subject, error)
	// ListPendingSubjects returns subjects with no recorded enrichment,
	// ordered by id. A limit of 0 means no limit.
	ListPendingSubjects(ctx context.Context, limit int) ([]model.Subject, error)

	// Runs
	CreateRun(ctx context.Context, opts model.RunOptions) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, status model.RunStatus, summary *model.RunSummary) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)

	// Outcomes
	SaveOutcome(ctx context.Context, runID string, o *model.Outcome) error
	GetEnrichment(ctx context.Context, subjectID string) (*Enrichment, error)

	// Dead letter queue, keyed by subject id.
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	DeleteDLQ(ctx context.Context, subjectID string) error
	CountDLQ(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the configured backend and applies migrations.
func Open(ctx context.Context, driver, dsn string, poolCfg *PoolConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch driver {
	case DriverSQLite, "":
		s, err = NewSQLite(dsn)
	case DriverPostgres:
		s, err = NewPostgres(ctx, dsn, poolCfg)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

// subjectRow is the column form of a subject shared by both backends.
type subjectRow struct {
	ID, IMDbID, Name, Birth, Death, Cause, Details, Professions string
}

func toRow(s model.Subject) subjectRow {
	return subjectRow{
		ID:          s.ID,
		IMDbID:      s.IMDbID,
		Name:        s.Name,
		Birth:       dateString(s.Birth),
		Death:       dateString(s.Death),
		Cause:       s.KnownCause,
		Details:     s.KnownCauseDetails,
		Professions: strings.Join(s.PrimaryProfessions, ","),
	}
}

func (r subjectRow) values() []any {
	return []any{r.ID, r.IMDbID, r.Name, r.Birth, r.Death, r.Cause, r.Details, r.Professions}
}

func (r subjectRow) subject() (*model.Subject, error) {
	birth, err := model.ParsePartialDate(r.Birth)
	if err != nil {
		return nil, eris.Wrapf(err, "store: subject %s birth", r.ID)
	}
	death, err := model.ParsePartialDate(r.Death)
	if err != nil {
		return nil, eris.Wrapf(err, "store: subject %s death", r.ID)
	}
	s := &model.Subject{
		ID:                r.ID,
		IMDbID:            r.IMDbID,
		Name:              r.Name,
		Birth:             birth,
		Death:             death,
		KnownCause:        r.Cause,
		KnownCauseDetails: r.Details,
	}
	if r.Professions != "" {
		s.PrimaryProfessions = strings.Split(r.Professions, ",")
	}
	return s, nil
}

var subjectColumns = []string{
	"id", "imdb_id", "name", "birth", "death", "known_cause", "known_cause_details", "professions",
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSubject(row scannable) (*model.Subject, error) {
	var r subjectRow
	if err := row.Scan(&r.ID, &r.IMDbID, &r.Name, &r.Birth, &r.Death, &r.Cause, &r.Details, &r.Professions); err != nil {
		return nil, err
	}
	return r.subject()
}

func dateString(d *model.PartialDate) string {
	if d == nil {
		return ""
	}
	return d.String()
}
