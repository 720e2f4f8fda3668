package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/internal/clearinghouse"
	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/database"
	apperrors "github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/errors"
	"github.com/google/uuid"
)

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Counters are the per-run totals of committed entities and case failures.
type Counters struct {
	Cases     int
	Dockets   int
	Documents int
	Errors    int
}

// StartParams describes a run as it was requested.
type StartParams struct {
	Source         clearinghouse.Source
	RequestedSince *time.Time
	EffectiveSince *time.Time
	CaseLimit      int
	CheckpointKey  string
	Resumed        bool
}

// Run is one ingestion_runs row.
type Run struct {
	ID             string
	Source         clearinghouse.Source
	Status         RunStatus
	StartedAt      time.Time
	FinishedAt     *time.Time
	RequestedSince *time.Time
	EffectiveSince *time.Time
	CaseLimit      int
	CheckpointKey  string
	Resumed        bool
	Counters       Counters
	ErrorMessage   string
}

// Ledger records the audit trail of runs. A run moves from running to
// succeeded or failed exactly once.
type Ledger struct {
	db    *database.Client
	now   func() time.Time
	newID func() string
}

func NewLedger(db *database.Client) *Ledger {
	return &Ledger{
		db:    db,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// Start inserts a running row and returns its id.
func (l *Ledger) Start(ctx context.Context, p StartParams) (string, error) {
	id := l.newID()
	var caseLimit any
	if p.CaseLimit > 0 {
		caseLimit = p.CaseLimit
	}
	_, err := l.db.DB.ExecContext(ctx, `
		INSERT INTO ingestion_runs (id, source, status, started_at, requested_since, effective_since,
			case_limit, checkpoint_key, resumed_from_checkpoint)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, string(p.Source), string(RunRunning), l.now(),
		database.TimeArg(p.RequestedSince), database.TimeArg(p.EffectiveSince),
		caseLimit, database.StringArg(p.CheckpointKey), p.Resumed,
	)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrPersistence, err, "starting run")
	}
	return id, nil
}

// Finish writes the terminal status, finish time and counters. It fails with
// ErrInvalidTransition for a non-terminal status or a run that already
// finished, and ErrRunNotFound for an unknown id.
func (l *Ledger) Finish(ctx context.Context, runID string, status RunStatus, c Counters, errMsg string) error {
	if status != RunSucceeded && status != RunFailed {
		return apperrors.Newf(apperrors.ErrInvalidTransition, 0, "run %s cannot finish as %q", runID, status)
	}
	res, err := l.db.DB.ExecContext(ctx, `
		UPDATE ingestion_runs SET
			status = $1,
			finished_at = $2,
			cases_ingested = $3,
			dockets_ingested = $4,
			documents_ingested = $5,
			errors = $6,
			error_message = $7
		WHERE id = $8 AND status = $9`,
		string(status), l.now(), c.Cases, c.Dockets, c.Documents, c.Errors,
		database.StringArg(errMsg), runID, string(RunRunning),
	)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, err, "finishing run %s", runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, err, "finishing run %s", runID)
	}
	if n == 1 {
		return nil
	}
	run, err := l.Get(ctx, runID)
	if err != nil {
		return err
	}
	return apperrors.Newf(apperrors.ErrInvalidTransition, 0, "run %s is already %s", runID, run.Status)
}

// Get returns ErrRunNotFound for an unknown id.
func (l *Ledger) Get(ctx context.Context, runID string) (*Run, error) {
	var (
		r                                     Run
		source, status                        string
		finished, requested, effective, start database.NullTime
		caseLimit                             sql.NullInt64
		checkpointKey, errMsg                 sql.NullString
	)
	err := l.db.DB.QueryRowContext(ctx, `
		SELECT id, source, status, started_at, finished_at, requested_since, effective_since,
			case_limit, checkpoint_key, resumed_from_checkpoint,
			cases_ingested, dockets_ingested, documents_ingested, errors, error_message
		FROM ingestion_runs WHERE id = $1`, runID,
	).Scan(&r.ID, &source, &status, &start, &finished, &requested, &effective,
		&caseLimit, &checkpointKey, &r.Resumed,
		&r.Counters.Cases, &r.Counters.Dockets, &r.Counters.Documents, &r.Counters.Errors, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrRunNotFound, 404, "run %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}
	r.Source = clearinghouse.Source(source)
	r.Status = RunStatus(status)
	r.StartedAt = start.Time
	r.FinishedAt = finished.Ptr()
	r.RequestedSince = requested.Ptr()
	r.EffectiveSince = effective.Ptr()
	r.CaseLimit = int(caseLimit.Int64)
	r.CheckpointKey = checkpointKey.String
	r.ErrorMessage = errMsg.String
	return &r, nil
}
