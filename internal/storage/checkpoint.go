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
)

// Checkpoint is the durable resume cursor of one named stream.
type Checkpoint struct {
	Key                string
	Source             clearinghouse.Source
	LastCaseExternalID string
	LastCaseUpdatedAt  *time.Time
	LastRunID          string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// CheckpointStore reads and advances checkpoints. It assumes a single writer
// per key.
type CheckpointStore struct {
	db  *database.Client
	now func() time.Time
}

func NewCheckpointStore(db *database.Client) *CheckpointStore {
	return &CheckpointStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Get returns nil, nil when no checkpoint exists for key.
func (s *CheckpointStore) Get(ctx context.Context, key string) (*Checkpoint, error) {
	return getCheckpoint(ctx, s.db.DB, key)
}

func getCheckpoint(ctx context.Context, q database.Querier, key string) (*Checkpoint, error) {
	var (
		cp                       Checkpoint
		source                   string
		lastCase, lastRun        sql.NullString
		lastTS, created, updated database.NullTime
	)
	err := q.QueryRowContext(ctx, `
		SELECT key, source, last_case_external_id, last_case_updated_at, last_run_id, created_at, updated_at
		FROM ingestion_checkpoints WHERE key = $1`, key,
	).Scan(&cp.Key, &source, &lastCase, &lastTS, &lastRun, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrPersistence, err, "loading checkpoint %s", key)
	}
	cp.Source = clearinghouse.Source(source)
	cp.LastCaseExternalID = lastCase.String
	cp.LastCaseUpdatedAt = lastTS.Ptr()
	cp.LastRunID = lastRun.String
	cp.CreatedAt = created.Time
	cp.UpdatedAt = updated.Time
	return &cp, nil
}

// Advance records that caseID, updated at caseUpdatedAt, is durably committed.
// The cursor only moves forward: an older timestamp leaves it unchanged, and a
// case without a timestamp only sets the case id of a checkpoint that has no
// cursor yet. The last run id is always updated. Call only after the case's
// transaction has committed.
func (s *CheckpointStore) Advance(ctx context.Context, key string, source clearinghouse.Source, caseID string, caseUpdatedAt *time.Time, runID string) (*Checkpoint, error) {
	var out *Checkpoint
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		cp, err := getCheckpoint(ctx, tx, key)
		if err != nil {
			return err
		}
		now := s.now()
		if cp == nil {
			cp = &Checkpoint{Key: key, Source: source, CreatedAt: now}
		}
		switch {
		case caseUpdatedAt != nil && (cp.LastCaseUpdatedAt == nil || !caseUpdatedAt.Before(*cp.LastCaseUpdatedAt)):
			ts := caseUpdatedAt.UTC()
			cp.LastCaseUpdatedAt = &ts
			cp.LastCaseExternalID = caseID
		case cp.LastCaseUpdatedAt == nil:
			cp.LastCaseExternalID = caseID
		}
		cp.LastRunID = runID
		cp.UpdatedAt = now

		_, err = tx.ExecContext(ctx, `
			INSERT INTO ingestion_checkpoints (key, source, last_case_external_id, last_case_updated_at, last_run_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (key) DO UPDATE SET
				last_case_external_id = EXCLUDED.last_case_external_id,
				last_case_updated_at = EXCLUDED.last_case_updated_at,
				last_run_id = EXCLUDED.last_run_id,
				updated_at = EXCLUDED.updated_at`,
			cp.Key, string(cp.Source), database.StringArg(cp.LastCaseExternalID),
			database.TimeArg(cp.LastCaseUpdatedAt), database.StringArg(cp.LastRunID),
			cp.CreatedAt, cp.UpdatedAt,
		)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrPersistence, err, "advancing checkpoint %s", key)
		}
		out = cp
		return nil
	})
	if err != nil {
		if apperrors.Classify(err) == apperrors.ClassUnknown {
			err = apperrors.Wrap(apperrors.ErrPersistence, err, "advancing checkpoint %s", key)
		}
		return nil, fmt.Errorf("checkpoint %s: %w", key, err)
	}
	return out, nil
}
