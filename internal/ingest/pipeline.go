// Package ingest drives incremental ingestion: it lists cases since the
// resume cursor, persists each case with its dockets and documents as one
// transaction, archives raw payloads and advances the checkpoint only after
// the case commits.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/internal/clearinghouse"
	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/internal/clearinghouse/client"
	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/internal/clearinghouse/validator"
	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/internal/summarize"
	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/database"
	apperrors "github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/metrics"
)

// Case processing stages reported with failures.
const (
	StageDecodeCase     = "decode_case"
	StageFetchDockets   = "fetch_dockets"
	StageFetchDocuments = "fetch_documents"
	StagePersist        = "persist"
	StageCheckpoint     = "checkpoint"
)

// CaseError is a failure scoped to one case.
type CaseError struct {
	CaseID string
	Stage  string
	Err    error
}

func (e *CaseError) Error() string {
	return fmt.Sprintf("case %s: %s: %v", e.CaseID, e.Stage, e.Err)
}

func (e *CaseError) Unwrap() error { return e.Err }

// Pipeline is the ingestion orchestrator. A Pipeline runs one ingestion at a
// time; concurrent runs against the same checkpoint key are not supported.
type Pipeline struct {
	client      client.Client
	repo        *storage.Repository
	archive     *storage.Archive
	checkpoints *storage.CheckpointStore
	ledger      *storage.Ledger
	summarizer  summarize.Summarizer
	events      EventPublisher
	hashCache   storage.HashCache
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

func New(c client.Client, db *database.Client, opts ...Option) *Pipeline {
	p := &Pipeline{
		client:      c,
		repo:        storage.NewRepository(db),
		checkpoints: storage.NewCheckpointStore(db),
		ledger:      storage.NewLedger(db),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = metrics.NewUnregistered()
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("component", "ingest")
	p.archive = storage.NewArchive(p.metrics, p.hashCache)
	return p
}

// caseResult is what a committed case contributed.
type caseResult struct {
	dockets   int
	documents []clearinghouse.Document
	hashes    []string
}

// runState tracks case ordering within one run. Once a case arrives older
// than one already seen the checkpoint stays where it is for the rest of the
// run, so the next resume starts no later than the last in-order case.
type runState struct {
	maxSeen *time.Time
	frozen  bool
}

// Run executes one ingestion. The returned Summary is non-nil whenever the
// run row was created, including when err is non-nil.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Summary, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	started := time.Now()

	var requested *time.Time
	if opts.Since != nil {
		t := opts.Since.UTC()
		requested = &t
	}
	effective := requested

	var cp *storage.Checkpoint
	resumed := false
	if opts.ResumeFromCheckpoint && opts.CheckpointKey != "" {
		var err error
		cp, err = p.checkpoints.Get(ctx, opts.CheckpointKey)
		if err != nil {
			return nil, fmt.Errorf("loading checkpoint %s: %w", opts.CheckpointKey, err)
		}
		if cp != nil && cp.LastCaseUpdatedAt != nil && (effective == nil || cp.LastCaseUpdatedAt.After(*effective)) {
			effective = cp.LastCaseUpdatedAt
			resumed = true
		}
	}

	runID, err := p.ledger.Start(ctx, storage.StartParams{
		Source:         opts.Source,
		RequestedSince: requested,
		EffectiveSince: effective,
		CaseLimit:      opts.CaseLimit,
		CheckpointKey:  opts.CheckpointKey,
		Resumed:        resumed,
	})
	if err != nil {
		return nil, err
	}
	ctx = logger.WithRunID(ctx, runID)
	log := p.logger.With("run_id", runID, "source", opts.Source)

	sum := &Summary{
		RunID:          runID,
		Source:         opts.Source,
		EffectiveSince: effective,
		Resumed:        resumed,
		Status:         storage.RunRunning,
	}
	log.Info("starting ingestion",
		"requested_since", requested,
		"effective_since", effective,
		"resume_from_checkpoint", opts.ResumeFromCheckpoint,
		"checkpoint_key", opts.CheckpointKey,
		"case_limit", opts.CaseLimit,
	)

	var (
		state     runState
		processed int
		runErr    error
		lastErr   string
	)
	for c, err := range p.client.ListCases(ctx, effective) {
		if err != nil {
			var verr *validator.ValidationError
			if !errors.As(err, &verr) {
				runErr = fmt.Errorf("listing cases: %w", err)
				break
			}
			caseErr := &CaseError{CaseID: verr.ID, Stage: StageDecodeCase, Err: err}
			p.recordCaseError(log, sum, caseErr)
			lastErr = caseErr.Error()
			processed++
			if !opts.ContinueOnError {
				runErr = caseErr
				break
			}
			if opts.CaseLimit > 0 && processed >= opts.CaseLimit {
				break
			}
			continue
		}

		if cp != nil && resumed && c.ExternalID == cp.LastCaseExternalID && sameInstant(c.UpdatedAt, cp.LastCaseUpdatedAt) {
			log.Debug("skipping case already at checkpoint", "case_id", c.ExternalID)
			continue
		}
		p.observeOrder(log, &state, c)

		res, err := p.ingestCase(ctx, runID, opts, c)
		if err == nil {
			sum.Cases++
			sum.Dockets += res.dockets
			sum.Documents += len(res.documents)
			p.metrics.CasesIngestedTotal.WithLabelValues(string(opts.Source)).Inc()
			p.metrics.DocketsIngestedTotal.WithLabelValues(string(opts.Source)).Add(float64(res.dockets))
			p.metrics.DocumentsIngestedTotal.WithLabelValues(string(opts.Source)).Add(float64(len(res.documents)))
			err = p.advanceCheckpoint(ctx, log, &state, runID, opts, c)
			p.afterCommit(ctx, log, runID, opts, c, res)
		}
		processed++

		if err != nil {
			var caseErr *CaseError
			if !errors.As(err, &caseErr) {
				caseErr = &CaseError{CaseID: c.ExternalID, Stage: StagePersist, Err: err}
			}
			p.recordCaseError(log, sum, caseErr)
			lastErr = caseErr.Error()
			if !opts.ContinueOnError {
				runErr = caseErr
				break
			}
			if ctx.Err() != nil {
				runErr = fmt.Errorf("run interrupted: %w", ctx.Err())
				break
			}
		}

		if opts.CaseLimit > 0 && processed >= opts.CaseLimit {
			log.Info("reached case limit", "limit", opts.CaseLimit)
			break
		}
	}

	return p.finish(ctx, log, sum, started, runErr, lastErr)
}

func (p *Pipeline) finish(ctx context.Context, log *slog.Logger, sum *Summary, started time.Time, runErr error, lastErr string) (*Summary, error) {
	status := storage.RunSucceeded
	msg := lastErr
	if runErr != nil {
		status = storage.RunFailed
		msg = runErr.Error()
	}
	if err := p.ledger.Finish(context.WithoutCancel(ctx), sum.RunID, status, sum.counters(), msg); err != nil {
		log.Error("failed to finalize run", "error", err)
		sum.Status = storage.RunFailed
		p.metrics.RunDuration.WithLabelValues(string(sum.Source), string(storage.RunFailed)).Observe(time.Since(started).Seconds())
		return sum, errors.Join(runErr, fmt.Errorf("finalizing run %s: %w", sum.RunID, err))
	}
	sum.Status = status
	p.metrics.RunDuration.WithLabelValues(string(sum.Source), string(status)).Observe(time.Since(started).Seconds())
	log.Info("ingestion finished",
		"status", status,
		"cases", sum.Cases,
		"dockets", sum.Dockets,
		"documents", sum.Documents,
		"errors", sum.Errors,
		"elapsed", time.Since(started),
	)
	return sum, runErr
}

func (p *Pipeline) recordCaseError(log *slog.Logger, sum *Summary, e *CaseError) {
	sum.Errors++
	class := apperrors.Classify(e.Err)
	p.metrics.CaseErrorsTotal.WithLabelValues(e.Stage, class).Inc()
	log.Error("failed to ingest case",
		"case_id", e.CaseID,
		"stage", e.Stage,
		"error_class", class,
		"error", e.Err,
	)
}

func (p *Pipeline) observeOrder(log *slog.Logger, state *runState, c clearinghouse.Case) {
	if c.UpdatedAt == nil {
		return
	}
	if state.maxSeen != nil && c.UpdatedAt.Before(*state.maxSeen) {
		p.metrics.OrderViolationsTotal.Inc()
		if !state.frozen {
			log.Warn("case arrived out of update order, checkpoint frozen for the rest of the run",
				"case_id", c.ExternalID,
				"case_updated_at", c.UpdatedAt,
				"max_seen", state.maxSeen,
			)
		}
		state.frozen = true
		return
	}
	state.maxSeen = c.UpdatedAt
}

// ingestCase fetches the case subtree and then writes it in one unit.
func (p *Pipeline) ingestCase(ctx context.Context, runID string, opts Options, c clearinghouse.Case) (caseResult, error) {
	dockets, err := p.client.ListDockets(ctx, c.ExternalID)
	if err != nil {
		return caseResult{}, &CaseError{CaseID: c.ExternalID, Stage: StageFetchDockets, Err: err}
	}
	documents := make([][]clearinghouse.Document, len(dockets))
	for i, d := range dockets {
		docs, err := p.client.ListDocuments(ctx, c.ExternalID, d.ExternalID)
		if err != nil {
			return caseResult{}, &CaseError{CaseID: c.ExternalID, Stage: StageFetchDocuments, Err: err}
		}
		documents[i] = docs
	}

	var res caseResult
	err = p.repo.InUnit(ctx, func(u *storage.Unit) error {
		res = caseResult{}
		archive := func(rt clearinghouse.ResourceType, id string, raw []byte) error {
			if !opts.ArchiveRawPayloads || len(raw) == 0 {
				return nil
			}
			hash, err := p.archive.Archive(ctx, u.Querier(), storage.Payload{
				ResourceType: rt,
				ResourceID:   id,
				Source:       opts.Source,
				RunID:        runID,
				Bytes:        raw,
			})
			if err != nil {
				return err
			}
			res.hashes = append(res.hashes, hash)
			return nil
		}

		if _, err := u.UpsertCase(ctx, &c); err != nil {
			return err
		}
		if err := archive(clearinghouse.ResourceCase, c.ExternalID, c.Raw); err != nil {
			return err
		}
		for i := range dockets {
			d := &dockets[i]
			if _, err := u.UpsertDocket(ctx, d); err != nil {
				return err
			}
			if err := archive(clearinghouse.ResourceDocket, d.ExternalID, d.Raw); err != nil {
				return err
			}
			res.dockets++
			for j := range documents[i] {
				doc := &documents[i][j]
				if _, err := u.UpsertDocument(ctx, doc); err != nil {
					return err
				}
				if err := archive(clearinghouse.ResourceDocument, doc.ExternalID, doc.Raw); err != nil {
					return err
				}
				res.documents = append(res.documents, *doc)
			}
		}
		return nil
	})
	if err != nil {
		return caseResult{}, &CaseError{CaseID: c.ExternalID, Stage: StagePersist, Err: err}
	}
	return res, nil
}

func (p *Pipeline) advanceCheckpoint(ctx context.Context, log *slog.Logger, state *runState, runID string, opts Options, c clearinghouse.Case) error {
	if opts.CheckpointKey == "" || state.frozen {
		return nil
	}
	cp, err := p.checkpoints.Advance(ctx, opts.CheckpointKey, opts.Source, c.ExternalID, c.UpdatedAt, runID)
	if err != nil {
		return &CaseError{CaseID: c.ExternalID, Stage: StageCheckpoint, Err: err}
	}
	if cp.LastCaseUpdatedAt != nil {
		p.metrics.CheckpointCursor.WithLabelValues(opts.CheckpointKey).Set(float64(cp.LastCaseUpdatedAt.Unix()))
	}
	log.Debug("checkpoint advanced",
		"checkpoint_key", opts.CheckpointKey,
		"case_id", cp.LastCaseExternalID,
		"case_updated_at", cp.LastCaseUpdatedAt,
	)
	return nil
}

// afterCommit runs the steps that must never undo or fail a committed case.
func (p *Pipeline) afterCommit(ctx context.Context, log *slog.Logger, runID string, opts Options, c clearinghouse.Case, res caseResult) {
	p.archive.Remember(ctx, res.hashes)

	if p.events != nil {
		err := p.events.Publish(ctx, kafka.Event{
			Type:  kafka.EventCaseIngested,
			Key:   c.ExternalID,
			RunID: runID,
			Value: CaseIngestedEvent{
				RunID:         runID,
				Source:        string(opts.Source),
				CaseID:        c.ExternalID,
				CaseUpdatedAt: c.UpdatedAt,
				Dockets:       res.dockets,
				Documents:     len(res.documents),
				PayloadHashes: res.hashes,
				IngestedAt:    time.Now().UTC(),
			},
		})
		result := "ok"
		if err != nil {
			result = "error"
			log.Warn("failed to publish case event", "case_id", c.ExternalID, "error", err)
		}
		p.metrics.EventsPublishedTotal.WithLabelValues(result).Inc()
	}

	if p.summarizer == nil {
		return
	}
	for _, doc := range res.documents {
		summary, err := p.summarizer.Summarize(doc)
		if err == nil {
			err = p.repo.SetDocumentSummary(ctx, doc.ExternalID, summary)
		}
		if err != nil {
			p.metrics.SummariesTotal.WithLabelValues("error").Inc()
			log.Warn("failed to summarize document",
				"case_id", c.ExternalID,
				"document_id", doc.ExternalID,
				"error", err,
			)
			continue
		}
		p.metrics.SummariesTotal.WithLabelValues("ok").Inc()
	}
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
