package ingest

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/internal/clearinghouse"
	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/internal/summarize"
	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/metrics"
)

// Options parameterize a single run.
type Options struct {
	Source clearinghouse.Source
	// Since is the inclusive lower bound on case update time. Nil means the
	// whole upstream history.
	Since *time.Time
	// CaseLimit caps the cases processed in this run; 0 means no cap.
	CaseLimit int
	// CheckpointKey names the resume cursor. Empty disables checkpointing.
	CheckpointKey        string
	ResumeFromCheckpoint bool
	ArchiveRawPayloads   bool
	// ContinueOnError records case failures and moves on; otherwise the
	// first case failure aborts the run.
	ContinueOnError bool
}

func (o Options) validate() error {
	switch o.Source {
	case clearinghouse.SourceMock, clearinghouse.SourceLive:
	default:
		return fmt.Errorf("unknown source %q", o.Source)
	}
	if o.CaseLimit < 0 {
		return fmt.Errorf("case limit must not be negative, got %d", o.CaseLimit)
	}
	return nil
}

// Summary reports the outcome of a run.
type Summary struct {
	RunID          string
	Source         clearinghouse.Source
	EffectiveSince *time.Time
	Resumed        bool
	Status         storage.RunStatus
	Cases          int
	Dockets        int
	Documents      int
	Errors         int
}

func (s *Summary) String() string {
	return fmt.Sprintf("run_id=%s cases=%d dockets=%d documents=%d errors=%d",
		s.RunID, s.Cases, s.Dockets, s.Documents, s.Errors)
}

func (s *Summary) counters() storage.Counters {
	return storage.Counters{Cases: s.Cases, Dockets: s.Dockets, Documents: s.Documents, Errors: s.Errors}
}

type Option func(*Pipeline)

// WithSummarizer enables post-commit document summaries.
func WithSummarizer(s summarize.Summarizer) Option {
	return func(p *Pipeline) { p.summarizer = s }
}

// WithEventPublisher publishes a CaseIngested event after each committed case.
func WithEventPublisher(pub EventPublisher) Option {
	return func(p *Pipeline) { p.events = pub }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithHashCache puts a cache of archived content hashes in front of the
// payload archive.
func WithHashCache(c storage.HashCache) Option {
	return func(p *Pipeline) { p.hashCache = c }
}
