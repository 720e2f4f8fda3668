package ingest

import (
	"context"
	"time"

	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/kafka"
)

// EventPublisher is satisfied by *kafka.Producer.
type EventPublisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// CaseIngestedEvent announces that a case and its full subtree committed.
// Events are keyed by case id so updates to one case stay ordered per
// partition.
type CaseIngestedEvent struct {
	RunID         string     `json:"run_id"`
	Source        string     `json:"source"`
	CaseID        string     `json:"case_id"`
	CaseUpdatedAt *time.Time `json:"case_updated_at,omitempty"`
	Dockets       int        `json:"dockets"`
	Documents     int        `json:"documents"`
	PayloadHashes []string   `json:"payload_hashes,omitempty"`
	IngestedAt    time.Time  `json:"ingested_at"`
}
