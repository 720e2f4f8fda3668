// Package client fetches Clearinghouse records from either a recorded JSON
// fixture or the live v2.1 API and converts them into the closed set of
// typed records in package clearinghouse.
package client

import (
	"context"
	"iter"
	"time"

	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/internal/clearinghouse"
)

// Client is the read side of the upstream data source.
//
// ListCases yields cases ordered by UpdatedAt ascending; cases without an
// update time come first. The since bound is inclusive. A yielded error
// wrapping *validator.ValidationError concerns a single case and iteration
// may continue; any other error ends the sequence.
//
// Every record carries the raw JSON it was decoded from.
type Client interface {
	ListCases(ctx context.Context, since *time.Time) iter.Seq2[clearinghouse.Case, error]
	ListDockets(ctx context.Context, caseID string) ([]clearinghouse.Docket, error)
	ListDocuments(ctx context.Context, caseID, docketID string) ([]clearinghouse.Document, error)
	// GetDocument returns apperrors.ErrNotFound when the case has no such
	// document.
	GetDocument(ctx context.Context, caseID, documentID string) (*clearinghouse.Document, error)
}
