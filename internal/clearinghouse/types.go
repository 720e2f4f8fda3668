// Package clearinghouse defines the typed records of the three-level
// Clearinghouse hierarchy (case → docket → document) as they leave the API
// client boundary. Every record keeps the raw JSON it was decoded from so the
// pipeline can archive it unmodified.
package clearinghouse

import (
	"encoding/json"
	"time"
)

// Source identifies where a run pulls records from.
type Source string

const (
	SourceMock Source = "mock"
	SourceLive Source = "live"
)

// ResourceType labels raw payloads in the archive.
type ResourceType string

const (
	ResourceCase     ResourceType = "case"
	ResourceDocket   ResourceType = "docket"
	ResourceDocument ResourceType = "document"
)

// Case is the root of the hierarchy. UpdatedAt is the upstream
// last-checked timestamp that drives checkpointing.
type Case struct {
	ExternalID   string
	Name         string
	Court        string
	State        string
	Jurisdiction string
	Status       string
	UpdatedAt    *time.Time
	DocumentsURL string
	DocketsURL   string
	Raw          json.RawMessage
}

// Docket belongs to exactly one case.
type Docket struct {
	ExternalID     string
	CaseExternalID string
	DocketNumber   string
	Court          string
	State          string
	IsMain         *bool
	Raw            json.RawMessage
}

// Document belongs to exactly one docket. Text is nil when the source did
// not supply extracted text.
type Document struct {
	ExternalID       string
	CaseExternalID   string
	DocketExternalID string
	Title            string
	DocumentType     string
	Date             *time.Time
	Court            string
	Subject          string
	HasText          bool
	TextURL          string
	ExternalURL      string
	Text             *string
	Raw              json.RawMessage
}
