package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/internal/clearinghouse"
	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/internal/clearinghouse/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/errors"
)

// externalID accepts identifiers encoded as JSON strings or numbers.
type externalID string

func (id *externalID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = externalID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("identifier must be a string or number, got %s", b)
	}
	*id = externalID(n.String())
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTimestamp returns nil for the empty string. Values without a zone are
// taken as UTC.
func parseTimestamp(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unparseable timestamp %q", s)
}

// optionalTimestamp drops unparseable values.
func optionalTimestamp(s string) *time.Time {
	t, _ := parseTimestamp(s)
	return t
}

func decodeError(resource clearinghouse.ResourceType, err error) error {
	return apperrors.Wrap(apperrors.ErrPermanent, err, "decoding %s payload", resource)
}

func invalid(err error) error {
	if err == nil {
		return nil
	}
	return apperrors.Wrap(apperrors.ErrPermanent, err, "schema validation failed")
}

// stripKey returns the object in raw without key. Nested children are
// archived as their own payloads.
func stripKey(raw json.RawMessage, key string) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	if _, ok := fields[key]; !ok {
		return raw, nil
	}
	delete(fields, key)
	return json.Marshal(fields)
}

type apiCase struct {
	ID           externalID `json:"id"`
	Name         string     `json:"name"`
	Court        string     `json:"court"`
	State        string     `json:"state"`
	Jurisdiction string     `json:"jurisdiction"`
	Status       string     `json:"case_status"`
	LastChecked  string     `json:"last_checked_date"`
	DocumentsURL string     `json:"case_documents_url"`
	DocketsURL   string     `json:"case_dockets_url"`
}

type apiDocket struct {
	ID           externalID `json:"id"`
	DocketNumber string     `json:"docket_number_manual"`
	Court        string     `json:"court"`
	State        string     `json:"state"`
	IsMain       *bool      `json:"is_main_docket"`
}

type apiDocument struct {
	ID                externalID `json:"id"`
	DocketID          externalID `json:"docket_id"`
	Title             *string    `json:"title"`
	DocumentType      string     `json:"document_type"`
	Date              string     `json:"date"`
	Court             string     `json:"court"`
	Subject           string     `json:"subject"`
	HasText           bool       `json:"has_text"`
	TextURL           string     `json:"text_url"`
	ExternalURL       string     `json:"external_url"`
	ClearinghouseLink string     `json:"clearinghouse_link"`
}

func decodeAPICase(raw json.RawMessage) (clearinghouse.Case, error) {
	var w apiCase
	if err := json.Unmarshal(raw, &w); err != nil {
		return clearinghouse.Case{}, decodeError(clearinghouse.ResourceCase, err)
	}
	c := clearinghouse.Case{
		ExternalID:   string(w.ID),
		Name:         w.Name,
		Court:        w.Court,
		State:        w.State,
		Jurisdiction: w.Jurisdiction,
		Status:       w.Status,
		DocumentsURL: w.DocumentsURL,
		DocketsURL:   w.DocketsURL,
		Raw:          raw,
	}
	v := validator.NewCollector(clearinghouse.ResourceCase, c.ExternalID)
	ts, err := parseTimestamp(w.LastChecked)
	if err != nil {
		v.Add("last_checked_date", err.Error())
	}
	c.UpdatedAt = ts
	return c, invalid(validator.ValidateCase(v, &c))
}

func decodeAPIDocket(raw json.RawMessage, caseID string) (clearinghouse.Docket, error) {
	var w apiDocket
	if err := json.Unmarshal(raw, &w); err != nil {
		return clearinghouse.Docket{}, decodeError(clearinghouse.ResourceDocket, err)
	}
	d := clearinghouse.Docket{
		ExternalID:     string(w.ID),
		CaseExternalID: caseID,
		DocketNumber:   w.DocketNumber,
		Court:          w.Court,
		State:          w.State,
		IsMain:         w.IsMain,
		Raw:            raw,
	}
	return d, invalid(validator.ValidateDocket(validator.NewCollector(clearinghouse.ResourceDocket, d.ExternalID), &d))
}

// decodeAPIDocument leaves DocketExternalID empty when the payload has no
// docket reference; callers decide what to do with such documents.
func decodeAPIDocument(raw json.RawMessage, caseID string) (clearinghouse.Document, error) {
	var w apiDocument
	if err := json.Unmarshal(raw, &w); err != nil {
		return clearinghouse.Document{}, decodeError(clearinghouse.ResourceDocument, err)
	}
	title := "Untitled"
	if w.Title != nil {
		title = *w.Title
	}
	external := w.ExternalURL
	if external == "" {
		external = w.ClearinghouseLink
	}
	return clearinghouse.Document{
		ExternalID:       string(w.ID),
		CaseExternalID:   caseID,
		DocketExternalID: string(w.DocketID),
		Title:            title,
		DocumentType:     w.DocumentType,
		Date:             optionalTimestamp(w.Date),
		Court:            w.Court,
		Subject:          w.Subject,
		HasText:          w.HasText,
		TextURL:          w.TextURL,
		ExternalURL:      external,
		Raw:              raw,
	}, nil
}
