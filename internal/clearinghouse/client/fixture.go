package client

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/internal/clearinghouse"
	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/internal/clearinghouse/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/errors"
)

type fixtureFile struct {
	Cases []json.RawMessage `json:"cases"`
}

type fixtureCase struct {
	ID           externalID        `json:"id"`
	Name         string            `json:"name"`
	Court        string            `json:"court"`
	State        string            `json:"state"`
	Jurisdiction string            `json:"jurisdiction"`
	Status       string            `json:"status"`
	UpdatedAt    string            `json:"updated_at"`
	DocumentsURL string            `json:"documents_url"`
	DocketsURL   string            `json:"dockets_url"`
	Dockets      []json.RawMessage `json:"dockets"`
}

type fixtureDocket struct {
	ID        externalID        `json:"id"`
	Number    string            `json:"number"`
	Court     *string           `json:"court"`
	State     string            `json:"state"`
	IsMain    *bool             `json:"is_main"`
	Documents []json.RawMessage `json:"documents"`
}

type fixtureDocument struct {
	ID           externalID `json:"id"`
	Title        string     `json:"title"`
	DocumentType string     `json:"document_type"`
	FiledDate    string     `json:"filed_date"`
	Court        *string    `json:"court"`
	Text         *string    `json:"text"`
	TextURL      string     `json:"text_url"`
	SourceURL    string     `json:"source_url"`
	Metadata     struct {
		Subject string `json:"subject"`
	} `json:"metadata"`
}

type docketKey struct {
	caseID   string
	docketID string
}

// FixtureClient serves a recorded dataset held in memory. It never fails
// after construction.
type FixtureClient struct {
	cases     []clearinghouse.Case
	dockets   map[string][]clearinghouse.Docket
	documents map[docketKey][]clearinghouse.Document
}

// NewFixtureClient loads the fixture at path.
func NewFixtureClient(path string) (*FixtureClient, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture %s: %w", path, err)
	}
	return NewFixtureClientFromBytes(data)
}

// NewFixtureClientFromBytes parses a fixture of the form
// {"cases": [{..., "dockets": [{..., "documents": [...]}]}]}.
func NewFixtureClientFromBytes(data []byte) (*FixtureClient, error) {
	var file fixtureFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrPermanent, err, "decoding fixture")
	}
	fc := &FixtureClient{
		dockets:   make(map[string][]clearinghouse.Docket),
		documents: make(map[docketKey][]clearinghouse.Document),
	}
	for _, raw := range file.Cases {
		c, dockets, err := fc.decodeCase(raw)
		if err != nil {
			return nil, err
		}
		fc.cases = append(fc.cases, c)
		fc.dockets[c.ExternalID] = dockets
	}
	sort.SliceStable(fc.cases, func(i, j int) bool {
		a, b := fc.cases[i].UpdatedAt, fc.cases[j].UpdatedAt
		if a == nil || b == nil {
			return a == nil && b != nil
		}
		return a.Before(*b)
	})
	return fc, nil
}

func (fc *FixtureClient) decodeCase(raw json.RawMessage) (clearinghouse.Case, []clearinghouse.Docket, error) {
	var w fixtureCase
	if err := json.Unmarshal(raw, &w); err != nil {
		return clearinghouse.Case{}, nil, decodeError(clearinghouse.ResourceCase, err)
	}
	own, err := stripKey(raw, "dockets")
	if err != nil {
		return clearinghouse.Case{}, nil, decodeError(clearinghouse.ResourceCase, err)
	}
	id := string(w.ID)
	state := w.State
	if state == "" {
		state = w.Jurisdiction
	}
	c := clearinghouse.Case{
		ExternalID:   id,
		Name:         w.Name,
		Court:        w.Court,
		State:        state,
		Jurisdiction: w.Jurisdiction,
		Status:       w.Status,
		DocumentsURL: w.DocumentsURL,
		DocketsURL:   w.DocketsURL,
		Raw:          own,
	}
	if c.DocumentsURL == "" {
		c.DocumentsURL = "mock://cases/" + id + "/documents"
	}
	if c.DocketsURL == "" {
		c.DocketsURL = "mock://cases/" + id + "/dockets"
	}
	v := validator.NewCollector(clearinghouse.ResourceCase, id)
	ts, perr := parseTimestamp(w.UpdatedAt)
	if perr != nil {
		v.Add("updated_at", perr.Error())
	}
	c.UpdatedAt = ts
	if err := validator.ValidateCase(v, &c); err != nil {
		return clearinghouse.Case{}, nil, invalid(err)
	}

	dockets := make([]clearinghouse.Docket, 0, len(w.Dockets))
	for _, rawDocket := range w.Dockets {
		d, err := fc.decodeDocket(rawDocket, c)
		if err != nil {
			return clearinghouse.Case{}, nil, err
		}
		dockets = append(dockets, d)
	}
	return c, dockets, nil
}

func (fc *FixtureClient) decodeDocket(raw json.RawMessage, c clearinghouse.Case) (clearinghouse.Docket, error) {
	var w fixtureDocket
	if err := json.Unmarshal(raw, &w); err != nil {
		return clearinghouse.Docket{}, decodeError(clearinghouse.ResourceDocket, err)
	}
	own, err := stripKey(raw, "documents")
	if err != nil {
		return clearinghouse.Docket{}, decodeError(clearinghouse.ResourceDocket, err)
	}
	isMain := true
	if w.IsMain != nil {
		isMain = *w.IsMain
	}
	d := clearinghouse.Docket{
		ExternalID:     string(w.ID),
		CaseExternalID: c.ExternalID,
		DocketNumber:   w.Number,
		Court:          c.Court,
		State:          w.State,
		IsMain:         &isMain,
		Raw:            own,
	}
	if w.Court != nil {
		d.Court = *w.Court
	}
	if d.State == "" {
		d.State = c.State
	}
	if err := validator.ValidateDocket(validator.NewCollector(clearinghouse.ResourceDocket, d.ExternalID), &d); err != nil {
		return clearinghouse.Docket{}, invalid(err)
	}

	key := docketKey{caseID: c.ExternalID, docketID: d.ExternalID}
	for _, rawDoc := range w.Documents {
		doc, err := decodeFixtureDocument(rawDoc, d)
		if err != nil {
			return clearinghouse.Docket{}, err
		}
		fc.documents[key] = append(fc.documents[key], doc)
	}
	return d, nil
}

func decodeFixtureDocument(raw json.RawMessage, d clearinghouse.Docket) (clearinghouse.Document, error) {
	var w fixtureDocument
	if err := json.Unmarshal(raw, &w); err != nil {
		return clearinghouse.Document{}, decodeError(clearinghouse.ResourceDocument, err)
	}
	doc := clearinghouse.Document{
		ExternalID:       string(w.ID),
		CaseExternalID:   d.CaseExternalID,
		DocketExternalID: d.ExternalID,
		Title:            w.Title,
		DocumentType:     w.DocumentType,
		Date:             optionalTimestamp(w.FiledDate),
		Court:            d.Court,
		Subject:          w.Metadata.Subject,
		HasText:          w.Text != nil && *w.Text != "",
		TextURL:          w.TextURL,
		ExternalURL:      w.SourceURL,
		Text:             w.Text,
		Raw:              raw,
	}
	if w.Court != nil {
		doc.Court = *w.Court
	}
	if err := validator.ValidateDocument(validator.NewCollector(clearinghouse.ResourceDocument, doc.ExternalID), &doc); err != nil {
		return clearinghouse.Document{}, invalid(err)
	}
	return doc, nil
}

func (fc *FixtureClient) ListCases(ctx context.Context, since *time.Time) iter.Seq2[clearinghouse.Case, error] {
	return func(yield func(clearinghouse.Case, error) bool) {
		for _, c := range fc.cases {
			if err := ctx.Err(); err != nil {
				yield(clearinghouse.Case{}, err)
				return
			}
			if since != nil && c.UpdatedAt != nil && c.UpdatedAt.Before(*since) {
				continue
			}
			if !yield(c, nil) {
				return
			}
		}
	}
}

func (fc *FixtureClient) ListDockets(_ context.Context, caseID string) ([]clearinghouse.Docket, error) {
	return fc.dockets[caseID], nil
}

func (fc *FixtureClient) ListDocuments(_ context.Context, caseID, docketID string) ([]clearinghouse.Document, error) {
	return fc.documents[docketKey{caseID: caseID, docketID: docketID}], nil
}

func (fc *FixtureClient) GetDocument(_ context.Context, caseID, documentID string) (*clearinghouse.Document, error) {
	for _, d := range fc.dockets[caseID] {
		for _, doc := range fc.documents[docketKey{caseID: caseID, docketID: d.ExternalID}] {
			if doc.ExternalID == documentID {
				return &doc, nil
			}
		}
	}
	return nil, apperrors.Newf(apperrors.ErrNotFound, 404, "document %s not found in case %s", documentID, caseID)
}
