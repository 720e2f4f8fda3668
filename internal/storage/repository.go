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

// Repository upserts the case hierarchy keyed by external identifier.
type Repository struct {
	db  *database.Client
	now func() time.Time
}

func NewRepository(db *database.Client) *Repository {
	return &Repository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Unit is one case-scoped transaction. Parents must be upserted through the
// same Unit before their children.
type Unit struct {
	tx           *sql.Tx
	now          time.Time
	cases        map[string]int64
	dockets      map[string]int64
	docketToCase map[string]string
}

// InUnit runs fn inside a transaction. Any error returned by fn rolls back
// every write made through the Unit. Unclassified failures are reported as
// persistence errors.
func (r *Repository) InUnit(ctx context.Context, fn func(u *Unit) error) error {
	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		return fn(&Unit{
			tx:           tx,
			now:          r.now(),
			cases:        make(map[string]int64),
			dockets:      make(map[string]int64),
			docketToCase: make(map[string]string),
		})
	})
	if err != nil && apperrors.Classify(err) == apperrors.ClassUnknown {
		return apperrors.Wrap(apperrors.ErrPersistence, err, "case unit of work")
	}
	return err
}

// Querier exposes the unit's transaction for writes that must commit or roll
// back with the entities, such as archived payloads.
func (u *Unit) Querier() database.Querier {
	return u.tx
}

func (u *Unit) UpsertCase(ctx context.Context, c *clearinghouse.Case) (int64, error) {
	var id int64
	err := u.tx.QueryRowContext(ctx, `
		INSERT INTO cases (external_id, name, court, state, jurisdiction, status,
			remote_updated_at, documents_url, dockets_url, metadata_json, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (external_id) DO UPDATE SET
			name = EXCLUDED.name,
			court = EXCLUDED.court,
			state = EXCLUDED.state,
			jurisdiction = EXCLUDED.jurisdiction,
			status = EXCLUDED.status,
			remote_updated_at = EXCLUDED.remote_updated_at,
			documents_url = EXCLUDED.documents_url,
			dockets_url = EXCLUDED.dockets_url,
			metadata_json = EXCLUDED.metadata_json,
			updated_at = EXCLUDED.updated_at
		RETURNING id`,
		c.ExternalID, c.Name,
		database.StringArg(c.Court), database.StringArg(c.State),
		database.StringArg(c.Jurisdiction), database.StringArg(c.Status),
		database.TimeArg(c.UpdatedAt),
		database.StringArg(c.DocumentsURL), database.StringArg(c.DocketsURL),
		jsonArg(c.Raw), u.now, u.now,
	).Scan(&id)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrPersistence, err, "upserting case %s", c.ExternalID)
	}
	u.cases[c.ExternalID] = id
	return id, nil
}

func (u *Unit) UpsertDocket(ctx context.Context, d *clearinghouse.Docket) (int64, error) {
	caseID, ok := u.cases[d.CaseExternalID]
	if !ok {
		return 0, apperrors.Newf(apperrors.ErrReferential, 0,
			"docket %s references case %s which was not upserted in this unit", d.ExternalID, d.CaseExternalID)
	}
	var isMain any
	if d.IsMain != nil {
		isMain = *d.IsMain
	}
	var id int64
	err := u.tx.QueryRowContext(ctx, `
		INSERT INTO dockets (external_id, case_id, case_external_id, docket_number, court, state,
			is_main, metadata_json, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (external_id) DO UPDATE SET
			case_id = EXCLUDED.case_id,
			case_external_id = EXCLUDED.case_external_id,
			docket_number = EXCLUDED.docket_number,
			court = EXCLUDED.court,
			state = EXCLUDED.state,
			is_main = EXCLUDED.is_main,
			metadata_json = EXCLUDED.metadata_json,
			updated_at = EXCLUDED.updated_at
		RETURNING id`,
		d.ExternalID, caseID, d.CaseExternalID,
		database.StringArg(d.DocketNumber), database.StringArg(d.Court), database.StringArg(d.State),
		isMain, jsonArg(d.Raw), u.now, u.now,
	).Scan(&id)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrPersistence, err, "upserting docket %s", d.ExternalID)
	}
	u.dockets[d.ExternalID] = id
	u.docketToCase[d.ExternalID] = d.CaseExternalID
	return id, nil
}

// UpsertDocument overwrites every attribute except the summary, which is
// owned by the post-commit summarization step.
func (u *Unit) UpsertDocument(ctx context.Context, doc *clearinghouse.Document) (int64, error) {
	docketID, ok := u.dockets[doc.DocketExternalID]
	if !ok {
		return 0, apperrors.Newf(apperrors.ErrReferential, 0,
			"document %s references docket %s which was not upserted in this unit", doc.ExternalID, doc.DocketExternalID)
	}
	if owner := u.docketToCase[doc.DocketExternalID]; owner != doc.CaseExternalID {
		return 0, apperrors.Newf(apperrors.ErrReferential, 0,
			"document %s claims case %s but docket %s belongs to case %s",
			doc.ExternalID, doc.CaseExternalID, doc.DocketExternalID, owner)
	}
	caseID := u.cases[doc.CaseExternalID]
	var text any
	if doc.Text != nil {
		text = *doc.Text
	}
	var id int64
	err := u.tx.QueryRowContext(ctx, `
		INSERT INTO documents (external_id, case_id, docket_id, case_external_id, docket_external_id,
			title, document_type, filed_date, court, subject, external_url, text_url, has_text, text,
			metadata_json, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (external_id) DO UPDATE SET
			case_id = EXCLUDED.case_id,
			docket_id = EXCLUDED.docket_id,
			case_external_id = EXCLUDED.case_external_id,
			docket_external_id = EXCLUDED.docket_external_id,
			title = EXCLUDED.title,
			document_type = EXCLUDED.document_type,
			filed_date = EXCLUDED.filed_date,
			court = EXCLUDED.court,
			subject = EXCLUDED.subject,
			external_url = EXCLUDED.external_url,
			text_url = EXCLUDED.text_url,
			has_text = EXCLUDED.has_text,
			text = EXCLUDED.text,
			metadata_json = EXCLUDED.metadata_json,
			updated_at = EXCLUDED.updated_at
		RETURNING id`,
		doc.ExternalID, caseID, docketID, doc.CaseExternalID, doc.DocketExternalID,
		doc.Title, database.StringArg(doc.DocumentType), database.TimeArg(doc.Date),
		database.StringArg(doc.Court), database.StringArg(doc.Subject),
		database.StringArg(doc.ExternalURL), database.StringArg(doc.TextURL),
		doc.HasText, text, jsonArg(doc.Raw), u.now, u.now,
	).Scan(&id)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrPersistence, err, "upserting document %s", doc.ExternalID)
	}
	return id, nil
}

// jsonArg binds raw JSON as text so PostgreSQL can coerce it into JSONB.
func jsonArg(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// SetDocumentSummary stores a summary for an already committed document.
func (r *Repository) SetDocumentSummary(ctx context.Context, externalID, summary string) error {
	res, err := r.db.DB.ExecContext(ctx,
		`UPDATE documents SET summary = $1 WHERE external_id = $2`, summary, externalID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrPersistence, err, "storing summary for document %s", externalID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, 404, "document %s not found", externalID)
	}
	return nil
}

// EntityCounts reports the number of rows per entity table.
type EntityCounts struct {
	Cases     int
	Dockets   int
	Documents int
	Payloads  int
}

func (r *Repository) Counts(ctx context.Context) (EntityCounts, error) {
	var c EntityCounts
	err := r.db.DB.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM cases),
			(SELECT COUNT(*) FROM dockets),
			(SELECT COUNT(*) FROM documents),
			(SELECT COUNT(*) FROM raw_api_payloads)`,
	).Scan(&c.Cases, &c.Dockets, &c.Documents, &c.Payloads)
	if err != nil {
		return EntityCounts{}, fmt.Errorf("counting entities: %w", err)
	}
	return c, nil
}

// StoredCase is the persisted view of a case.
type StoredCase struct {
	ID              int64
	ExternalID      string
	Name            string
	Status          string
	RemoteUpdatedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (r *Repository) Case(ctx context.Context, externalID string) (*StoredCase, error) {
	var (
		sc                   StoredCase
		status               sql.NullString
		remote, created, upd database.NullTime
	)
	err := r.db.DB.QueryRowContext(ctx, `
		SELECT id, external_id, name, status, remote_updated_at, created_at, updated_at
		FROM cases WHERE external_id = $1`, externalID,
	).Scan(&sc.ID, &sc.ExternalID, &sc.Name, &status, &remote, &created, &upd)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, 404, "case %s not found", externalID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading case %s: %w", externalID, err)
	}
	sc.Status = status.String
	sc.RemoteUpdatedAt = remote.Ptr()
	sc.CreatedAt = created.Time
	sc.UpdatedAt = upd.Time
	return &sc, nil
}

// StoredDocument is the persisted view of a document.
type StoredDocument struct {
	ID               int64
	ExternalID       string
	DocketExternalID string
	Title            string
	HasText          bool
	Text             *string
	Summary          *string
}

func (r *Repository) Document(ctx context.Context, externalID string) (*StoredDocument, error) {
	var (
		sd            StoredDocument
		text, summary sql.NullString
	)
	err := r.db.DB.QueryRowContext(ctx, `
		SELECT id, external_id, docket_external_id, title, has_text, text, summary
		FROM documents WHERE external_id = $1`, externalID,
	).Scan(&sd.ID, &sd.ExternalID, &sd.DocketExternalID, &sd.Title, &sd.HasText, &text, &summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, 404, "document %s not found", externalID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading document %s: %w", externalID, err)
	}
	if text.Valid {
		sd.Text = &text.String
	}
	if summary.Valid {
		sd.Summary = &summary.String
	}
	return &sd, nil
}
