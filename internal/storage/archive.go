package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/internal/clearinghouse"
	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/database"
	apperrors "github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/metrics"
)

// Archive results reported in metrics.
const (
	ArchiveInserted  = "inserted"
	ArchiveDuplicate = "duplicate"
	ArchiveCached    = "cached"
)

// Payload is one raw upstream response body and where it came from.
type Payload struct {
	ResourceType clearinghouse.ResourceType
	ResourceID   string
	Source       clearinghouse.Source
	RunID        string
	Bytes        []byte
}

// HashCache remembers hashes already known to be archived. Remember must only
// be called once the rows holding those hashes are committed. The cache is
// never trusted to skip a write: it may have been warmed against another
// database.
type HashCache interface {
	Seen(ctx context.Context, hash string) (bool, error)
	Remember(ctx context.Context, hashes []string) error
}

// Archive is the content-addressed raw payload store. Rows are never updated
// or deleted.
type Archive struct {
	cache   HashCache
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewArchive(m *metrics.Metrics, cache HashCache) *Archive {
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Archive{
		cache:   cache,
		metrics: m,
		logger:  slog.Default().With("component", "payload-archive"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ContentHash returns the hex SHA-256 of the canonical form of b.
func ContentHash(b []byte) string {
	sum := sha256.Sum256(Canonicalize(b))
	return hex.EncodeToString(sum[:])
}

// Canonicalize re-encodes JSON with sorted object keys, no insignificant
// whitespace and numbers kept verbatim. Input that is not a single JSON value
// is returned unchanged.
func Canonicalize(b []byte) []byte {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return b
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return b
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
}

// Archive stores p.Bytes unless a payload with the same content hash already
// exists and returns the hash either way. q is normally the case unit's
// transaction. The insert always runs; the hash cache only labels a
// duplicate as already known.
func (a *Archive) Archive(ctx context.Context, q database.Querier, p Payload) (string, error) {
	hash := ContentHash(p.Bytes)
	res, err := q.ExecContext(ctx, `
		INSERT INTO raw_api_payloads (content_hash, resource_type, resource_id, source, first_run_id, payload, first_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (content_hash) DO NOTHING`,
		hash, string(p.ResourceType), database.StringArg(p.ResourceID),
		database.StringArg(string(p.Source)), database.StringArg(p.RunID),
		p.Bytes, a.now(),
	)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrPersistence, err, "archiving %s %s", p.ResourceType, p.ResourceID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrPersistence, err, "archiving %s %s", p.ResourceType, p.ResourceID)
	}

	result := ArchiveInserted
	if n == 0 {
		result = ArchiveDuplicate
		if a.seen(ctx, hash) {
			result = ArchiveCached
		}
	}
	a.metrics.PayloadsArchivedTotal.WithLabelValues(string(p.ResourceType), result).Inc()
	return hash, nil
}

func (a *Archive) seen(ctx context.Context, hash string) bool {
	if a.cache == nil {
		return false
	}
	ok, err := a.cache.Seen(ctx, hash)
	if err != nil {
		a.logger.Warn("hash cache lookup failed", "hash", hash, "error", err)
		return false
	}
	return ok
}

// Remember forwards committed hashes to the cache. Failures are logged only.
func (a *Archive) Remember(ctx context.Context, hashes []string) {
	if a.cache == nil || len(hashes) == 0 {
		return
	}
	if err := a.cache.Remember(ctx, hashes); err != nil {
		a.logger.Warn("hash cache update failed", "hashes", len(hashes), "error", err)
	}
}

// StoredPayload is one archive row.
type StoredPayload struct {
	ContentHash  string
	ResourceType string
	ResourceID   string
	Payload      []byte
	FirstSeenAt  time.Time
}

// Lookup returns the archived payload with the given hash.
func (a *Archive) Lookup(ctx context.Context, q database.Querier, hash string) (*StoredPayload, error) {
	var (
		sp         StoredPayload
		resourceID *string
		seen       database.NullTime
	)
	err := q.QueryRowContext(ctx, `
		SELECT content_hash, resource_type, resource_id, payload, first_seen_at
		FROM raw_api_payloads WHERE content_hash = $1`, hash,
	).Scan(&sp.ContentHash, &sp.ResourceType, &resourceID, &sp.Payload, &seen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, 404, "payload %s not found", hash)
	}
	if err != nil {
		return nil, fmt.Errorf("loading payload %s: %w", hash, err)
	}
	if resourceID != nil {
		sp.ResourceID = *resourceID
	}
	sp.FirstSeenAt = seen.Time
	return &sp, nil
}
