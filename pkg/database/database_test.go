package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *Client {
	t.Helper()
	c, err := New(config.DatabaseConfig{
		Driver: config.DriverSQLite,
		URL:    filepath.Join(t.TempDir(), "nested", "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New(config.DatabaseConfig{Driver: "mysql", URL: "x"})
	assert.Error(t, err)
}

func TestInTxCommitsAndRollsBack(t *testing.T) {
	c := openSQLite(t)
	ctx := context.Background()
	_, err := c.DB.ExecContext(ctx, `CREATE TABLE items (name TEXT NOT NULL)`)
	require.NoError(t, err)

	err = c.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO items (name) VALUES ($1)`, "kept")
		return err
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = c.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO items (name) VALUES ($1)`, "discarded"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, c.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestNullTimeRoundTrip(t *testing.T) {
	c := openSQLite(t)
	ctx := context.Background()
	_, err := c.DB.ExecContext(ctx, `CREATE TABLE stamps (at DATETIME)`)
	require.NoError(t, err)

	at := time.Date(2024, 3, 1, 12, 30, 15, 0, time.FixedZone("EST", -5*3600))
	_, err = c.DB.ExecContext(ctx, `INSERT INTO stamps (at) VALUES ($1), ($2)`, TimeArg(&at), TimeArg(nil))
	require.NoError(t, err)

	rows, err := c.DB.QueryContext(ctx, `SELECT at FROM stamps ORDER BY at IS NULL, at`)
	require.NoError(t, err)
	defer rows.Close()

	var got []NullTime
	for rows.Next() {
		var nt NullTime
		require.NoError(t, rows.Scan(&nt))
		got = append(got, nt)
	}
	require.NoError(t, rows.Err())
	require.Len(t, got, 2)
	assert.True(t, got[0].Valid)
	assert.True(t, at.Equal(got[0].Time))
	assert.Equal(t, time.UTC, got[0].Time.Location())
	assert.Nil(t, got[1].Ptr())
}

func TestNullTimeParsesDriverStrings(t *testing.T) {
	for _, s := range []string{
		"2024-03-01 12:30:15+00:00",
		"2024-03-01T12:30:15Z",
		"2024-03-01 12:30:15",
	} {
		var nt NullTime
		require.NoError(t, nt.Scan(s), s)
		assert.Equal(t, time.Date(2024, 3, 1, 12, 30, 15, 0, time.UTC), nt.Time, s)
	}
	var nt NullTime
	assert.Error(t, nt.Scan("yesterday"))
	assert.Error(t, nt.Scan(42))
}
