package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixturePath = filepath.Join("..", "..", "data", "fixtures", "mock_dataset.json")

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("CLEARINGHOUSE_API_TOKEN", "")
	t.Setenv("CLEARINGHOUSE_DATABASE_URL", "")
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestParseSince(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-01-15", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"2024-01-15T08:30:00", time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC)},
		{"2024-01-15T08:30:00Z", time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC)},
		{"2024-01-15T10:30:00+02:00", time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC)},
		{"2024-01-15 08:30:00", time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := parseSince(tt.in)
		require.NoError(t, err, tt.in)
		require.NotNil(t, got)
		assert.True(t, got.Equal(tt.want), "%s parsed as %v", tt.in, got)
		assert.Equal(t, time.UTC, got.Location())
	}

	got, err := parseSince("  ")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parseSince("last tuesday")
	assert.Error(t, err)
}

var summaryLine = regexp.MustCompile(`^Ingestion complete: run_id=[0-9a-f-]{36} cases=(\d+) dockets=(\d+) documents=(\d+) errors=(\d+)\n$`)

func TestIngestMockThenResume(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cli.db")

	out, err := execute(t, "ingest-mock", "--db-url", dbPath, "--fixture", fixturePath, "--case-limit", "1")
	require.NoError(t, err)
	m := summaryLine.FindStringSubmatch(out)
	require.NotNil(t, m, out)
	assert.Equal(t, []string{"1", "1", "2", "0"}, m[1:])

	out, err = execute(t, "ingest-mock", "--db-url", dbPath, "--fixture", fixturePath, "--resume-from-checkpoint")
	require.NoError(t, err)
	m = summaryLine.FindStringSubmatch(out)
	require.NotNil(t, m, out)
	assert.Equal(t, []string{"1", "1", "2", "0"}, m[1:])

	out, err = execute(t, "ingest-mock", "--db-url", dbPath, "--fixture", fixturePath)
	require.NoError(t, err)
	m = summaryLine.FindStringSubmatch(out)
	require.NotNil(t, m, out)
	assert.Equal(t, []string{"2", "2", "4", "0"}, m[1:], "mock runs do not resume unless asked")
}

func TestIngestMockRejectsBadSince(t *testing.T) {
	_, err := execute(t, "ingest-mock", "--db-url", filepath.Join(t.TempDir(), "cli.db"), "--fixture", fixturePath, "--since", "soon")
	assert.ErrorContains(t, err, "invalid --since")
}

func TestStrictAndContinueAreExclusive(t *testing.T) {
	_, err := execute(t, "ingest-mock", "--db-url", filepath.Join(t.TempDir(), "cli.db"), "--strict", "--continue-on-error")
	assert.Error(t, err)
}

func TestIngestLiveRequiresToken(t *testing.T) {
	_, err := execute(t, "ingest-live", "--db-url", filepath.Join(t.TempDir(), "cli.db"))
	assert.ErrorContains(t, err, "API token is required")
}

func TestMigrate(t *testing.T) {
	out, err := execute(t, "migrate", "--db-url", filepath.Join(t.TempDir(), "cli.db"))
	require.NoError(t, err)
	assert.Equal(t, "Schema is up to date (sqlite3)\n", out)
}

func TestFetchDocumentFromFixture(t *testing.T) {
	out, err := execute(t, "fetch-document", "case-002", "doc-003", "--fixture", fixturePath)
	require.NoError(t, err)

	var got documentView
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "doc-003", got.ID)
	assert.Equal(t, "Settlement Agreement", got.Title)
	assert.Equal(t, "docket-002", got.DocketID)
	assert.Equal(t, "N.D. Cal.", got.Court)
	require.NotNil(t, got.Date)
	assert.Equal(t, "2022-11-03", *got.Date)
	assert.True(t, got.HasText)

	_, err = execute(t, "fetch-document", "case-002", "doc-999", "--fixture", fixturePath)
	assert.ErrorContains(t, err, "not found")
}

func TestFetchDocumentWithoutTokenExitsTwo(t *testing.T) {
	_, err := execute(t, "fetch-document", "case-002", "doc-003")
	var ee *exitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 2, ee.code)
}
