package validator

import (
	"errors"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/internal/clearinghouse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCase(t *testing.T) {
	ok := &clearinghouse.Case{ExternalID: "12345", Name: "Doe v. State"}
	assert.NoError(t, ValidateCase(NewCollector(clearinghouse.ResourceCase, ok.ExternalID), ok))

	bad := &clearinghouse.Case{ExternalID: " ", Name: ""}
	err := ValidateCase(NewCollector(clearinghouse.ResourceCase, bad.ExternalID), bad)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Fields, "id")
	assert.Contains(t, verr.Fields, "name")
}

func TestValidateKeepsDecodeFailures(t *testing.T) {
	c := NewCollector(clearinghouse.ResourceCase, "7")
	c.Add("last_checked_date", "unparseable timestamp")
	err := ValidateCase(c, &clearinghouse.Case{ExternalID: "7", Name: "Roe v. City"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "last_checked_date:unparseable timestamp")
}

func TestValidateDocument(t *testing.T) {
	doc := &clearinghouse.Document{ExternalID: "d1", CaseExternalID: "c1"}
	err := ValidateDocument(NewCollector(clearinghouse.ResourceDocument, doc.ExternalID), doc)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, map[string]string{"docket_id": "docket_id is required"}, verr.Fields)

	doc.DocketExternalID = strings.Repeat("x", maxIDLength+1)
	err = ValidateDocument(NewCollector(clearinghouse.ResourceDocument, doc.ExternalID), doc)
	assert.ErrorContains(t, err, "at most 255 characters")
}

func TestValidateDocket(t *testing.T) {
	d := &clearinghouse.Docket{ExternalID: "k1", CaseExternalID: "c1"}
	assert.NoError(t, ValidateDocket(NewCollector(clearinghouse.ResourceDocket, "k1"), d))
}
