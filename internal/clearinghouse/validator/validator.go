// Package validator checks decoded Clearinghouse records before they reach
// the pipeline. It enforces identifier and required-field constraints and
// returns per-field error details.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/internal/clearinghouse"
)

const (
	maxIDLength    = 255
	maxTitleLength = 4096
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Resource clearinghouse.ResourceType
	ID       string
	Fields   map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, msg))
	}
	sort.Strings(parts)
	return fmt.Sprintf("invalid %s %q: %s", e.Resource, e.ID, strings.Join(parts, "; "))
}

// Collector accumulates field errors for one record.
type Collector struct {
	resource clearinghouse.ResourceType
	id       string
	fields   map[string]string
}

// NewCollector starts validation of a record of the given type.
func NewCollector(resource clearinghouse.ResourceType, id string) *Collector {
	return &Collector{resource: resource, id: id, fields: make(map[string]string)}
}

// Add records a failure for field; the first message per field wins.
func (c *Collector) Add(field, msg string) {
	if _, ok := c.fields[field]; !ok {
		c.fields[field] = msg
	}
}

// Err returns a *ValidationError when any field failed, otherwise nil.
func (c *Collector) Err() error {
	if len(c.fields) == 0 {
		return nil
	}
	return &ValidationError{Resource: c.resource, ID: c.id, Fields: c.fields}
}

func checkID(c *Collector, field, id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		c.Add(field, fmt.Sprintf("%s is required", field))
	} else if len(id) > maxIDLength {
		c.Add(field, fmt.Sprintf("%s must be at most %d characters", field, maxIDLength))
	}
}

// ValidateCase checks the identifier and name of a case. c may already hold
// decode-time failures.
func ValidateCase(c *Collector, rec *clearinghouse.Case) error {
	checkID(c, "id", rec.ExternalID)
	if strings.TrimSpace(rec.Name) == "" {
		c.Add("name", "name is required")
	}
	return c.Err()
}

// ValidateDocket checks the identifier and owning case reference.
func ValidateDocket(c *Collector, rec *clearinghouse.Docket) error {
	checkID(c, "id", rec.ExternalID)
	checkID(c, "case_id", rec.CaseExternalID)
	return c.Err()
}

// ValidateDocument checks the identifier, owning docket reference and title.
func ValidateDocument(c *Collector, rec *clearinghouse.Document) error {
	checkID(c, "id", rec.ExternalID)
	checkID(c, "case_id", rec.CaseExternalID)
	checkID(c, "docket_id", rec.DocketExternalID)
	if len(rec.Title) > maxTitleLength {
		c.Add("title", fmt.Sprintf("title must be at most %d characters", maxTitleLength))
	}
	return c.Err()
}
