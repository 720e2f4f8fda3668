package summarize

import (
	"testing"

	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/internal/clearinghouse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestHeuristicSummary(t *testing.T) {
	h := NewHeuristic(2)
	got, err := h.Summarize(clearinghouse.Document{
		Title:        "Complaint",
		DocumentType: "Pleading",
		Court:        "D. Mass.",
		Subject:      "Policing",
		Text:         strPtr("Plaintiffs sue the city. They seek relief!  Damages are claimed."),
	})
	require.NoError(t, err)
	assert.Equal(t, "Summary for Complaint (Pleading, D. Mass., Policing)\n- Plaintiffs sue the city.\n- They seek relief!", got)
}

func TestHeuristicSummaryWithoutText(t *testing.T) {
	got, err := NewHeuristic(0).Summarize(clearinghouse.Document{Title: "Order"})
	require.NoError(t, err)
	assert.Equal(t, "Summary for Order (Document)\n- No text available for summarization yet.", got)
}

func TestFirstSentences(t *testing.T) {
	text := "First one. Second one?\n\nThird in new paragraph. Fourth"
	assert.Equal(t, []string{"First one.", "Second one?", "Third in new paragraph.", "Fourth"}, FirstSentences(text, 10))
	assert.Equal(t, []string{"First one."}, FirstSentences(text, 1))
	assert.Empty(t, FirstSentences("   ", 3))
}
