// Package summarize produces short extractive summaries of ingested
// documents.
package summarize

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/Adithya-Monish-Kumar-K/clearinghouse-ingest/internal/clearinghouse"
)

const noTextBullet = "No text available for summarization yet."

// Summarizer turns a committed document into a summary. Implementations must
// not have side effects on the document store.
type Summarizer interface {
	Summarize(doc clearinghouse.Document) (string, error)
}

// Heuristic builds a metadata header followed by the first MaxSentences
// sentences of the text as bullets.
type Heuristic struct {
	MaxSentences int
}

func NewHeuristic(maxSentences int) *Heuristic {
	if maxSentences <= 0 {
		maxSentences = 4
	}
	return &Heuristic{MaxSentences: maxSentences}
}

func (h *Heuristic) Summarize(doc clearinghouse.Document) (string, error) {
	meta := []string{doc.DocumentType}
	if meta[0] == "" {
		meta[0] = "Document"
	}
	if doc.Court != "" {
		meta = append(meta, doc.Court)
	}
	if doc.Subject != "" {
		meta = append(meta, doc.Subject)
	}

	var text string
	if doc.Text != nil {
		text = *doc.Text
	}
	sentences := FirstSentences(text, h.MaxSentences)
	if len(sentences) == 0 {
		sentences = []string{noTextBullet}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Summary for %s (%s)", doc.Title, strings.Join(meta, ", "))
	for _, s := range sentences {
		b.WriteString("\n- ")
		b.WriteString(s)
	}
	return b.String(), nil
}

// FirstSentences returns up to limit sentences from text. Paragraphs are
// separated by blank lines; a sentence ends at '.', '!' or '?' followed by
// whitespace.
func FirstSentences(text string, limit int) []string {
	var out []string
	if limit <= 0 {
		return out
	}
	for _, paragraph := range strings.Split(strings.TrimSpace(text), "\n\n") {
		for _, s := range splitSentences(paragraph) {
			if s = strings.TrimSpace(s); s == "" {
				continue
			}
			out = append(out, s)
			if len(out) == limit {
				return out
			}
		}
	}
	return out
}

func splitSentences(paragraph string) []string {
	var (
		out   []string
		start int
	)
	runes := []rune(paragraph)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?':
			if i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
				out = append(out, string(runes[start:i+1]))
				for i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
					i++
				}
				start = i + 1
			}
		}
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}
