// Package composer renders related journal entries into a context block that
// fits a token budget, for handing to a chat assistant.
package composer

import (
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/daybook/internal/graph"
	"github.com/kalambet/daybook/internal/relevance"
)

const defaultMaxContextTokens = 2000

// Composer assembles related-note context blocks.
type Composer struct {
	MaxContextTokens int
	// ExcerptRunes caps how much of each entry is quoted. Zero quotes the
	// whole entry.
	ExcerptRunes int
}

// New creates a Composer with the given token budget.
// If maxContextTokens <= 0, the default (2000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens, ExcerptRunes: 600}
}

// FormatRelated renders related entries for the note written on date. Entries
// are expected best first; once one no longer fits the budget, lower ranked
// entries that still fit are included. It returns "" when nothing is related.
func (c *Composer) FormatRelated(date time.Time, related []relevance.RelatedEntry) string {
	if len(related) == 0 {
		return ""
	}

	header := fmt.Sprintf("[Related Notes for %s]\n", date.Format(graph.DateLayout))
	remaining := c.MaxContextTokens - EstimateTokens(header)

	var selected []string
	for _, r := range related {
		block := c.formatEntry(r)
		tokens := EstimateTokens(block)
		if tokens > remaining {
			continue
		}
		selected = append(selected, block)
		remaining -= tokens
	}
	if len(selected) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(header)
	for _, s := range selected {
		sb.WriteString(s)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (c *Composer) formatEntry(r relevance.RelatedEntry) string {
	text := r.Entry.Content
	if c.ExcerptRunes > 0 {
		text = r.Entry.Excerpt(c.ExcerptRunes)
	}
	return fmt.Sprintf("\n(%s, relevance %s %.2f: %s)\n%s\n",
		r.Entry.Date.Format(graph.DateLayout), r.Level(), r.Score, r.Reason, text)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
