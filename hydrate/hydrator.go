// Package hydrate blends heterogeneous memory tiers into one bounded
// context payload for injection into a downstream prompt. Hydration is a
// pure read: it never writes to any store.
package hydrate

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/constellationrelay/bridge/memory"
)

const (
	// Tier thresholds on the 1-5 importance scale.
	importantMinImportance = 4
	recentMinImportance    = 3

	// dedupPrefixLen is how much of a body is compared when removing
	// recent entries that overlap already-included important ones. A short
	// prefix catches near-duplicates without full equality checks.
	dedupPrefixLen = 50

	// bodyExcerptLen bounds each rendered memory line.
	bodyExcerptLen = 200

	// refExcerptLen bounds each rendered reference one-liner.
	refExcerptLen = 150

	truncationMarker = "\n... [truncated]"

	DefaultMemoryLimit    = 10
	DefaultReferenceLimit = 3
	DefaultMaxChars       = 4000
)

// RecallQuery is the read the hydrator issues per tier.
type RecallQuery struct {
	Query         string
	MinImportance int
	Limit         int
}

// Recaller supplies engrams for a tier. The bridge's uniform recall policy
// (local-first, optional hub preference) sits behind this interface.
type Recaller interface {
	Recall(ctx context.Context, q RecallQuery) ([]memory.Engram, error)
}

// ReferenceSearcher supplies archived conversation matches for a query.
type ReferenceSearcher interface {
	SearchReference(ctx context.Context, text string, limit int) ([]memory.ReferenceMatch, error)
}

// Request selects tiers and bounds for one hydration.
type Request struct {
	Query            string
	IncludeImportant bool
	IncludeRecent    bool
	IncludeReference bool // only consulted when Query is non-empty
	MemoryLimit      int
	ReferenceLimit   int
	MaxChars         int
}

// Result is the rendered context payload.
type Result struct {
	Context          string    `json:"context"`
	MemoriesIncluded int       `json:"memories_included"`
	CharacterCount   int       `json:"character_count"`
	HydratedAt       time.Time `json:"hydrated_at"`
}

// Hydrator composes tiered memory into one budgeted payload.
type Hydrator struct {
	recaller Recaller
	refs     ReferenceSearcher
	logger   zerolog.Logger
}

// New creates a Hydrator. refs may be nil when no reference archive is
// available; reference inclusion is then skipped.
func New(recaller Recaller, refs ReferenceSearcher, logger zerolog.Logger) *Hydrator {
	return &Hydrator{
		recaller: recaller,
		refs:     refs,
		logger:   logger.With().Str("component", "hydrator").Logger(),
	}
}

// line is one renderable unit: a heading or an item.
type line struct {
	text     string
	isMemory bool
}

// Hydrate blends the requested tiers, newest first within each, and renders
// them under per-tier headings within the character budget.
func (h *Hydrator) Hydrate(ctx context.Context, req Request) (Result, error) {
	memoryLimit := req.MemoryLimit
	if memoryLimit <= 0 {
		memoryLimit = DefaultMemoryLimit
	}
	referenceLimit := req.ReferenceLimit
	if referenceLimit <= 0 {
		referenceLimit = DefaultReferenceLimit
	}
	maxChars := req.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	var lines []line
	var important []memory.Engram

	if req.IncludeImportant {
		var err error
		important, err = h.recaller.Recall(ctx, RecallQuery{
			Query:         req.Query,
			MinImportance: importantMinImportance,
			Limit:         memoryLimit,
		})
		if err != nil {
			return Result{}, fmt.Errorf("recall important tier: %w", err)
		}
		if len(important) > 0 {
			lines = append(lines, line{text: "## Important Memories"})
			for _, e := range important {
				lines = append(lines, line{text: memoryLine(e), isMemory: true})
			}
		}
	}

	if req.IncludeRecent {
		recent, err := h.recaller.Recall(ctx, RecallQuery{
			Query:         req.Query,
			MinImportance: recentMinImportance,
			Limit:         memoryLimit,
		})
		if err != nil {
			return Result{}, fmt.Errorf("recall recent tier: %w", err)
		}

		seen := lo.SliceToMap(important, func(e memory.Engram) (string, struct{}) {
			return bodyPrefix(e.Body), struct{}{}
		})
		unique := lo.Filter(recent, func(e memory.Engram, _ int) bool {
			_, dup := seen[bodyPrefix(e.Body)]
			return !dup
		})
		if len(unique) > memoryLimit/2 {
			unique = unique[:memoryLimit/2]
		}

		if len(unique) > 0 {
			lines = append(lines, line{text: "\n## Recent Memories"})
			for _, e := range unique {
				lines = append(lines, line{text: memoryLine(e), isMemory: true})
			}
		}
	}

	if req.IncludeReference && req.Query != "" && h.refs != nil {
		refs, err := h.refs.SearchReference(ctx, req.Query, referenceLimit)
		if err != nil {
			return Result{}, fmt.Errorf("search reference archive: %w", err)
		}
		if len(refs) > 0 {
			lines = append(lines, line{text: "\n## Relevant Past Conversations"})
			for _, ref := range refs {
				lines = append(lines, line{text: referenceLine(ref)})
			}
		}
	}

	text, included := render(lines, maxChars)

	result := Result{
		Context:          text,
		MemoriesIncluded: included,
		CharacterCount:   len(text),
		HydratedAt:       time.Now().UTC(),
	}
	h.logger.Debug().
		Int("memories_included", result.MemoriesIncluded).
		Int("character_count", result.CharacterCount).
		Msg("Context hydrated")
	return result, nil
}

// render joins lines within the budget. When the full text overflows, whole
// trailing lines are dropped to make room for the truncation marker; only
// when not even the first line fits does it fall back to a mid-line cut.
// The returned text never exceeds maxChars.
func render(lines []line, maxChars int) (string, int) {
	full := strings.Join(lo.Map(lines, func(l line, _ int) string { return l.text }), "\n")
	if len(full) <= maxChars {
		return full, lo.CountBy(lines, func(l line) bool { return l.isMemory })
	}

	budget := maxChars - len(truncationMarker)
	if budget < 0 {
		budget = 0
	}

	var b strings.Builder
	included := 0
	for _, l := range lines {
		addition := len(l.text)
		if b.Len() > 0 {
			addition++ // joining newline
		}
		if b.Len()+addition > budget {
			break
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(l.text)
		if l.isMemory {
			included++
		}
	}

	if b.Len() == 0 && budget > 0 {
		// Nothing fits whole; hard cut the composed text at the budget.
		return cutAtRune(full, budget) + truncationMarker, 0
	}
	return b.String() + truncationMarker, included
}

func memoryLine(e memory.Engram) string {
	return fmt.Sprintf("- [%s] %s", e.CreatedAt.Format("2006-01-02"), excerpt(e.Body, bodyExcerptLen))
}

func referenceLine(ref memory.ReferenceMatch) string {
	title := ref.Title
	if title == "" {
		title = "Untitled"
	}
	desc := ref.Summary
	if desc == "" {
		desc = ref.Preview
	}
	return fmt.Sprintf("- [%s] %s: %s", ref.StartedAt.Format("2006-01-02"), title, excerpt(desc, refExcerptLen))
}

func bodyPrefix(body string) string {
	return cutAtRune(body, dedupPrefixLen)
}

func excerpt(s string, n int) string {
	return cutAtRune(s, n)
}

// cutAtRune truncates s to at most n bytes without splitting a rune.
func cutAtRune(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
