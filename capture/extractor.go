// Package capture turns raw conversation transcripts into scored engrams
// without human curation. Scoring is deliberately coarse: keyword lists
// drive a three-tier importance score and a three-way valence classifier.
// It is not a sentiment model and does not pretend to be one.
package capture

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/constellationrelay/bridge/memory"
)

const (
	// DefaultMinSegmentLength is the noise floor: shorter segments are
	// discarded before scoring.
	DefaultMinSegmentLength = 20

	// DefaultSummaryMinLength is the transcript length below which no
	// summary engram is written.
	DefaultSummaryMinLength = 100

	// maxSegmentBody bounds the stored body of a captured segment.
	maxSegmentBody = 500

	highScore     = 0.9
	moderateScore = 0.7
	baseScore     = 0.5

	positiveValence = 0.7
	negativeValence = -0.3
)

// Vocabulary is the entire scoring model: four keyword sets matched
// case-insensitively against each segment. Swap the lists to retarget the
// extractor without touching logic.
type Vocabulary struct {
	High     []string `yaml:"high"`
	Moderate []string `yaml:"moderate"`
	Positive []string `yaml:"positive"`
	Negative []string `yaml:"negative"`
}

// DefaultVocabulary returns the stock keyword sets.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		High: []string{
			"important", "remember", "critical", "essential", "key",
			"milestone", "breakthrough", "achievement", "significant",
			"never forget", "always remember", "family", "love",
		},
		Moderate: []string{
			"project", "goal", "plan", "built", "created", "deployed",
			"learned", "realized", "understood", "decided",
		},
		Positive: []string{
			"love", "wonderful", "amazing", "excited", "happy", "proud",
			"grateful", "beautiful", "incredible", "perfect", "joy",
			"thank you", "awesome", "brilliant",
		},
		Negative: []string{
			"concerned", "worried", "difficult", "challenging", "frustrated",
			"confused", "stuck", "broken", "failed", "error",
		},
	}
}

// Params control one capture run.
type Params struct {
	AgentID        string
	Transcript     string
	ConversationID string  // generated when empty
	MinImportance  float64 // 0.0-1.0 threshold on the raw segment score
}

// Segment is one retained transcript segment and its storage outcome.
type Segment struct {
	Preview          string            `json:"preview"`
	Importance       int               `json:"importance"`
	EmotionalValence float64           `json:"emotional_valence"`
	Outcome          memory.PutOutcome `json:"outcome"`
}

// Result summarizes one capture run. Zero captured segments is a normal
// outcome, not an error.
type Result struct {
	ConversationID string    `json:"conversation_id"`
	EngramsCreated int       `json:"engrams_created"`
	Segments       []Segment `json:"segments"`
	CapturedAt     time.Time `json:"captured_at"`
}

// Extractor scores transcript segments and stores the keepers.
type Extractor struct {
	store            *memory.Store
	vocab            Vocabulary
	minSegmentLength int
	summaryMinLength int
	logger           zerolog.Logger
}

// NewExtractor creates an Extractor. A zero-value vocabulary falls back to
// the defaults.
func NewExtractor(store *memory.Store, vocab Vocabulary, logger zerolog.Logger) *Extractor {
	if len(vocab.High) == 0 && len(vocab.Moderate) == 0 &&
		len(vocab.Positive) == 0 && len(vocab.Negative) == 0 {
		vocab = DefaultVocabulary()
	}
	return &Extractor{
		store:            store,
		vocab:            vocab,
		minSegmentLength: DefaultMinSegmentLength,
		summaryMinLength: DefaultSummaryMinLength,
		logger:           logger.With().Str("component", "capture").Logger(),
	}
}

// segments splits a transcript on blank lines, falling back to single line
// boundaries when that yields nothing, and drops segments below the noise
// floor.
func (e *Extractor) segments(transcript string) []string {
	split := func(sep string) []string {
		return lo.FilterMap(strings.Split(transcript, sep), func(s string, _ int) (string, bool) {
			s = strings.TrimSpace(s)
			return s, s != ""
		})
	}

	parts := split("\n\n")
	if len(parts) == 0 {
		parts = split("\n")
	}
	return lo.Filter(parts, func(s string, _ int) bool {
		return len(s) >= e.minSegmentLength
	})
}

func containsAny(haystack string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

// score returns the raw importance score for one segment.
func (e *Extractor) score(segment string) float64 {
	lower := strings.ToLower(segment)
	switch {
	case containsAny(lower, e.vocab.High):
		return highScore
	case containsAny(lower, e.vocab.Moderate):
		return moderateScore
	default:
		return baseScore
	}
}

// valence classifies a segment as positive, negative or neutral. Positive
// wins when both sets match.
func (e *Extractor) valence(segment string) float64 {
	lower := strings.ToLower(segment)
	switch {
	case containsAny(lower, e.vocab.Positive):
		return positiveValence
	case containsAny(lower, e.vocab.Negative):
		return negativeValence
	default:
		return 0.0
	}
}

// importanceScale maps a raw 0-1 score onto the 1-5 engram scale.
func importanceScale(score float64) int {
	n := int(math.Round(score * 5))
	if n < 1 {
		n = 1
	}
	if n > 5 {
		n = 5
	}
	return n
}

// Capture extracts and stores scored engrams from a transcript. Segments
// scoring below p.MinImportance are discarded; every run over the summary
// length additionally stores one summary engram for the whole transcript.
func (e *Extractor) Capture(ctx context.Context, p Params) (Result, error) {
	if p.AgentID == "" {
		return Result{}, fmt.Errorf("agent id is required")
	}

	conversationID := p.ConversationID
	if conversationID == "" {
		conversationID = "capture-" + uuid.NewString()
	}

	result := Result{
		ConversationID: conversationID,
		CapturedAt:     time.Now().UTC(),
	}

	for _, segment := range e.segments(p.Transcript) {
		score := e.score(segment)
		if score < p.MinImportance {
			continue
		}

		body := truncate(segment, maxSegmentBody)

		importance := importanceScale(score)
		valence := e.valence(segment)

		put, err := e.store.Put(ctx, memory.PutParams{
			AgentID:          p.AgentID,
			Type:             memory.TypeEpisodic,
			Body:             body,
			Importance:       importance,
			EmotionalValence: valence,
			Project:          conversationID,
		})
		if err != nil {
			return result, fmt.Errorf("store captured segment: %w", err)
		}

		result.Segments = append(result.Segments, Segment{
			Preview:          preview(body, 100),
			Importance:       importance,
			EmotionalValence: valence,
			Outcome:          put.Outcome,
		})
		if put.Outcome == memory.OutcomeStored {
			result.EngramsCreated++
		}
	}

	if len(p.Transcript) > e.summaryMinLength {
		summary := fmt.Sprintf("Auto-captured conversation (%d engrams). Preview: %s",
			result.EngramsCreated, preview(p.Transcript, 200))
		if _, err := e.store.Put(ctx, memory.PutParams{
			AgentID:    p.AgentID,
			Type:       memory.TypeEpisodic,
			Body:       summary,
			Importance: 3,
			Project:    conversationID,
		}); err != nil {
			return result, fmt.Errorf("store capture summary: %w", err)
		}
	}

	e.logger.Info().
		Str("conversation_id", conversationID).
		Int("engrams_created", result.EngramsCreated).
		Int("segments_kept", len(result.Segments)).
		Msg("Transcript capture completed")
	return result, nil
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return truncate(s, n) + "..."
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
