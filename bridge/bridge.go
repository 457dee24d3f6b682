// Package bridge is the front door for agent memory: remember, recall,
// archive, hydrate. It composes the local store, the hub client, the
// reconciler and the capture extractor behind one explicitly-constructed
// value, so every dependency is visible at the call site.
package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/constellationrelay/bridge/capture"
	"github.com/constellationrelay/bridge/config"
	"github.com/constellationrelay/bridge/hub"
	"github.com/constellationrelay/bridge/hydrate"
	"github.com/constellationrelay/bridge/memory"
	"github.com/constellationrelay/bridge/reconciler"
)

const (
	// wakeupMaxChars is the tighter budget for wakeup hydration.
	wakeupMaxChars = 3000

	// sessionEndMinImportance is the capture threshold used at session end.
	sessionEndMinImportance = 0.6

	sessionIDLayout = "20060102_150405"
)

// Bridge ties the memory subsystems together for one agent.
type Bridge struct {
	cfg        *config.Config
	store      *memory.Store
	hub        *hub.Client // nil in offline deployments
	reconciler *reconciler.Reconciler
	extractor  *capture.Extractor
	hydrator   *hydrate.Hydrator
	logger     zerolog.Logger
}

// New wires a Bridge from its parts. hubClient may be nil; the bridge then
// runs fully local and every remember queues for later sync.
func New(cfg *config.Config, store *memory.Store, hubClient *hub.Client, logger zerolog.Logger) *Bridge {
	b := &Bridge{
		cfg:        cfg,
		store:      store,
		hub:        hubClient,
		reconciler: reconciler.New(store, hubClient, logger),
		extractor: capture.NewExtractor(store, capture.Vocabulary{
			High:     cfg.Capture.Vocabulary.High,
			Moderate: cfg.Capture.Vocabulary.Moderate,
			Positive: cfg.Capture.Vocabulary.Positive,
			Negative: cfg.Capture.Vocabulary.Negative,
		}, logger),
		logger: logger.With().Str("component", "bridge").Logger(),
	}
	b.hydrator = hydrate.New(b, store, logger)
	return b
}

// Reconciler exposes the reconciler for background scheduling.
func (b *Bridge) Reconciler() *reconciler.Reconciler {
	return b.reconciler
}

// RememberResult reports one remember call end to end.
type RememberResult struct {
	Outcome  memory.PutOutcome `json:"outcome"`
	EngramID int64             `json:"engram_id,omitempty"`
	Synced   bool              `json:"synced"`
	HubID    int64             `json:"hub_id,omitempty"`
}

// RememberParams are the inputs to Remember. AgentID defaults to the
// configured agent when empty.
type RememberParams struct {
	AgentID          string
	Type             memory.EngramType
	Body             string
	Importance       int
	EmotionalValence float64
	Project          string
}

// Remember stores an engram locally and attempts an immediate hub push.
// A duplicate body is reported, not stored twice. Hub unavailability is not
// an error; the engram stays queued and a later drain delivers it.
func (b *Bridge) Remember(ctx context.Context, p RememberParams) (RememberResult, error) {
	agentID := p.AgentID
	if agentID == "" {
		agentID = b.cfg.AgentID
	}

	put, err := b.store.Put(ctx, memory.PutParams{
		AgentID:          agentID,
		Type:             p.Type,
		Body:             p.Body,
		Importance:       p.Importance,
		EmotionalValence: p.EmotionalValence,
		Project:          p.Project,
	})
	if err != nil {
		return RememberResult{}, err
	}
	if put.Outcome == memory.OutcomeDuplicate {
		return RememberResult{Outcome: memory.OutcomeDuplicate}, nil
	}

	pushed, err := b.reconciler.Push(ctx, *put.Engram)
	if err != nil {
		return RememberResult{}, fmt.Errorf("push engram: %w", err)
	}

	return RememberResult{
		Outcome:  memory.OutcomeStored,
		EngramID: put.Engram.ID,
		Synced:   pushed.Outcome == reconciler.OutcomeConfirmed,
		HubID:    pushed.HubID,
	}, nil
}

// RememberFor stores an engram on behalf of another agent in the
// constellation, attributed in the body. The target name must be present in
// the constellation map; its mapped id becomes the owning agent.
func (b *Bridge) RememberFor(ctx context.Context, targetName string, p RememberParams) (RememberResult, error) {
	targetID, ok := b.cfg.Constellation[targetName]
	if !ok {
		return RememberResult{}, fmt.Errorf("unknown constellation agent %q", targetName)
	}

	p.AgentID = targetID
	p.Body = fmt.Sprintf("[Stored by %s for %s] %s", b.cfg.AgentID, targetName, p.Body)
	if p.Project == "" {
		p.Project = "proxy-" + targetName
	}
	return b.Remember(ctx, p)
}

// Recall returns engrams matching q under the uniform recall policy: the
// local store always answers; when the hub is configured and preferred, hub
// results are tried first and a hub failure silently degrades to local.
func (b *Bridge) Recall(ctx context.Context, q hydrate.RecallQuery) ([]memory.Engram, error) {
	if b.hub != nil && b.cfg.Hub.PreferForRecall {
		remote, err := b.hub.Retrieve(ctx, hub.RetrieveParams{
			Query:         q.Query,
			MinImportance: q.MinImportance,
			Limit:         q.Limit,
		})
		if err == nil {
			return fromWire(remote), nil
		}
		b.logger.Warn().Err(err).Msg("Hub recall failed, falling back to local store")
	}

	return b.store.Query(ctx, memory.QueryParams{
		AgentID:       b.cfg.AgentID,
		Text:          q.Query,
		MinImportance: q.MinImportance,
		Limit:         q.Limit,
	})
}

// fromWire converts hub wire engrams to local form for uniform rendering.
func fromWire(remote []hub.Engram) []memory.Engram {
	engrams := make([]memory.Engram, 0, len(remote))
	for _, w := range remote {
		created, _ := time.Parse(time.RFC3339, w.CreatedAt)
		hubID := w.ID
		engrams = append(engrams, memory.Engram{
			HubID:            &hubID,
			AgentID:          w.AgentID,
			Type:             memory.EngramType(w.Type),
			Body:             w.Digest,
			Importance:       w.Importance,
			EmotionalValence: w.EmotionalValence,
			Project:          w.Project,
			CreatedAt:        created,
			Synced:           true,
		})
	}
	return engrams
}

// SessionEndParams describe one finished conversation.
type SessionEndParams struct {
	SessionID    string // derived from the wall clock when empty
	Transcript   string
	Title        string
	Summary      string
	Participants []string
	Tags         []string
	StartedAt    time.Time
}

// SessionEndResult reports the archive and capture outcomes.
type SessionEndResult struct {
	SessionID      string `json:"session_id"`
	MessageCount   int    `json:"message_count"`
	EngramsCreated int    `json:"engrams_created"`
}

// SessionEnd archives the full transcript for reference search and runs
// auto-capture over it, then records a session summary engram.
func (b *Bridge) SessionEnd(ctx context.Context, p SessionEndParams) (SessionEndResult, error) {
	sessionID := p.SessionID
	if sessionID == "" {
		sessionID = "session_" + time.Now().UTC().Format(sessionIDLayout)
	}
	startedAt := p.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	endedAt := time.Now().UTC()

	archived, err := b.store.ArchiveConversation(ctx, memory.ArchiveParams{
		ConversationID: sessionID,
		Transcript:     p.Transcript,
		Title:          p.Title,
		Summary:        p.Summary,
		Participants:   p.Participants,
		Tags:           p.Tags,
		StartedAt:      startedAt,
		EndedAt:        &endedAt,
	})
	if err != nil {
		return SessionEndResult{}, fmt.Errorf("archive session transcript: %w", err)
	}

	minImportance := b.cfg.Capture.MinImportance
	if minImportance <= 0 {
		minImportance = sessionEndMinImportance
	}
	captured, err := b.extractor.Capture(ctx, capture.Params{
		AgentID:        b.cfg.AgentID,
		Transcript:     p.Transcript,
		ConversationID: sessionID,
		MinImportance:  minImportance,
	})
	if err != nil {
		return SessionEndResult{}, fmt.Errorf("capture session transcript: %w", err)
	}

	title := p.Title
	if title == "" {
		title = sessionID
	}
	summary := fmt.Sprintf("Session ended: %s. %d chars archived. %d important moments captured.",
		title, len(p.Transcript), captured.EngramsCreated)
	if len(p.Participants) > 0 {
		summary += " Participants: " + strings.Join(p.Participants, ", ") + "."
	}
	if _, err := b.Remember(ctx, RememberParams{
		Type:       memory.TypeEpisodic,
		Body:       summary,
		Importance: 3,
		Project:    sessionID,
	}); err != nil {
		return SessionEndResult{}, fmt.Errorf("store session summary: %w", err)
	}

	b.logger.Info().
		Str("session_id", sessionID).
		Int("message_count", archived.MessageCount).
		Int("engrams_created", captured.EngramsCreated).
		Msg("Session ended")

	return SessionEndResult{
		SessionID:      sessionID,
		MessageCount:   archived.MessageCount,
		EngramsCreated: captured.EngramsCreated,
	}, nil
}

// Hydrate builds a bounded context payload per the request, using configured
// defaults for any unset bound.
func (b *Bridge) Hydrate(ctx context.Context, req hydrate.Request) (hydrate.Result, error) {
	if req.MemoryLimit <= 0 {
		req.MemoryLimit = b.cfg.Hydrate.MemoryLimit
	}
	if req.ReferenceLimit <= 0 {
		req.ReferenceLimit = b.cfg.Hydrate.ReferenceLimit
	}
	if req.MaxChars <= 0 {
		req.MaxChars = b.cfg.Hydrate.MaxChars
	}
	return b.hydrator.Hydrate(ctx, req)
}

// HydrateForWakeup builds the compact startup context: important plus recent
// memories, no reference archive, under a tighter budget.
func (b *Bridge) HydrateForWakeup(ctx context.Context) (hydrate.Result, error) {
	return b.hydrator.Hydrate(ctx, hydrate.Request{
		IncludeImportant: true,
		IncludeRecent:    true,
		MemoryLimit:      b.cfg.Hydrate.MemoryLimit,
		MaxChars:         wakeupMaxChars,
	})
}

// Stats reports local memory counts plus hub-side statistics when reachable.
// A hub failure degrades to local-only stats rather than erroring.
func (b *Bridge) Stats(ctx context.Context) (map[string]interface{}, error) {
	localCount, err := b.store.CountEngrams(ctx)
	if err != nil {
		return nil, fmt.Errorf("count local engrams: %w", err)
	}
	pending, err := b.store.CountPendingSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("count pending sync: %w", err)
	}

	stats := map[string]interface{}{
		"agent_id":      b.cfg.AgentID,
		"local_engrams": localCount,
		"pending_sync":  pending,
		"hub_connected": false,
	}

	if b.hub != nil {
		hubStats, err := b.hub.Stats(ctx, b.cfg.AgentID)
		if err != nil {
			b.logger.Warn().Err(err).Msg("Hub stats unavailable, reporting local only")
		} else {
			stats["hub_connected"] = true
			stats["hub"] = hubStats
		}
	}
	return stats, nil
}
