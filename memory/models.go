package memory

import "time"

// EngramType describes the kind of memory an engram holds.
type EngramType string

const (
	TypeSemantic   EngramType = "semantic"
	TypeEpisodic   EngramType = "episodic"
	TypeRelational EngramType = "relational"
)

// ValidType reports whether t is one of the known engram types.
func ValidType(t EngramType) bool {
	switch t {
	case TypeSemantic, TypeEpisodic, TypeRelational:
		return true
	}
	return false
}

// Engram is a single stored memory unit.
type Engram struct {
	ID               int64      `json:"id"`
	HubID            *int64     `json:"hub_id,omitempty"` // set once the hub confirms delivery
	AgentID          string     `json:"agent_id"`
	Type             EngramType `json:"type"`
	Body             string     `json:"body"`
	Importance       int        `json:"importance"`        // 1-5, 5 = identity-critical
	EmotionalValence float64    `json:"emotional_valence"` // -1.0 to 1.0
	Project          string     `json:"project,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	Synced           bool       `json:"synced"`
	ContentHash      string     `json:"content_hash"`
}

// PutOutcome distinguishes a fresh insert from a dedup hit.
type PutOutcome string

const (
	OutcomeStored    PutOutcome = "stored"
	OutcomeDuplicate PutOutcome = "duplicate"
)

// PutParams are the inputs to Store.Put.
type PutParams struct {
	AgentID          string
	Type             EngramType
	Body             string
	Importance       int
	EmotionalValence float64
	Project          string
}

// PutResult reports what Put did. Engram is nil on a duplicate.
type PutResult struct {
	Outcome PutOutcome
	Engram  *Engram
}

// QueryParams filter and bound a local engram query.
type QueryParams struct {
	AgentID       string
	Text          string // substring match against body; case-insensitive for ASCII (SQL LIKE)
	Project       string
	MinImportance int
	Limit         int
}

// QueueEntry is a deferred hub push.
type QueueEntry struct {
	ID          int64
	AgentID     string
	ContentHash string
	Payload     string // serialized hub engram JSON
	CreatedAt   time.Time
	Attempts    int
}

// ReferenceConversation is a full archived transcript.
type ReferenceConversation struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Title          string    `json:"title,omitempty"`
	Participants   []string  `json:"participants,omitempty"`
	Summary        string    `json:"summary,omitempty"`
	FullTranscript string    `json:"full_transcript"`
	MessageCount   int       `json:"message_count"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ReferenceMatch is a bounded summary of an archived conversation returned
// by SearchReference. The full transcript is not included; Preview carries
// at most previewChars characters of it.
type ReferenceMatch struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Title          string    `json:"title,omitempty"`
	Summary        string    `json:"summary,omitempty"`
	Participants   []string  `json:"participants,omitempty"`
	MessageCount   int       `json:"message_count"`
	StartedAt      time.Time `json:"started_at"`
	Tags           []string  `json:"tags,omitempty"`
	Preview        string    `json:"preview"`
}

// ArchiveParams are the inputs to Store.ArchiveConversation.
type ArchiveParams struct {
	ConversationID string
	Transcript     string
	Title          string
	Summary        string
	Participants   []string
	Tags           []string
	StartedAt      time.Time
	EndedAt        *time.Time
}

// ArchiveResult reports a completed archive upsert.
type ArchiveResult struct {
	ConversationID string
	MessageCount   int
}

// Canvas is a stored visual creation: SVG markup, HTML or a mermaid diagram.
// List results omit Content.
type Canvas struct {
	ID          int64     `json:"id"`
	CanvasID    string    `json:"canvas_id"`
	Title       string    `json:"title,omitempty"`
	ContentType string    `json:"content_type"` // svg, html, or mermaid
	Content     string    `json:"content,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Skill is procedural knowledge: how to do something, not that it happened.
type Skill struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Instructions string    `json:"instructions"`
	Examples     string    `json:"examples,omitempty"`
	Category     string    `json:"category"` // meta, task, or domain
	Version      int       `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
