package memory

import (
	sq "github.com/Masterminds/squirrel"
)

// StatementBuilder returns a Squirrel StatementBuilder configured for SQLite.
// SQLite uses '?' as placeholders, which is Squirrel's default.
func StatementBuilder() sq.StatementBuilderType {
	return sq.StatementBuilder
}

// engramColumns is the standard column list for engram SELECT queries.
func engramColumns() []string {
	return []string{
		"id", "hub_id", "agent_id", "type", "body", "importance",
		"emotional_valence", "project", "created_at", "synced", "content_hash",
	}
}

// referenceColumns is the standard column list for reference_conversations
// SELECT queries.
func referenceColumns() []string {
	return []string{
		"id", "conversation_id", "title", "participants", "summary",
		"full_transcript", "message_count", "started_at", "ended_at",
		"tags", "created_at",
	}
}
