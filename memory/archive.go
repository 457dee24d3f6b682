package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// previewChars bounds the transcript excerpt returned by SearchReference.
const previewChars = 500

// ArchiveConversation stores a complete transcript in the reference archive.
// Archiving the same conversation id again replaces the prior record.
func (s *Store) ArchiveConversation(ctx context.Context, p ArchiveParams) (ArchiveResult, error) {
	s.logger.Debug().
		Str("method", "ArchiveConversation").
		Str("conversation_id", p.ConversationID).
		Str("title", p.Title).
		Int("transcript_len", len(p.Transcript)).
		Msg("called")

	if p.ConversationID == "" {
		return ArchiveResult{}, errors.New("conversation id is required")
	}
	if strings.TrimSpace(p.Transcript) == "" {
		return ArchiveResult{}, errors.New("transcript is empty")
	}

	messageCount := strings.Count(p.Transcript, "\n") + 1

	var participants, tags interface{}
	if len(p.Participants) > 0 {
		b, err := json.Marshal(p.Participants)
		if err != nil {
			return ArchiveResult{}, fmt.Errorf("marshal participants: %w", err)
		}
		participants = string(b)
	}
	if len(p.Tags) > 0 {
		b, err := json.Marshal(p.Tags)
		if err != nil {
			return ArchiveResult{}, fmt.Errorf("marshal tags: %w", err)
		}
		tags = string(b)
	}

	nowUnix := now()
	startedAt := p.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Unix(nowUnix, 0)
	}
	var endedAt interface{}
	if p.EndedAt != nil {
		endedAt = p.EndedAt.Unix()
	}

	query := StatementBuilder().
		Insert("reference_conversations").
		Columns("conversation_id", "title", "participants", "summary",
			"full_transcript", "message_count", "started_at", "ended_at",
			"tags", "created_at").
		Values(p.ConversationID, nullable(p.Title), participants, nullable(p.Summary),
			p.Transcript, messageCount, startedAt.Unix(), endedAt,
			tags, nowUnix)

	queryStr, args, err := query.ToSql()
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("build archive query: %w", err)
	}

	// Upsert on conversation_id. SQLite requires "OR REPLACE" to come after
	// "INSERT", so we rewrite the statement Squirrel built.
	queryStr = strings.Replace(queryStr, "INSERT INTO", "INSERT OR REPLACE INTO", 1)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		s.logger.Error().Str("method", "ArchiveConversation").Err(err).Msg("Failed to archive conversation")
		return ArchiveResult{}, fmt.Errorf("archive conversation: %w", err)
	}

	s.logger.Info().
		Str("method", "ArchiveConversation").
		Str("conversation_id", p.ConversationID).
		Int("message_count", messageCount).
		Msg("Conversation archived")

	return ArchiveResult{ConversationID: p.ConversationID, MessageCount: messageCount}, nil
}

// SearchReference searches the archive across title, summary, tags and
// transcript body. Each match carries a bounded transcript preview rather
// than the full text.
func (s *Store) SearchReference(ctx context.Context, text string, limit int) ([]ReferenceMatch, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("search text is required")
	}
	if limit <= 0 {
		limit = 5
	}

	pattern := "%" + text + "%"
	query := StatementBuilder().
		Select("id", "conversation_id", "title", "summary", "participants",
			"message_count", "started_at", "tags",
			fmt.Sprintf("substr(full_transcript, 1, %d) AS preview", previewChars)).
		From("reference_conversations").
		Where(sq.Or{
			sq.Like{"title": pattern},
			sq.Like{"summary": pattern},
			sq.Like{"tags": pattern},
			sq.Like{"full_transcript": pattern},
		}).
		OrderBy("created_at DESC").
		Limit(uint64(limit))

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build search query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		s.logger.Error().Str("method", "SearchReference").Err(err).Msg("Search failed")
		return nil, fmt.Errorf("search reference: %w", err)
	}
	defer rows.Close() //nolint:errcheck // no remedy for rows close error

	var matches []ReferenceMatch
	for rows.Next() {
		var (
			m            ReferenceMatch
			title        sql.NullString
			summary      sql.NullString
			participants sql.NullString
			startedAt    int64
			tags         sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &title, &summary,
			&participants, &m.MessageCount, &startedAt, &tags, &m.Preview); err != nil {
			return nil, err
		}
		m.Title = title.String
		m.Summary = summary.String
		m.StartedAt = time.Unix(startedAt, 0)
		m.Participants = decodeStringList(participants)
		m.Tags = decodeStringList(tags)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("method", "SearchReference").
		Str("text", truncateString(text, 40)).
		Int("matches", len(matches)).
		Msg("Reference search completed")
	return matches, nil
}

// GetConversation returns the full archived conversation, or nil if the id
// is unknown.
func (s *Store) GetConversation(ctx context.Context, conversationID string) (*ReferenceConversation, error) {
	query := StatementBuilder().
		Select(referenceColumns()...).
		From("reference_conversations").
		Where(sq.Eq{"conversation_id": conversationID})

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get query: %w", err)
	}

	var (
		c            ReferenceConversation
		title        sql.NullString
		participants sql.NullString
		summary      sql.NullString
		startedAt    int64
		endedAt      sql.NullInt64
		tags         sql.NullString
		createdAt    int64
	)
	err = s.db.QueryRowContext(ctx, queryStr, args...).Scan(
		&c.ID, &c.ConversationID, &title, &participants, &summary,
		&c.FullTranscript, &c.MessageCount, &startedAt, &endedAt,
		&tags, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	c.Title = title.String
	c.Summary = summary.String
	c.Participants = decodeStringList(participants)
	c.Tags = decodeStringList(tags)
	c.StartedAt = time.Unix(startedAt, 0)
	c.CreatedAt = time.Unix(createdAt, 0)
	if endedAt.Valid {
		t := time.Unix(endedAt.Int64, 0)
		c.EndedAt = &t
	}
	return &c, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func decodeStringList(v sql.NullString) []string {
	if !v.Valid || v.String == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(v.String), &out); err != nil {
		return nil
	}
	return out
}
