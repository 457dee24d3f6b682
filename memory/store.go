package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Store is the local tier of the memory bridge: a persistent engram cache,
// the pending-sync queue, and the reference conversation archive.
//
// Writes are serialized through writeMu (single local writer assumption);
// reads go straight to the connection pool and see all writes committed
// before the read began.
type Store struct {
	db      *sql.DB
	logger  zerolog.Logger
	writeMu sync.Mutex
}

// NewStore creates and returns a Store.
func NewStore(db *sql.DB, logger zerolog.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	logger = logger.With().Str("component", "memory_store").Logger()
	logger.Info().Msg("Initializing memory store")
	return &Store{db: db, logger: logger}, nil
}

func now() int64 { return time.Now().Unix() }

// isUniqueViolation reports whether err is a sqlite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) &&
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// Put stores a new engram, deduplicating on the body fingerprint. Storing a
// body the agent has already stored is not an error; it returns a Duplicate
// outcome and leaves the database untouched.
func (s *Store) Put(ctx context.Context, p PutParams) (PutResult, error) {
	s.logger.Debug().
		Str("method", "Put").
		Str("agent_id", p.AgentID).
		Str("type", string(p.Type)).
		Str("body", truncateString(p.Body, 40)).
		Int("importance", p.Importance).
		Float64("valence", p.EmotionalValence).
		Str("project", p.Project).
		Msg("called")

	if strings.TrimSpace(p.Body) == "" {
		s.logger.Warn().Str("method", "Put").Msg("Attempted to store empty body")
		return PutResult{}, errors.New("body is empty")
	}
	if p.AgentID == "" {
		return PutResult{}, errors.New("agent id is required")
	}
	if !ValidType(p.Type) {
		return PutResult{}, fmt.Errorf("invalid engram type: %q", p.Type)
	}
	if p.Importance < 1 || p.Importance > 5 {
		return PutResult{}, fmt.Errorf("importance out of range [1,5]: %d", p.Importance)
	}
	if p.EmotionalValence < -1.0 || p.EmotionalValence > 1.0 {
		return PutResult{}, fmt.Errorf("emotional valence out of range [-1,1]: %f", p.EmotionalValence)
	}

	hash := Fingerprint(p.Body)
	nowUnix := now()

	var project interface{}
	if p.Project != "" {
		project = p.Project
	}

	query := StatementBuilder().
		Insert("engrams").
		Columns("agent_id", "type", "body", "importance",
			"emotional_valence", "project", "created_at", "synced", "content_hash").
		Values(p.AgentID, string(p.Type), p.Body, p.Importance,
			p.EmotionalValence, project, nowUnix, 0, hash)

	queryStr, args, err := query.ToSql()
	if err != nil {
		return PutResult{}, fmt.Errorf("build insert query: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, queryStr, args...)
	if err != nil {
		if isUniqueViolation(err) {
			s.logger.Debug().
				Str("method", "Put").
				Str("agent_id", p.AgentID).
				Str("content_hash", hash).
				Msg("Duplicate body, nothing stored")
			return PutResult{Outcome: OutcomeDuplicate}, nil
		}
		s.logger.Error().Str("method", "Put").Err(err).Msg("Failed to insert engram")
		return PutResult{}, fmt.Errorf("insert engram: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return PutResult{}, err
	}

	s.logger.Info().
		Str("method", "Put").
		Int64("id", id).
		Str("agent_id", p.AgentID).
		Str("type", string(p.Type)).
		Int("importance", p.Importance).
		Msg("Engram stored")

	return PutResult{
		Outcome: OutcomeStored,
		Engram: &Engram{
			ID:               id,
			AgentID:          p.AgentID,
			Type:             p.Type,
			Body:             p.Body,
			Importance:       p.Importance,
			EmotionalValence: p.EmotionalValence,
			Project:          p.Project,
			CreatedAt:        time.Unix(nowUnix, 0),
			Synced:           false,
			ContentHash:      hash,
		},
	}, nil
}

// Query returns the agent's engrams, newest first. Text is a substring match
// against the body (SQL LIKE, case-insensitive for ASCII); Project is an
// exact match.
func (s *Store) Query(ctx context.Context, p QueryParams) ([]Engram, error) {
	if p.AgentID == "" {
		return nil, errors.New("agent id is required")
	}
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}

	conditions := []sq.Sqlizer{
		sq.Eq{"agent_id": p.AgentID},
		sq.GtOrEq{"importance": p.MinImportance},
	}
	if p.Project != "" {
		conditions = append(conditions, sq.Eq{"project": p.Project})
	}
	if p.Text != "" {
		conditions = append(conditions, sq.Like{"body": "%" + p.Text + "%"})
	}

	query := StatementBuilder().
		Select(engramColumns()...).
		From("engrams").
		Where(sq.And(conditions)).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit))

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		s.logger.Error().Str("method", "Query").Err(err).Msg("Query failed")
		return nil, fmt.Errorf("query engrams: %w", err)
	}
	defer rows.Close() //nolint:errcheck // no remedy for rows close error

	var engrams []Engram
	for rows.Next() {
		e, err := scanEngram(rows)
		if err != nil {
			return nil, err
		}
		engrams = append(engrams, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("method", "Query").
		Str("agent_id", p.AgentID).
		Int("min_importance", p.MinImportance).
		Int("returned", len(engrams)).
		Msg("Query completed")
	return engrams, nil
}

// MarkSynced records the hub-assigned identifier for an engram. The
// transition is one-way: an engram already marked synced is left untouched.
func (s *Store) MarkSynced(ctx context.Context, id, hubID int64) error {
	query := StatementBuilder().
		Update("engrams").
		Set("hub_id", hubID).
		Set("synced", 1).
		Where(sq.Eq{"id": id, "synced": 0})

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build update query: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, queryStr, args...)
	if err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		s.logger.Debug().Int64("id", id).Msg("MarkSynced: engram missing or already synced")
	}
	return nil
}

// MarkSyncedByHash is MarkSynced keyed by (agent, fingerprint). The drain
// path only knows the queued payload, not the local row id.
func (s *Store) MarkSyncedByHash(ctx context.Context, agentID, contentHash string, hubID int64) error {
	query := StatementBuilder().
		Update("engrams").
		Set("hub_id", hubID).
		Set("synced", 1).
		Where(sq.Eq{"agent_id": agentID, "content_hash": contentHash, "synced": 0})

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build update query: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		return fmt.Errorf("mark synced by hash: %w", err)
	}
	return nil
}

// CountEngrams returns the total number of locally cached engrams.
func (s *Store) CountEngrams(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM engrams").Scan(&n); err != nil {
		return 0, fmt.Errorf("count engrams: %w", err)
	}
	return n, nil
}

func scanEngram(rows *sql.Rows) (*Engram, error) {
	var (
		id         int64
		hubID      sql.NullInt64
		agentID    string
		typStr     string
		body       string
		importance int
		valence    float64
		project    sql.NullString
		createdAt  int64
		synced     int
		hash       string
	)
	if err := rows.Scan(&id, &hubID, &agentID, &typStr, &body, &importance,
		&valence, &project, &createdAt, &synced, &hash); err != nil {
		return nil, err
	}

	e := &Engram{
		ID:               id,
		AgentID:          agentID,
		Type:             EngramType(typStr),
		Body:             body,
		Importance:       importance,
		EmotionalValence: valence,
		CreatedAt:        time.Unix(createdAt, 0),
		Synced:           synced != 0,
		ContentHash:      hash,
	}
	if hubID.Valid {
		v := hubID.Int64
		e.HubID = &v
	}
	if project.Valid {
		e.Project = project.String
	}
	return e, nil
}

// Helper function to safely truncate strings (for log safety).
func truncateString(s string, n int) string {
	rs := []rune(s)
	if len(rs) > n {
		return string(rs[:n]) + "..."
	}
	return s
}
