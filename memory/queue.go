package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// EnqueueSync records a deferred hub push. The queue holds at most one entry
// per (agent, fingerprint): re-enqueueing an engram whose push keeps failing
// is a no-op rather than a growing backlog.
func (s *Store) EnqueueSync(ctx context.Context, agentID, contentHash, payload string) error {
	if agentID == "" || contentHash == "" {
		return errors.New("agent id and content hash are required")
	}

	query := StatementBuilder().
		Insert("sync_queue").
		Columns("agent_id", "content_hash", "payload", "created_at").
		Values(agentID, contentHash, payload, now())

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build enqueue query: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		if isUniqueViolation(err) {
			s.logger.Debug().
				Str("agent_id", agentID).
				Str("content_hash", contentHash).
				Msg("EnqueueSync: entry already queued")
			return nil
		}
		return fmt.Errorf("enqueue sync entry: %w", err)
	}

	s.logger.Info().
		Str("agent_id", agentID).
		Str("content_hash", contentHash).
		Msg("Engram queued for sync")
	return nil
}

// PendingSync returns the queued entries in queue order.
func (s *Store) PendingSync(ctx context.Context) ([]QueueEntry, error) {
	query := StatementBuilder().
		Select("id", "agent_id", "content_hash", "payload", "created_at", "attempts").
		From("sync_queue").
		OrderBy("id ASC")

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build pending query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query sync queue: %w", err)
	}
	defer rows.Close() //nolint:errcheck // no remedy for rows close error

	var entries []QueueEntry
	for rows.Next() {
		var (
			e         QueueEntry
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.AgentID, &e.ContentHash, &e.Payload, &createdAt, &e.Attempts); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteSyncEntry removes a delivered entry. It reports whether the entry
// was still present; a concurrent drain may have removed it already.
func (s *Store) DeleteSyncEntry(ctx context.Context, id int64) (bool, error) {
	query := StatementBuilder().Delete("sync_queue").Where(sq.Eq{"id": id})

	queryStr, args, err := query.ToSql()
	if err != nil {
		return false, fmt.Errorf("build delete query: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, queryStr, args...)
	if err != nil {
		return false, fmt.Errorf("delete sync entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteSyncEntryByHash removes the queue entry for (agent, fingerprint), if
// any. A direct push that succeeds after an earlier failure uses this to
// retire the stale entry so a later drain cannot deliver the engram again.
func (s *Store) DeleteSyncEntryByHash(ctx context.Context, agentID, contentHash string) (bool, error) {
	query := StatementBuilder().
		Delete("sync_queue").
		Where(sq.Eq{"agent_id": agentID, "content_hash": contentHash})

	queryStr, args, err := query.ToSql()
	if err != nil {
		return false, fmt.Errorf("build delete query: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, queryStr, args...)
	if err != nil {
		return false, fmt.Errorf("delete sync entry by hash: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SyncedByHash reports whether the engram with the given fingerprint is
// already marked synced. Unknown fingerprints report false.
func (s *Store) SyncedByHash(ctx context.Context, agentID, contentHash string) (bool, error) {
	var synced int
	err := s.db.QueryRowContext(ctx,
		"SELECT synced FROM engrams WHERE agent_id = ? AND content_hash = ?",
		agentID, contentHash).Scan(&synced)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check synced by hash: %w", err)
	}
	return synced != 0, nil
}

// TouchSyncEntry increments the attempt counter on a failed delivery.
func (s *Store) TouchSyncEntry(ctx context.Context, id int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE sync_queue SET attempts = attempts + 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("touch sync entry: %w", err)
	}
	return nil
}

// CountPendingSync returns the number of queued entries.
func (s *Store) CountPendingSync(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_queue").Scan(&n); err != nil {
		return 0, fmt.Errorf("count sync queue: %w", err)
	}
	return n, nil
}
