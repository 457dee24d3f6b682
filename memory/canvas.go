package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// ErrCanvasExists is returned when creating a canvas whose id is taken.
var ErrCanvasExists = errors.New("canvas already exists")

const canvasIDLayout = "20060102_150405"

// CreateCanvas stores a visual creation. An empty CanvasID gets a wall-clock
// derived id; an empty ContentType defaults to svg.
func (s *Store) CreateCanvas(ctx context.Context, c Canvas) (Canvas, error) {
	if c.Content == "" {
		return Canvas{}, errors.New("content is required")
	}
	if c.CanvasID == "" {
		c.CanvasID = time.Now().UTC().Format(canvasIDLayout)
	}
	if c.ContentType == "" {
		c.ContentType = "svg"
	}

	nowUnix := now()
	query := StatementBuilder().
		Insert("canvas").
		Columns("canvas_id", "title", "content_type", "content",
			"description", "created_at", "updated_at").
		Values(c.CanvasID, nullable(c.Title), c.ContentType, c.Content,
			nullable(c.Description), nowUnix, nowUnix)

	queryStr, args, err := query.ToSql()
	if err != nil {
		return Canvas{}, fmt.Errorf("build canvas insert: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, queryStr, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return Canvas{}, fmt.Errorf("%w: %s", ErrCanvasExists, c.CanvasID)
		}
		return Canvas{}, fmt.Errorf("insert canvas: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Canvas{}, err
	}

	s.logger.Info().
		Str("method", "CreateCanvas").
		Str("canvas_id", c.CanvasID).
		Str("content_type", c.ContentType).
		Msg("Canvas stored")

	c.ID = id
	c.CreatedAt = time.Unix(nowUnix, 0)
	c.UpdatedAt = time.Unix(nowUnix, 0)
	return c, nil
}

// GetCanvas returns a canvas with its full content, or nil if the id is
// unknown.
func (s *Store) GetCanvas(ctx context.Context, canvasID string) (*Canvas, error) {
	query := StatementBuilder().
		Select("id", "canvas_id", "title", "content_type", "content",
			"description", "created_at", "updated_at").
		From("canvas").
		Where(sq.Eq{"canvas_id": canvasID})

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build canvas query: %w", err)
	}

	var (
		c           Canvas
		title       sql.NullString
		description sql.NullString
		createdAt   int64
		updatedAt   int64
	)
	err = s.db.QueryRowContext(ctx, queryStr, args...).Scan(
		&c.ID, &c.CanvasID, &title, &c.ContentType, &c.Content,
		&description, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get canvas: %w", err)
	}

	c.Title = title.String
	c.Description = description.String
	c.CreatedAt = time.Unix(createdAt, 0)
	c.UpdatedAt = time.Unix(updatedAt, 0)
	return &c, nil
}

// ListCanvases returns recent canvases, newest first, without their content.
func (s *Store) ListCanvases(ctx context.Context, limit int) ([]Canvas, error) {
	if limit <= 0 {
		limit = 20
	}

	query := StatementBuilder().
		Select("id", "canvas_id", "title", "content_type", "description", "created_at").
		From("canvas").
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit))

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build canvas list query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list canvases: %w", err)
	}
	defer rows.Close() //nolint:errcheck // no remedy for rows close error

	var canvases []Canvas
	for rows.Next() {
		var (
			c           Canvas
			title       sql.NullString
			description sql.NullString
			createdAt   int64
		)
		if err := rows.Scan(&c.ID, &c.CanvasID, &title, &c.ContentType,
			&description, &createdAt); err != nil {
			return nil, err
		}
		c.Title = title.String
		c.Description = description.String
		c.CreatedAt = time.Unix(createdAt, 0)
		canvases = append(canvases, c)
	}
	return canvases, rows.Err()
}
