package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// ErrSkillExists is returned when creating a skill whose name is taken.
var ErrSkillExists = errors.New("skill already exists")

// ErrSkillNotFound is returned by skill updates and deletes for unknown names.
var ErrSkillNotFound = errors.New("skill not found")

// CreateSkill stores a new piece of procedural knowledge at version 1.
func (s *Store) CreateSkill(ctx context.Context, skill Skill) (Skill, error) {
	if skill.Name == "" || skill.Description == "" || skill.Instructions == "" {
		return Skill{}, errors.New("name, description and instructions are required")
	}
	if skill.Category == "" {
		skill.Category = "task"
	}

	nowUnix := now()
	query := StatementBuilder().
		Insert("skills").
		Columns("name", "description", "instructions", "examples",
			"category", "version", "created_at", "updated_at").
		Values(skill.Name, skill.Description, skill.Instructions, nullable(skill.Examples),
			skill.Category, 1, nowUnix, nowUnix)

	queryStr, args, err := query.ToSql()
	if err != nil {
		return Skill{}, fmt.Errorf("build skill insert: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, queryStr, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return Skill{}, fmt.Errorf("%w: %s", ErrSkillExists, skill.Name)
		}
		return Skill{}, fmt.Errorf("insert skill: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Skill{}, err
	}

	s.logger.Info().
		Str("method", "CreateSkill").
		Str("name", skill.Name).
		Str("category", skill.Category).
		Msg("Skill created")

	skill.ID = id
	skill.Version = 1
	skill.CreatedAt = time.Unix(nowUnix, 0)
	skill.UpdatedAt = time.Unix(nowUnix, 0)
	return skill, nil
}

// GetSkill returns a skill by name, or nil if unknown.
func (s *Store) GetSkill(ctx context.Context, name string) (*Skill, error) {
	query := StatementBuilder().
		Select("id", "name", "description", "instructions", "examples",
			"category", "version", "created_at", "updated_at").
		From("skills").
		Where(sq.Eq{"name": name})

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build skill query: %w", err)
	}

	var (
		skill     Skill
		examples  sql.NullString
		createdAt int64
		updatedAt int64
	)
	err = s.db.QueryRowContext(ctx, queryStr, args...).Scan(
		&skill.ID, &skill.Name, &skill.Description, &skill.Instructions,
		&examples, &skill.Category, &skill.Version, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get skill: %w", err)
	}

	skill.Examples = examples.String
	skill.CreatedAt = time.Unix(createdAt, 0)
	skill.UpdatedAt = time.Unix(updatedAt, 0)
	return &skill, nil
}

// ListSkills returns skill summaries for discovery, optionally filtered by
// category. Instructions and examples are omitted.
func (s *Store) ListSkills(ctx context.Context, category string) ([]Skill, error) {
	query := StatementBuilder().
		Select("id", "name", "description", "category", "version", "updated_at").
		From("skills").
		OrderBy("category ASC", "name ASC")
	if category != "" {
		query = query.Where(sq.Eq{"category": category})
	}

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build skill list query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	defer rows.Close() //nolint:errcheck // no remedy for rows close error

	var skills []Skill
	for rows.Next() {
		var (
			skill     Skill
			updatedAt int64
		)
		if err := rows.Scan(&skill.ID, &skill.Name, &skill.Description,
			&skill.Category, &skill.Version, &updatedAt); err != nil {
			return nil, err
		}
		skill.UpdatedAt = time.Unix(updatedAt, 0)
		skills = append(skills, skill)
	}
	return skills, rows.Err()
}

// UpdateSkill replaces the provided fields of an existing skill and bumps
// its version. Empty fields keep their current value.
func (s *Store) UpdateSkill(ctx context.Context, name string, description, instructions, examples, category string) (Skill, error) {
	current, err := s.GetSkill(ctx, name)
	if err != nil {
		return Skill{}, err
	}
	if current == nil {
		return Skill{}, fmt.Errorf("%w: %s", ErrSkillNotFound, name)
	}

	if description != "" {
		current.Description = description
	}
	if instructions != "" {
		current.Instructions = instructions
	}
	if examples != "" {
		current.Examples = examples
	}
	if category != "" {
		current.Category = category
	}
	current.Version++

	nowUnix := now()
	query := StatementBuilder().
		Update("skills").
		Set("description", current.Description).
		Set("instructions", current.Instructions).
		Set("examples", nullable(current.Examples)).
		Set("category", current.Category).
		Set("version", current.Version).
		Set("updated_at", nowUnix).
		Where(sq.Eq{"name": name})

	queryStr, args, err := query.ToSql()
	if err != nil {
		return Skill{}, fmt.Errorf("build skill update: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		return Skill{}, fmt.Errorf("update skill: %w", err)
	}

	s.logger.Info().
		Str("method", "UpdateSkill").
		Str("name", name).
		Int("version", current.Version).
		Msg("Skill updated")

	current.UpdatedAt = time.Unix(nowUnix, 0)
	return *current, nil
}

// DeleteSkill removes a skill by name.
func (s *Store) DeleteSkill(ctx context.Context, name string) error {
	query := StatementBuilder().Delete("skills").Where(sq.Eq{"name": name})

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build skill delete: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, queryStr, args...)
	if err != nil {
		return fmt.Errorf("delete skill: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrSkillNotFound, name)
	}
	return nil
}
