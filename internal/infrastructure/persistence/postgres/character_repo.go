package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/habitquest/progression-engine/internal/domain/character"
	"github.com/habitquest/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHARACTERS
// ══════════════════════════════════════════════════════════════════════════════

const characterColumns = `
	id, user_id, level, experience, attributes, custom_attributes,
	achievements, accessories, version, created_at, updated_at
`

// CreateCharacter inserts c. An empty id is replaced with a new uuid.
func (s *Store) CreateCharacter(ctx context.Context, c *character.Character) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	attrs, custom, err := marshalAttributes(c)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO characters (` + characterColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = s.conn.Exec(ctx, query,
		c.ID,
		c.UserID,
		c.Level,
		c.Experience,
		attrs,
		custom,
		c.Achievements.Sorted(),
		c.Accessories.Sorted(),
		c.Version,
		c.CreatedAt,
		c.UpdatedAt,
	)
	return classify("character", "Create", c.ID, err)
}

// GetCharacter returns the user's oldest character.
func (s *Store) GetCharacter(ctx context.Context, userID string) (*character.Character, error) {
	query := `SELECT ` + characterColumns + ` FROM characters WHERE user_id = $1 ORDER BY created_at, id LIMIT 1`

	c, err := scanCharacter(s.conn.QueryRow(ctx, query, userID))
	if err != nil {
		return nil, classify("character", "GetCharacter", "user "+userID, err)
	}
	return c, nil
}

// GetCharacterByID returns a character by id.
func (s *Store) GetCharacterByID(ctx context.Context, id string) (*character.Character, error) {
	query := `SELECT ` + characterColumns + ` FROM characters WHERE id = $1`

	c, err := scanCharacter(s.conn.QueryRow(ctx, query, id))
	if err != nil {
		return nil, classify("character", "GetCharacterByID", id, err)
	}
	return c, nil
}

// ListCharacters returns the user's characters ordered by creation time.
func (s *Store) ListCharacters(ctx context.Context, userID string) ([]*character.Character, error) {
	query := `SELECT ` + characterColumns + ` FROM characters WHERE user_id = $1 ORDER BY created_at, id`

	rows, err := s.conn.Query(ctx, query, userID)
	if err != nil {
		return nil, classify("character", "ListCharacters", userID, err)
	}
	defer rows.Close()

	out := make([]*character.Character, 0, 1)
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, classify("character", "ListCharacters", userID, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("character", "ListCharacters", userID, err)
	}
	return out, nil
}

// UpdateCharacter writes c when the stored version matches c.Version and
// increments c.Version on success.
func (s *Store) UpdateCharacter(ctx context.Context, c *character.Character) error {
	if err := writeCharacter(ctx, s.conn, c); err != nil {
		return err
	}
	c.Version++
	return nil
}

// CommitGrant writes c and its experience log entry in one transaction. The
// log row goes first so a replayed request id hits idx_experience_log_request
// and rolls back before the character row is touched.
func (s *Store) CommitGrant(ctx context.Context, c *character.Character, entry character.ExperienceLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	err := s.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if err := insertExperienceLog(ctx, tx, entry); err != nil {
			return err
		}
		return writeCharacter(ctx, tx, c)
	})
	if err != nil {
		return classifyTx("character", "CommitGrant", c.ID, err)
	}

	c.Version++
	return nil
}

func writeCharacter(ctx context.Context, q Querier, c *character.Character) error {
	attrs, custom, err := marshalAttributes(c)
	if err != nil {
		return err
	}

	query := `
		UPDATE characters SET
			level = $1,
			experience = $2,
			attributes = $3,
			custom_attributes = $4,
			achievements = $5,
			accessories = $6,
			updated_at = $7,
			version = version + 1
		WHERE id = $8 AND version = $9
	`

	updatedAt := c.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	result, err := q.Exec(ctx, query,
		c.Level,
		c.Experience,
		attrs,
		custom,
		c.Achievements.Sorted(),
		c.Accessories.Sorted(),
		updatedAt,
		c.ID,
		c.Version,
	)
	if err != nil {
		return classify("character", "Update", c.ID, err)
	}
	if result.RowsAffected() == 0 {
		return missingOrStale(ctx, q, "characters", "character", c.ID, c.Version)
	}
	return nil
}

func insertExperienceLog(ctx context.Context, q Querier, entry character.ExperienceLogEntry) error {
	query := `
		INSERT INTO experience_log (id, character_id, amount, source, leveled_up, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := q.Exec(ctx, query,
		entry.ID,
		entry.CharacterID,
		entry.Amount,
		string(entry.Source),
		entry.LeveledUp,
		entry.RequestID,
		entry.CreatedAt,
	)
	if IsUniqueViolation(err) && entry.RequestID != "" {
		return shared.WrapError("experience_log", "Append", shared.ErrAlreadyProcessed,
			"request "+entry.RequestID+" already applied", err)
	}
	return classify("experience_log", "Append", entry.ID, err)
}

// missingOrStale explains a versioned UPDATE that matched no row.
func missingOrStale(ctx context.Context, q Querier, table, domain, id string, version int64) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&exists); err != nil {
		return classify(domain, "Update", id, err)
	}
	if !exists {
		return shared.NotFound(domain, id)
	}
	return shared.NewDomainError(domain, "Update", shared.ErrConcurrentModification,
		fmt.Sprintf("version %d of %s is stale", version, id))
}

// ─────────────────────────────────────────────────────────────────────────────
// Scanning
// ─────────────────────────────────────────────────────────────────────────────

// scanner is satisfied by pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCharacter(row scanner) (*character.Character, error) {
	var c character.Character
	var attrsJSON, customJSON []byte
	var achievements, accessories []string

	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.Level,
		&c.Experience,
		&attrsJSON,
		&customJSON,
		&achievements,
		&accessories,
		&c.Version,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Attributes = make(map[string]int)
	if err := json.Unmarshal(attrsJSON, &c.Attributes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attributes of %s: %w", c.ID, err)
	}
	c.CustomAttributes = make(map[string]int)
	if err := json.Unmarshal(customJSON, &c.CustomAttributes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal custom attributes of %s: %w", c.ID, err)
	}
	c.Achievements = character.NewStringSet(achievements...)
	c.Accessories = character.NewStringSet(accessories...)

	return &c, nil
}

func marshalAttributes(c *character.Character) (attrs, custom []byte, err error) {
	if c.Attributes == nil {
		attrs = []byte("{}")
	} else if attrs, err = json.Marshal(c.Attributes); err != nil {
		return nil, nil, fmt.Errorf("failed to marshal attributes: %w", err)
	}
	if c.CustomAttributes == nil {
		custom = []byte("{}")
	} else if custom, err = json.Marshal(c.CustomAttributes); err != nil {
		return nil, nil, fmt.Errorf("failed to marshal custom attributes: %w", err)
	}
	return attrs, custom, nil
}
