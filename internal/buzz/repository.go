package buzz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/trivialive/internal/models"
)

// ErrNoBuzzes is returned when a clue has no recorded buzzes.
var ErrNoBuzzes = errors.New("no buzzes recorded for clue")

// Repository provides Postgres access to the append-only buzzes table.
// created_at ascending is the authoritative "first buzz" ordering,
// independent of broadcast arrival order.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateBuzz appends one buzz record.
func (r *Repository) CreateBuzz(ctx context.Context, gameID, clueID, playerID uuid.UUID, reactionTimeMs *int64) (*models.Buzz, error) {
	query := `
		INSERT INTO buzzes (id, game_id, clue_id, player_id, reaction_time_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, game_id, clue_id, player_id, reaction_time_ms, created_at`
	var b models.Buzz
	err := r.pool.QueryRow(ctx, query, uuid.New(), gameID, clueID, playerID, reactionTimeMs, time.Now()).
		Scan(&b.ID, &b.GameID, &b.ClueID, &b.PlayerID, &b.ReactionTimeMs, &b.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create buzz: %w", err)
	}
	return &b, nil
}

// ListByClue returns a clue's buzzes in authoritative order.
func (r *Repository) ListByClue(ctx context.Context, clueID uuid.UUID) ([]models.Buzz, error) {
	query := `
		SELECT id, game_id, clue_id, player_id, reaction_time_ms, created_at
		FROM buzzes WHERE clue_id = $1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, clueID)
	if err != nil {
		return nil, fmt.Errorf("failed to list buzzes: %w", err)
	}
	defer rows.Close()

	var buzzes []models.Buzz
	for rows.Next() {
		var b models.Buzz
		if err := rows.Scan(&b.ID, &b.GameID, &b.ClueID, &b.PlayerID, &b.ReactionTimeMs, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan buzz: %w", err)
		}
		buzzes = append(buzzes, b)
	}
	return buzzes, rows.Err()
}

// FirstByClue returns the authoritative first buzz for a clue.
func (r *Repository) FirstByClue(ctx context.Context, clueID uuid.UUID) (*models.Buzz, error) {
	query := `
		SELECT id, game_id, clue_id, player_id, reaction_time_ms, created_at
		FROM buzzes WHERE clue_id = $1 ORDER BY created_at ASC LIMIT 1`
	var b models.Buzz
	err := r.pool.QueryRow(ctx, query, clueID).
		Scan(&b.ID, &b.GameID, &b.ClueID, &b.PlayerID, &b.ReactionTimeMs, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoBuzzes
		}
		return nil, fmt.Errorf("failed to get first buzz: %w", err)
	}
	return &b, nil
}

// DeleteByClue clears the buzz queue for a fresh buzz-in round.
func (r *Repository) DeleteByClue(ctx context.Context, clueID uuid.UUID) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM buzzes WHERE clue_id = $1`, clueID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete buzzes: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
