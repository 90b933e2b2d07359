package wager

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

// ErrWagerNotFound is returned when no active wager matches the triple.
var ErrWagerNotFound = errors.New("wager not found")

// Repository provides Postgres access to Daily Double wagers. One active row
// exists per (game, clue, player); upserts replace the amount.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UpsertWager creates or replaces the active wager for the triple.
func (r *Repository) UpsertWager(ctx context.Context, gameID, clueID, playerID uuid.UUID, amount int) (*models.Wager, error) {
	query := `
		INSERT INTO wagers (id, game_id, clue_id, player_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (game_id, clue_id, player_id)
		DO UPDATE SET amount = $5
		RETURNING id, game_id, clue_id, player_id, amount, created_at`
	var w models.Wager
	err := r.pool.QueryRow(ctx, query, uuid.New(), gameID, clueID, playerID, amount, time.Now()).
		Scan(&w.ID, &w.GameID, &w.ClueID, &w.PlayerID, &w.Amount, &w.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert wager: %w", err)
	}
	return &w, nil
}

// GetActiveWager returns the active wager for the triple, if any.
func (r *Repository) GetActiveWager(ctx context.Context, gameID, clueID, playerID uuid.UUID) (*models.Wager, error) {
	query := `
		SELECT id, game_id, clue_id, player_id, amount, created_at
		FROM wagers WHERE game_id = $1 AND clue_id = $2 AND player_id = $3`
	var w models.Wager
	err := r.pool.QueryRow(ctx, query, gameID, clueID, playerID).
		Scan(&w.ID, &w.GameID, &w.ClueID, &w.PlayerID, &w.Amount, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWagerNotFound
		}
		return nil, fmt.Errorf("failed to get wager: %w", err)
	}
	return &w, nil
}

// DeleteByClue removes all wagers for a clue once it completes.
func (r *Repository) DeleteByClue(ctx context.Context, clueID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM wagers WHERE clue_id = $1`, clueID); err != nil {
		return fmt.Errorf("failed to delete wagers: %w", err)
	}
	return nil
}
