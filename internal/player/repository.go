package player

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

// ErrPlayerNotFound is returned when no player row matches the given id.
var ErrPlayerNotFound = errors.New("player not found")

// Repository provides Postgres access to the players table.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreatePlayer registers a contestant in a game with a zero score.
func (r *Repository) CreatePlayer(ctx context.Context, gameID uuid.UUID, nickname string) (*models.Player, error) {
	query := `
		INSERT INTO players (id, game_id, nickname, score, created_at)
		VALUES ($1, $2, $3, 0, $4)
		RETURNING id, game_id, nickname, score, created_at`
	var p models.Player
	err := r.pool.QueryRow(ctx, query, uuid.New(), gameID, nickname, time.Now()).
		Scan(&p.ID, &p.GameID, &p.Nickname, &p.Score, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create player: %w", err)
	}
	return &p, nil
}

// GetPlayer fetches one player by id.
func (r *Repository) GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error) {
	query := `SELECT id, game_id, nickname, score, created_at FROM players WHERE id = $1`
	var p models.Player
	err := r.pool.QueryRow(ctx, query, id).
		Scan(&p.ID, &p.GameID, &p.Nickname, &p.Score, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPlayerNotFound
		}
		return nil, fmt.Errorf("failed to get player: %w", err)
	}
	return &p, nil
}

// ListByGame returns all players of a game in join order.
func (r *Repository) ListByGame(ctx context.Context, gameID uuid.UUID) ([]models.Player, error) {
	query := `SELECT id, game_id, nickname, score, created_at FROM players WHERE game_id = $1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	defer rows.Close()

	var players []models.Player
	for rows.Next() {
		var p models.Player
		if err := rows.Scan(&p.ID, &p.GameID, &p.Nickname, &p.Score, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan player: %w", err)
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

// AddToScore applies a signed delta as a single atomic increment and returns
// the new score. Concurrent adjudications therefore cannot lose an update.
func (r *Repository) AddToScore(ctx context.Context, playerID uuid.UUID, delta int) (int, error) {
	query := `UPDATE players SET score = score + $2 WHERE id = $1 RETURNING score`
	var newScore int
	err := r.pool.QueryRow(ctx, query, playerID, delta).Scan(&newScore)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrPlayerNotFound
		}
		return 0, fmt.Errorf("failed to add to score: %w", err)
	}
	return newScore, nil
}

// CountByGame returns the number of contestants in a game.
func (r *Repository) CountByGame(ctx context.Context, gameID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM players WHERE game_id = $1`, gameID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count players: %w", err)
	}
	return count, nil
}
