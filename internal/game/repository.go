package game

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

// Repository provides Postgres access to the games table. Updates to the row
// fire a pg_notify on the game_changes channel (trigger installed by the
// schema migration), which feeds the changefeed listener.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const gameColumns = `id, host_id, phase, round, focused_clue_id, focused_player_id,
	is_buzzer_locked, current_player_id, created_at, updated_at`

func (r *Repository) scanGame(row pgx.Row) (*models.Game, error) {
	var g models.Game
	err := row.Scan(
		&g.ID,
		&g.HostID,
		&g.Phase,
		&g.Round,
		&g.FocusedClueID,
		&g.FocusedPlayerID,
		&g.IsBuzzerLocked,
		&g.CurrentPlayerID,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGameNotFound
		}
		return nil, fmt.Errorf("failed to scan game: %w", err)
	}
	return &g, nil
}

// CreateGame inserts a new game in the lobby phase.
func (r *Repository) CreateGame(ctx context.Context, hostID uuid.UUID) (*models.Game, error) {
	query := `
		INSERT INTO games (id, host_id, phase, round, is_buzzer_locked, created_at, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, $5, $5)
		RETURNING ` + gameColumns
	now := time.Now()
	return r.scanGame(r.pool.QueryRow(ctx, query, uuid.New(), hostID, models.GamePhaseLobby, models.RoundJeopardy, now))
}

// GetGame fetches one game by id.
func (r *Repository) GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	query := `SELECT ` + gameColumns + ` FROM games WHERE id = $1`
	return r.scanGame(r.pool.QueryRow(ctx, query, id))
}

// GetHostID returns the host of a game. Used as the single authorization
// gate by every mutating adjudication operation.
func (r *Repository) GetHostID(ctx context.Context, gameID uuid.UUID) (uuid.UUID, error) {
	var hostID uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT host_id FROM games WHERE id = $1`, gameID).Scan(&hostID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrGameNotFound
		}
		return uuid.Nil, fmt.Errorf("failed to get game host: %w", err)
	}
	return hostID, nil
}

// UpdateFocus sets or clears the focused clue and player. Nil clears.
func (r *Repository) UpdateFocus(ctx context.Context, gameID uuid.UUID, clueID, playerID *uuid.UUID) error {
	query := `
		UPDATE games
		SET focused_clue_id = $2, focused_player_id = $3, updated_at = $4
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, gameID, clueID, playerID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update focus: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrGameNotFound
	}
	return nil
}

// SetBuzzerLocked sets the persisted buzzer lock flag.
func (r *Repository) SetBuzzerLocked(ctx context.Context, gameID uuid.UUID, locked bool) error {
	query := `UPDATE games SET is_buzzer_locked = $2, updated_at = $3 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, gameID, locked, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set buzzer lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrGameNotFound
	}
	return nil
}

// SetCurrentPlayer records who holds Daily Double selection rights.
func (r *Repository) SetCurrentPlayer(ctx context.Context, gameID, playerID uuid.UUID) error {
	query := `UPDATE games SET current_player_id = $2, updated_at = $3 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, gameID, playerID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set current player: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrGameNotFound
	}
	return nil
}

// UpdateRound advances the game's round.
func (r *Repository) UpdateRound(ctx context.Context, gameID uuid.UUID, round models.Round) error {
	query := `UPDATE games SET round = $2, updated_at = $3 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, gameID, round, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update round: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrGameNotFound
	}
	return nil
}

// UpdatePhase moves the game's lifecycle phase.
func (r *Repository) UpdatePhase(ctx context.Context, gameID uuid.UUID, phase models.GamePhase) error {
	query := `UPDATE games SET phase = $2, updated_at = $3 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, gameID, phase, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update phase: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrGameNotFound
	}
	return nil
}
