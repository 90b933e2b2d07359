package clue

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

// ErrClueNotFound is returned when no clue row matches the given id.
var ErrClueNotFound = errors.New("clue not found")

// Repository provides Postgres access to the clues table, including the
// per-clue lockout list.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const clueColumns = `id, game_id, round, category, value, question, answer,
	is_daily_double, state, locked_out_player_ids, created_at`

func (r *Repository) scanClue(row pgx.Row) (*models.Clue, error) {
	var c models.Clue
	err := row.Scan(
		&c.ID,
		&c.GameID,
		&c.Round,
		&c.Category,
		&c.Value,
		&c.Question,
		&c.Answer,
		&c.IsDailyDouble,
		&c.State,
		&c.LockedOutPlayerIDs,
		&c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClueNotFound
		}
		return nil, fmt.Errorf("failed to scan clue: %w", err)
	}
	return &c, nil
}

// CreateClueRequest carries the fields for a new board clue.
type CreateClueRequest struct {
	GameID        uuid.UUID
	Round         models.Round
	Category      string
	Value         int
	Question      string
	Answer        string
	IsDailyDouble bool
}

// CreateClue inserts a hidden clue with an empty lockout list.
func (r *Repository) CreateClue(ctx context.Context, req CreateClueRequest) (*models.Clue, error) {
	query := `
		INSERT INTO clues (id, game_id, round, category, value, question, answer,
			is_daily_double, state, locked_out_player_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '{}', $10)
		RETURNING ` + clueColumns
	return r.scanClue(r.pool.QueryRow(ctx, query,
		uuid.New(), req.GameID, req.Round, req.Category, req.Value,
		req.Question, req.Answer, req.IsDailyDouble, models.ClueStateHidden, time.Now()))
}

// GetClue fetches one clue by id.
func (r *Repository) GetClue(ctx context.Context, id uuid.UUID) (*models.Clue, error) {
	query := `SELECT ` + clueColumns + ` FROM clues WHERE id = $1`
	return r.scanClue(r.pool.QueryRow(ctx, query, id))
}

// ListByGameAndRound returns a round's clues in board order.
func (r *Repository) ListByGameAndRound(ctx context.Context, gameID uuid.UUID, round models.Round) ([]models.Clue, error) {
	query := `SELECT ` + clueColumns + ` FROM clues WHERE game_id = $1 AND round = $2 ORDER BY category, value`
	rows, err := r.pool.Query(ctx, query, gameID, round)
	if err != nil {
		return nil, fmt.Errorf("failed to list clues: %w", err)
	}
	defer rows.Close()

	var clues []models.Clue
	for rows.Next() {
		c, err := r.scanClue(rows)
		if err != nil {
			return nil, err
		}
		clues = append(clues, *c)
	}
	return clues, rows.Err()
}

// SetState moves a clue between hidden/revealed/completed.
func (r *Repository) SetState(ctx context.Context, clueID uuid.UUID, state models.ClueState) error {
	tag, err := r.pool.Exec(ctx, `UPDATE clues SET state = $2 WHERE id = $1`, clueID, state)
	if err != nil {
		return fmt.Errorf("failed to set clue state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClueNotFound
	}
	return nil
}

// AppendLockedOutPlayer adds a player to the clue's lockout list in one
// UPDATE and returns the updated list. Appending an already-present player is
// a no-op, keeping the operation retry-safe.
func (r *Repository) AppendLockedOutPlayer(ctx context.Context, clueID, playerID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		UPDATE clues
		SET locked_out_player_ids = CASE
			WHEN locked_out_player_ids @> ARRAY[$2]::uuid[] THEN locked_out_player_ids
			ELSE array_append(locked_out_player_ids, $2)
		END
		WHERE id = $1
		RETURNING locked_out_player_ids`
	var lockedOut []uuid.UUID
	err := r.pool.QueryRow(ctx, query, clueID, playerID).Scan(&lockedOut)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClueNotFound
		}
		return nil, fmt.Errorf("failed to append lockout: %w", err)
	}
	return lockedOut, nil
}

// IsPlayerLockedOut reports whether a player is excluded from a clue.
func (r *Repository) IsPlayerLockedOut(ctx context.Context, clueID, playerID uuid.UUID) (bool, error) {
	query := `SELECT locked_out_player_ids @> ARRAY[$2]::uuid[] FROM clues WHERE id = $1`
	var lockedOut bool
	err := r.pool.QueryRow(ctx, query, clueID, playerID).Scan(&lockedOut)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrClueNotFound
		}
		return false, fmt.Errorf("failed to check lockout: %w", err)
	}
	return lockedOut, nil
}

// CountIncompleteByRound counts a round's clues not yet completed. Round
// transitions refuse to advance while this is non-zero unless forced.
func (r *Repository) CountIncompleteByRound(ctx context.Context, gameID uuid.UUID, round models.Round) (int, error) {
	query := `SELECT COUNT(*) FROM clues WHERE game_id = $1 AND round = $2 AND state != $3`
	var count int
	err := r.pool.QueryRow(ctx, query, gameID, round, models.ClueStateCompleted).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count incomplete clues: %w", err)
	}
	return count, nil
}
