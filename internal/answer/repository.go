package answer

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
	"github.com/trivialive/internal/models"
)

// Repository provides access to the append-only answers table. It runs on
// database/sql so it can share the lib/pq connection the changefeed listener
// already holds.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreateAnswerRequest carries one adjudicated response.
type CreateAnswerRequest struct {
	GameID    uuid.UUID
	ClueID    uuid.UUID
	PlayerID  uuid.UUID
	Response  string
	IsCorrect bool
	Value     int
	Metadata  []byte // optional JSON blob (wager context, reaction time)
}

// CreateAnswer appends one answer record. Duplicate appends from a retried
// adjudication are tolerated by design.
func (r *Repository) CreateAnswer(ctx context.Context, req CreateAnswerRequest) (*models.Answer, error) {
	metadata := pqtype.NullRawMessage{}
	if len(req.Metadata) > 0 {
		metadata = pqtype.NullRawMessage{RawMessage: req.Metadata, Valid: true}
	}

	query := `
		INSERT INTO answers (id, game_id, clue_id, player_id, response, is_correct, value, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, game_id, clue_id, player_id, response, is_correct, value, metadata, created_at`

	var (
		a       models.Answer
		rawMeta pqtype.NullRawMessage
	)
	err := r.db.QueryRowContext(ctx, query,
		uuid.New(), req.GameID, req.ClueID, req.PlayerID,
		req.Response, req.IsCorrect, req.Value, metadata, time.Now(),
	).Scan(&a.ID, &a.GameID, &a.ClueID, &a.PlayerID, &a.Response, &a.IsCorrect, &a.Value, &rawMeta, &a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}
	if rawMeta.Valid {
		a.Metadata = rawMeta.RawMessage
	}
	return &a, nil
}

// ListByClue returns a clue's answers oldest first.
func (r *Repository) ListByClue(ctx context.Context, clueID uuid.UUID) ([]models.Answer, error) {
	query := `
		SELECT id, game_id, clue_id, player_id, response, is_correct, value, metadata, created_at
		FROM answers WHERE clue_id = $1 ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query, clueID)
	if err != nil {
		return nil, fmt.Errorf("failed to list answers: %w", err)
	}
	defer rows.Close()

	var answers []models.Answer
	for rows.Next() {
		var (
			a       models.Answer
			rawMeta pqtype.NullRawMessage
		)
		if err := rows.Scan(&a.ID, &a.GameID, &a.ClueID, &a.PlayerID, &a.Response, &a.IsCorrect, &a.Value, &rawMeta, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan answer: %w", err)
		}
		if rawMeta.Valid {
			a.Metadata = rawMeta.RawMessage
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}
