package models

import (
	"encoding/json"

	"github.com/google/uuid"
	"time"
)

// Answer records one adjudicated response.
type Answer struct {
	ID        uuid.UUID       `json:"id"`
	GameID    uuid.UUID       `json:"game_id"`
	ClueID    uuid.UUID       `json:"clue_id"`
	PlayerID  uuid.UUID       `json:"player_id"`
	Response  string          `json:"response"`
	IsCorrect bool            `json:"is_correct"`
	Value     int             `json:"value"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
