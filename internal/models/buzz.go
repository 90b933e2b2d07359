package models

import (
	"github.com/google/uuid"
	"time"
)

// Buzz is one append-only buzz record for a clue. CreatedAt ascending is the
// authoritative "first buzz" ordering; ReactionTimeMs is the client-measured
// value carried for display and tie analysis.
type Buzz struct {
	ID             uuid.UUID `json:"id"`
	GameID         uuid.UUID `json:"game_id"`
	ClueID         uuid.UUID `json:"clue_id"`
	PlayerID       uuid.UUID `json:"player_id"`
	ReactionTimeMs *int64    `json:"reaction_time_ms,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
