package models

import (
	"github.com/google/uuid"
	"time"
)

// Wager is a Daily Double stake. At most one active row exists per
// (game, clue, player); it is deleted when the clue completes.
type Wager struct {
	ID        uuid.UUID `json:"id"`
	GameID    uuid.UUID `json:"game_id"`
	ClueID    uuid.UUID `json:"clue_id"`
	PlayerID  uuid.UUID `json:"player_id"`
	Amount    int       `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}
