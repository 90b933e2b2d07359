package models

import (
	"github.com/google/uuid"
	"time"
)

// ClueState defines the board state of a clue.
type ClueState string

const (
	ClueStateHidden    ClueState = "HIDDEN"
	ClueStateRevealed  ClueState = "REVEALED"
	ClueStateCompleted ClueState = "COMPLETED"
)

// Clue represents one board clue. LockedOutPlayerIDs holds players excluded
// from further attempts on this clue; it only grows until the clue completes.
type Clue struct {
	ID                 uuid.UUID   `json:"id"`
	GameID             uuid.UUID   `json:"game_id"`
	Round              Round       `json:"round"`
	Category           string      `json:"category"`
	Value              int         `json:"value"`
	Question           string      `json:"question"`
	Answer             string      `json:"answer"`
	IsDailyDouble      bool        `json:"is_daily_double"`
	State              ClueState   `json:"state"`
	LockedOutPlayerIDs []uuid.UUID `json:"locked_out_player_ids"`
	CreatedAt          time.Time   `json:"created_at"`
}
