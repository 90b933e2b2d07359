package models

import (
	"github.com/google/uuid"
	"time"
)

// GamePhase defines the lifecycle phase of a game.
type GamePhase string

const (
	GamePhaseLobby         GamePhase = "LOBBY"
	GamePhaseCategoryIntro GamePhase = "CATEGORY_INTRO"
	GamePhaseInProgress    GamePhase = "IN_PROGRESS"
	GamePhaseFinal         GamePhase = "FINAL"
	GamePhaseEnded         GamePhase = "ENDED"
)

// Round defines the board round of a game.
type Round string

const (
	RoundJeopardy Round = "JEOPARDY"
	RoundDouble   Round = "DOUBLE"
	RoundFinal    Round = "FINAL"
)

// Game represents one live trivia game session.
type Game struct {
	ID              uuid.UUID  `json:"id"`
	HostID          uuid.UUID  `json:"host_id"`
	Phase           GamePhase  `json:"phase"`
	Round           Round      `json:"round"`
	FocusedClueID   *uuid.UUID `json:"focused_clue_id,omitempty"`
	FocusedPlayerID *uuid.UUID `json:"focused_player_id,omitempty"`
	IsBuzzerLocked  bool       `json:"is_buzzer_locked"`
	CurrentPlayerID *uuid.UUID `json:"current_player_id,omitempty"` // holds Daily Double selection rights
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}
