package models

import (
	"github.com/google/uuid"
	"time"
)

// Player represents a contestant in one game.
type Player struct {
	ID        uuid.UUID `json:"id"`
	GameID    uuid.UUID `json:"game_id"`
	Nickname  string    `json:"nickname"`
	Score     int       `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}
