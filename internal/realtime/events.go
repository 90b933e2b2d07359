package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// EventType names one of the five broadcast event kinds. The wire format is
// additive-only: receivers ignore kinds they do not recognize.
type EventType string

const (
	EventBuzzerUnlock EventType = "BuzzerUnlock"
	EventBuzzerLock   EventType = "BuzzerLock"
	EventPlayerBuzz   EventType = "PlayerBuzz"
	EventFocusPlayer  EventType = "FocusPlayer"
	EventPlayerFrozen EventType = "PlayerFrozen"
)

// FocusSource records why a player was focused.
type FocusSource string

const (
	FocusSourceAuto       FocusSource = "auto"
	FocusSourceManual     FocusSource = "manual"
	FocusSourceCorrection FocusSource = "correction"
)

// Envelope is the wire shape for every broadcast: the event name plus its
// matching payload. All timestamps are sender-local milliseconds since epoch.
type Envelope struct {
	Event   EventType       `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// BuzzerUnlockPayload opens the buzz window for a clue.
type BuzzerUnlockPayload struct {
	GameID    uuid.UUID `json:"game_id"`
	ClueID    uuid.UUID `json:"clue_id"`
	Timestamp int64     `json:"timestamp"`
}

// BuzzerLockPayload closes the buzz window.
type BuzzerLockPayload struct {
	GameID    uuid.UUID `json:"game_id"`
	Timestamp int64     `json:"timestamp"`
}

// PlayerBuzzPayload announces one player's buzz with its locally measured
// reaction time.
type PlayerBuzzPayload struct {
	GameID          uuid.UUID `json:"game_id"`
	ClueID          uuid.UUID `json:"clue_id"`
	PlayerID        uuid.UUID `json:"player_id"`
	PlayerNickname  string    `json:"player_nickname"`
	ReactionTimeMs  int64     `json:"reaction_time_ms"`
	ClientTimestamp int64     `json:"client_timestamp"`
}

// FocusPlayerPayload designates which player is expected to answer.
type FocusPlayerPayload struct {
	GameID         uuid.UUID   `json:"game_id"`
	PlayerID       uuid.UUID   `json:"player_id"`
	PlayerNickname string      `json:"player_nickname"`
	Source         FocusSource `json:"source"`
}

// PlayerFrozenPayload announces an early-buzz penalty.
type PlayerFrozenPayload struct {
	GameID          uuid.UUID `json:"game_id"`
	ClueID          uuid.UUID `json:"clue_id"`
	PlayerID        uuid.UUID `json:"player_id"`
	PlayerNickname  string    `json:"player_nickname"`
	ClientTimestamp int64     `json:"client_timestamp"`
}

// ParseEventPayload decodes an envelope's payload into its concrete struct.
// Unknown event types return (nil, nil) so old clients skip new kinds.
func ParseEventPayload(env *Envelope) (interface{}, error) {
	switch env.Event {
	case EventBuzzerUnlock:
		var p BuzzerUnlockPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", env.Event, err)
		}
		return p, nil

	case EventBuzzerLock:
		var p BuzzerLockPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", env.Event, err)
		}
		return p, nil

	case EventPlayerBuzz:
		var p PlayerBuzzPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", env.Event, err)
		}
		return p, nil

	case EventFocusPlayer:
		var p FocusPlayerPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", env.Event, err)
		}
		return p, nil

	case EventPlayerFrozen:
		var p PlayerFrozenPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", env.Event, err)
		}
		return p, nil

	default:
		return nil, nil
	}
}
