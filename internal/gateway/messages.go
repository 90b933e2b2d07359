package gateway

import (
	"github.com/google/uuid"
	"github.com/trivialive/internal/buzzer"
	"github.com/trivialive/internal/realtime"
)

// Client actions accepted over the WebSocket.
const (
	ActionBuzz   = "buzz"
	ActionUnlock = "unlock"
	ActionLock   = "lock"
	ActionFocus  = "focus"
)

// ClientCommand is one inbound WebSocket message.
type ClientCommand struct {
	Action   string     `json:"action"`
	ClueID   *uuid.UUID `json:"clue_id,omitempty"`
	PlayerID *uuid.UUID `json:"player_id,omitempty"`
	Nickname string     `json:"nickname,omitempty"`
}

// Server message types pushed over the WebSocket.
const (
	MessageBuzzerState = "buzzer_state"
	MessageFocus       = "focus"
	MessageError       = "error"
)

// ServerMessage is one outbound WebSocket message.
type ServerMessage struct {
	Type string `json:"type"`

	// buzzer_state
	State       buzzer.State `json:"state,omitempty"`
	DisplayText string       `json:"display_text,omitempty"`
	ClassName   string       `json:"class_name,omitempty"`

	// focus
	PlayerID       *uuid.UUID `json:"player_id,omitempty"`
	PlayerNickname string     `json:"player_nickname,omitempty"`
	Source         string     `json:"source,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

// NewStateMessage builds the push for a buzzer state change, carrying the
// display lookups so the rendering layer stays a dumb consumer.
func NewStateMessage(state buzzer.State) ServerMessage {
	return ServerMessage{
		Type:        MessageBuzzerState,
		State:       state,
		DisplayText: buzzer.DisplayText(state),
		ClassName:   buzzer.ClassName(state),
	}
}

// NewFocusMessage builds the push for a focus change.
func NewFocusMessage(p realtime.FocusPlayerPayload) ServerMessage {
	pid := p.PlayerID
	return ServerMessage{
		Type:           MessageFocus,
		PlayerID:       &pid,
		PlayerNickname: p.PlayerNickname,
		Source:         string(p.Source),
	}
}

// NewErrorMessage builds an error push.
func NewErrorMessage(msg string) ServerMessage {
	return ServerMessage{Type: MessageError, Error: msg}
}
