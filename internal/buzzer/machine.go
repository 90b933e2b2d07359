package buzzer

import (
	"fmt"

	"github.com/trivialive/internal/models"
)

// Context is the snapshot a state derivation runs against. It lives only in
// the coordination layer's memory and is rebuilt from the latest known
// game/clue state.
type Context struct {
	GamePhase      models.GamePhase
	HasFocusedClue bool
	IsLocked       bool
	HasBuzzed      bool
	IsFrozen       bool
}

// StateMachine derives buzzer states and validates transitions. It holds no
// mutable fields; construct one per game session and share it freely.
type StateMachine struct {
	transitions map[State][]State
}

// NewStateMachine creates a state machine with the fixed transition table.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		transitions: map[State][]State{
			StateHidden:   {StateInactive},
			StateInactive: {StateLocked, StateHidden},
			StateLocked:   {StateUnlocked, StateFrozen, StateInactive},
			StateUnlocked: {StateBuzzed, StateLocked, StateInactive},
			StateBuzzed:   {StateInactive, StateFrozen},
			StateFrozen:   {StateInactive},
		},
	}
}

// DetermineState derives the current state from a context snapshot.
// Precedence is fixed: freeze and buzz outcomes dominate transient
// lock/unlock signals.
func (m *StateMachine) DetermineState(ctx Context) State {
	switch {
	case ctx.GamePhase == models.GamePhaseLobby:
		return StateHidden
	case ctx.GamePhase == models.GamePhaseCategoryIntro:
		return StateInactive
	case ctx.IsFrozen:
		return StateFrozen
	case ctx.HasBuzzed:
		return StateBuzzed
	case !ctx.HasFocusedClue:
		return StateInactive
	case ctx.IsLocked:
		return StateLocked
	default:
		return StateUnlocked
	}
}

// ValidateTransition reports whether from→to is an edge in the transition
// table. Any edge not listed is invalid; notably UNLOCKED→FROZEN is rejected
// because freezing is the penalty for buzzing outside the unlocked window,
// which enters through LOCKED→FROZEN.
func (m *StateMachine) ValidateTransition(from, to State) error {
	for _, allowed := range m.transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("invalid buzzer transition %s -> %s", from, to)
}

// PostBuzzState resolves where a buzz lands from the given state. A buzz
// while LOCKED is an early buzz and freezes the player; a buzz while UNLOCKED
// wins the window; any other state means the machine already moved on and the
// buzz is a no-op.
func (m *StateMachine) PostBuzzState(current State, earlyBuzz bool) State {
	if current == StateLocked || (earlyBuzz && current == StateUnlocked) {
		return StateFrozen
	}
	if current == StateUnlocked {
		return StateBuzzed
	}
	return current
}

// IsInteractive reports whether the control should accept clicks. LOCKED
// stays clickable so an early click can be detected and penalized rather
// than silently ignored.
func (m *StateMachine) IsInteractive(s State) bool {
	return s == StateUnlocked || s == StateLocked
}
