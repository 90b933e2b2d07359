package buzzer

// State is the derived buzzer state for one (player, clue) pair. It is
// recomputed from Context on every relevant event, never stored durably.
type State string

const (
	StateHidden   State = "HIDDEN"
	StateInactive State = "INACTIVE"
	StateLocked   State = "LOCKED"
	StateUnlocked State = "UNLOCKED"
	StateBuzzed   State = "BUZZED"
	StateFrozen   State = "FROZEN"
)

// DisplayText returns the human-readable label for a state.
func DisplayText(s State) string {
	switch s {
	case StateHidden:
		return ""
	case StateInactive:
		return "Stand By"
	case StateLocked:
		return "Wait..."
	case StateUnlocked:
		return "BUZZ!"
	case StateBuzzed:
		return "Buzzed In!"
	case StateFrozen:
		return "Frozen Out"
	default:
		return ""
	}
}

// ClassName returns the presentation hint for a state, consumed by the
// rendering layer.
func ClassName(s State) string {
	switch s {
	case StateHidden:
		return "buzzer-hidden"
	case StateInactive:
		return "buzzer-inactive"
	case StateLocked:
		return "buzzer-locked"
	case StateUnlocked:
		return "buzzer-unlocked"
	case StateBuzzed:
		return "buzzer-buzzed"
	case StateFrozen:
		return "buzzer-frozen"
	default:
		return "buzzer-inactive"
	}
}
