package rolled

import "telegram-card-bot/internal/model"

// State is the lifecycle state of a rolled card, derived from its
// persisted flag combination. The flags stay authoritative in storage;
// State exists so transitions and the keyboard branch on one value.
type State int

const (
	StateUnclaimed State = iota
	StateClaimed
	StateLocked
	StateRerolling
	StateRerolled
)

func (s State) String() string {
	switch s {
	case StateClaimed:
		return "claimed"
	case StateLocked:
		return "locked"
	case StateRerolling:
		return "rerolling"
	case StateRerolled:
		return "rerolled"
	default:
		return "unclaimed"
	}
}

// StateOf derives the state from a rolled card and its active card.
// An in-flight reroll shadows everything, then the consumed reroll,
// then the lock. A nil card reads as unowned; callers that only need
// the reroll-side states may pass nil.
func StateOf(roll *model.RolledCard, card *model.Card) State {
	switch {
	case roll.BeingRerolled:
		return StateRerolling
	case roll.Rerolled:
		return StateRerolled
	case roll.IsLocked || (card != nil && card.Locked):
		return StateLocked
	case card != nil && card.Owner != nil:
		return StateClaimed
	default:
		return StateUnclaimed
	}
}
