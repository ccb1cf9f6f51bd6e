package rolled

import (
	"fmt"
	"strings"
	"time"

	"telegram-card-bot/internal/model"
)

// Action is a button the display keyboard can offer.
type Action string

const (
	ActionClaim  Action = "claim"
	ActionLock   Action = "lock"
	ActionReroll Action = "reroll"
)

// View is the read-only input to the display projections: the rolled
// card, its active card, and the clock. Projections never mutate state.
type View struct {
	Roll         *model.RolledCard
	Card         *model.Card
	RerollWindow time.Duration
	Now          time.Time
}

func (v View) rerollOpen() bool {
	return v.Now.Sub(v.Roll.CreatedAt) < v.RerollWindow
}

// Caption renders the card message text from current state.
func Caption(v View) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n", v.Card.Title)

	if v.Roll.Rerolled {
		fmt.Fprintf(&b, "Rarity: %s (rerolled from %s)\n", v.Card.Rarity, v.Roll.OriginalRarity)
	} else {
		fmt.Fprintf(&b, "Rarity: %s\n", v.Card.Rarity)
	}

	switch {
	case v.Roll.BeingRerolled:
		b.WriteString("Rerolling…\n")
	case v.Card.Owner != nil:
		fmt.Fprintf(&b, "Owned by @%s", *v.Card.Owner)
		if v.Card.Locked {
			b.WriteString(" 🔒")
		}
		b.WriteString("\n")
	default:
		b.WriteString("Unclaimed\n")
	}

	if attempts := v.Roll.AttemptedByList(); len(attempts) > 0 {
		fmt.Fprintf(&b, "Also wanted by: @%s\n", strings.Join(attempts, ", @"))
	}

	return strings.TrimRight(b.String(), "\n")
}

// Keyboard derives the available actions from current state. A card
// mid-reroll or locked offers nothing; otherwise claim while unclaimed,
// lock for a claimed card, and reroll while the window is open. After a
// reroll only claiming the replacement remains.
func Keyboard(v View) []Action {
	var actions []Action
	switch StateOf(v.Roll, v.Card) {
	case StateRerolling, StateLocked:
		return nil
	case StateUnclaimed:
		actions = append(actions, ActionClaim)
		if v.rerollOpen() {
			actions = append(actions, ActionReroll)
		}
	case StateClaimed:
		actions = append(actions, ActionLock)
		if v.rerollOpen() {
			actions = append(actions, ActionReroll)
		}
	case StateRerolled:
		if v.Card.Owner == nil {
			actions = append(actions, ActionClaim)
		}
	}
	return actions
}
