package rolled

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"telegram-card-bot/internal/model"
	"telegram-card-bot/internal/rarity"
)

func testView(mutate func(*View)) View {
	v := View{
		Roll: &model.RolledCard{
			RollID:         1,
			OriginalCardID: 10,
			CreatedAt:      time.Now(),
			OriginalRarity: rarity.Rare,
		},
		Card: &model.Card{
			ID:     10,
			Title:  "Night Courier",
			Rarity: rarity.Rare,
		},
		RerollWindow: 5 * time.Minute,
		Now:          time.Now(),
	}
	if mutate != nil {
		mutate(&v)
	}
	return v
}

func TestKeyboard_Unclaimed(t *testing.T) {
	v := testView(nil)
	assert.Equal(t, []Action{ActionClaim, ActionReroll}, Keyboard(v))
}

func TestKeyboard_ClaimedUnlocked(t *testing.T) {
	owner := "alice"
	v := testView(func(v *View) {
		v.Card.Owner = &owner
	})
	assert.Equal(t, []Action{ActionLock, ActionReroll}, Keyboard(v))
}

func TestKeyboard_Locked(t *testing.T) {
	owner := "alice"
	v := testView(func(v *View) {
		v.Card.Owner = &owner
		v.Card.Locked = true
		v.Roll.IsLocked = true
	})
	assert.Empty(t, Keyboard(v))
}

func TestKeyboard_BeingRerolledOffersNothing(t *testing.T) {
	v := testView(func(v *View) {
		v.Roll.BeingRerolled = true
	})
	assert.Empty(t, Keyboard(v))
}

func TestKeyboard_WindowExpired(t *testing.T) {
	v := testView(func(v *View) {
		v.Roll.CreatedAt = v.Now.Add(-6 * time.Minute)
	})
	assert.Equal(t, []Action{ActionClaim}, Keyboard(v), "claim stays available after the reroll window closes")
}

func TestKeyboard_Rerolled(t *testing.T) {
	owner := "alice"
	newID := int64(11)
	v := testView(func(v *View) {
		v.Roll.Rerolled = true
		v.Roll.RerolledCardID = &newID
		v.Card.Owner = &owner
	})
	assert.Empty(t, Keyboard(v), "no lock or reroll on a rerolled card")
}

func TestCaption(t *testing.T) {
	owner := "alice"

	t.Run("unclaimed", func(t *testing.T) {
		c := Caption(testView(nil))
		assert.Contains(t, c, "Night Courier")
		assert.Contains(t, c, "Unclaimed")
	})

	t.Run("owned and locked", func(t *testing.T) {
		c := Caption(testView(func(v *View) {
			v.Card.Owner = &owner
			v.Card.Locked = true
		}))
		assert.Contains(t, c, "@alice")
		assert.Contains(t, c, "🔒")
	})

	t.Run("being rerolled", func(t *testing.T) {
		c := Caption(testView(func(v *View) {
			v.Roll.BeingRerolled = true
		}))
		assert.Contains(t, c, "Rerolling")
		assert.NotContains(t, c, "Unclaimed")
	})

	t.Run("rerolled shows original rarity", func(t *testing.T) {
		c := Caption(testView(func(v *View) {
			v.Roll.Rerolled = true
			v.Card.Rarity = rarity.Common
		}))
		assert.Contains(t, c, "common")
		assert.Contains(t, c, "rerolled from rare")
	})

	t.Run("attempted by", func(t *testing.T) {
		c := Caption(testView(func(v *View) {
			v.Card.Owner = &owner
			v.Roll.AttemptedBy = "bob,carol"
		}))
		assert.Contains(t, c, "@bob")
		assert.Contains(t, c, "@carol")
	})
}
