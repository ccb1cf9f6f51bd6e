package rolled

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"telegram-card-bot/internal/model"
)

func TestStateOf(t *testing.T) {
	owner := "alice"

	tests := []struct {
		name string
		roll model.RolledCard
		card *model.Card
		want State
	}{
		{"fresh roll", model.RolledCard{}, &model.Card{}, StateUnclaimed},
		{"nil card reads as unowned", model.RolledCard{}, nil, StateUnclaimed},
		{"claimed", model.RolledCard{}, &model.Card{Owner: &owner}, StateClaimed},
		{"locked roll", model.RolledCard{IsLocked: true}, &model.Card{Owner: &owner}, StateLocked},
		{"locked card", model.RolledCard{}, &model.Card{Owner: &owner, Locked: true}, StateLocked},
		{"rerolling shadows lock", model.RolledCard{BeingRerolled: true, IsLocked: true}, &model.Card{}, StateRerolling},
		{"rerolled", model.RolledCard{Rerolled: true}, &model.Card{}, StateRerolled},
		{"rerolled shadows ownership", model.RolledCard{Rerolled: true}, &model.Card{Owner: &owner}, StateRerolled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StateOf(&tt.roll, tt.card))
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unclaimed", StateUnclaimed.String())
	assert.Equal(t, "rerolling", StateRerolling.String())
	assert.Equal(t, "rerolled", StateRerolled.String())
}
