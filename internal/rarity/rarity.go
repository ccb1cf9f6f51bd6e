// Package rarity defines the card rarity tiers and their reward tables.
// Rarity governs roll probability, claim/lock costs and spin rewards;
// all lookups are pure and the tables carry no state.
package rarity

import (
	"fmt"
	"math/rand"
)

// Tier is a card rarity tier.
type Tier string

// Rarity tiers, ordered from most to least common.
const (
	Common    Tier = "common"
	Rare      Tier = "rare"
	Epic      Tier = "epic"
	Legendary Tier = "legendary"
	Unique    Tier = "unique"
)

// Order lists all tiers from lowest to highest.
// The index of a tier in this slice is its rank for comparisons.
var Order = []Tier{Common, Rare, Epic, Legendary, Unique}

// Entry holds the reward-table values for one tier.
type Entry struct {
	Weight     int   // roll probability weight
	ClaimCost  int64 // claim points charged to claim a card of this tier
	LockCost   int64 // claim points charged to lock a card of this tier
	SpinReward int64 // spins awarded for burning a card of this tier
}

// Table maps tiers to their reward-table entries.
type Table map[Tier]Entry

// Default returns the production reward table.
func Default() Table {
	return Table{
		Common:    {Weight: 50, ClaimCost: 5, LockCost: 10, SpinReward: 1},
		Rare:      {Weight: 30, ClaimCost: 10, LockCost: 20, SpinReward: 2},
		Epic:      {Weight: 15, ClaimCost: 20, LockCost: 40, SpinReward: 3},
		Legendary: {Weight: 4, ClaimCost: 40, LockCost: 80, SpinReward: 5},
		Unique:    {Weight: 1, ClaimCost: 80, LockCost: 160, SpinReward: 10},
	}
}

// Valid reports whether t is a known tier.
func Valid(t Tier) bool {
	_, ok := rankOf(t)
	return ok
}

func rankOf(t Tier) (int, bool) {
	for i, tier := range Order {
		if tier == t {
			return i, true
		}
	}
	return 0, false
}

// Rank returns the ordering rank of a tier (0 = Common).
// Unknown tiers rank below Common so bad data never compares as a win.
func Rank(t Tier) int {
	if r, ok := rankOf(t); ok {
		return r
	}
	return -1
}

// Compare returns -1, 0 or 1 as a is lower than, equal to, or higher than b.
func Compare(a, b Tier) int {
	ra, rb := Rank(a), Rank(b)
	switch {
	case ra < rb:
		return -1
	case ra > rb:
		return 1
	default:
		return 0
	}
}

// ClaimCost returns the claim-point cost for claiming a card of tier t.
func (tb Table) ClaimCost(t Tier) int64 {
	return tb[t].ClaimCost
}

// LockCost returns the claim-point cost for locking a card of tier t.
func (tb Table) LockCost(t Tier) int64 {
	return tb[t].LockCost
}

// SpinReward returns the spin payout for burning a card of tier t.
func (tb Table) SpinReward(t Tier) int64 {
	return tb[t].SpinReward
}

// Draw selects a random tier weighted by the table.
func (tb Table) Draw() Tier {
	return tb.DrawAtMost(Unique)
}

// DrawAtMost selects a random tier weighted by the table, considering only
// tiers at or below the given cap. Rerolls use this to guarantee the
// replacement card is of equal-or-lower rarity than the original.
func (tb Table) DrawAtMost(cap Tier) Tier {
	capRank := Rank(cap)
	total := 0
	for _, t := range Order {
		if Rank(t) > capRank {
			continue
		}
		total += tb[t].Weight
	}
	if total <= 0 {
		return Common
	}

	roll := rand.Intn(total)
	for _, t := range Order {
		if Rank(t) > capRank {
			continue
		}
		roll -= tb[t].Weight
		if roll < 0 {
			return t
		}
	}
	return Common
}

// Parse converts a raw string into a Tier.
func Parse(s string) (Tier, error) {
	t := Tier(s)
	if !Valid(t) {
		return "", fmt.Errorf("unknown rarity tier: %q", s)
	}
	return t, nil
}
