// Package slots implements the stateless slot-spin resolver. Each spin
// is independent: the resolver decides card-win / claim-win / loss and
// synthesizes the 3-symbol display sequence, with no cross-spin memory.
package slots

import (
	"math/rand"

	"telegram-card-bot/internal/rarity"
)

// Symbol is one reel symbol. At most one symbol in a set is the
// designated claim symbol.
type Symbol struct {
	Label   string
	IsClaim bool
}

// DefaultSymbols is the production reel symbol set.
var DefaultSymbols = []Symbol{
	{Label: "🃏"},
	{Label: "🍒"},
	{Label: "💎"},
	{Label: "⭐"},
	{Label: "🎟", IsClaim: true},
}

// SpinResult is the outcome of one spin. It is ephemeral: produced
// fresh per request and never persisted.
type SpinResult struct {
	IsWin      bool
	IsClaimWin bool
	Symbols    [3]Symbol    // the visual reel sequence
	Rarity     rarity.Tier  // set only on a card win
}

// Resolver resolves spins against a rarity table.
type Resolver struct {
	table rarity.Table
}

// New creates a Resolver drawing card rarities from the given table.
func New(table rarity.Table) *Resolver {
	return &Resolver{table: table}
}

// ResolveSpin resolves one spin. A first Bernoulli draw at winChance
// decides a card win; only if that misses, a second independent draw at
// claimChance decides a claim-point win. Card and claim wins are
// mutually exclusive per spin. If neither hits, a loss pattern is
// synthesized.
func (r *Resolver) ResolveSpin(symbols []Symbol, winChance, claimChance float64) SpinResult {
	if rand.Float64() < winChance {
		return r.cardWin(symbols)
	}

	if claim, ok := claimSymbol(symbols); ok && rand.Float64() < claimChance {
		return SpinResult{
			IsClaimWin: true,
			Symbols:    [3]Symbol{claim, claim, claim},
		}
	}

	return SpinResult{Symbols: synthesizeLoss(symbols)}
}

// ResolveMegaspin resolves a guaranteed card win: no Bernoulli draws,
// no claim path, always a triple match with a table-drawn rarity.
func (r *Resolver) ResolveMegaspin(symbols []Symbol) SpinResult {
	return r.cardWin(symbols)
}

func (r *Resolver) cardWin(symbols []Symbol) SpinResult {
	pool := nonClaimSymbols(symbols)
	s := pool[rand.Intn(len(pool))]
	return SpinResult{
		IsWin:   true,
		Symbols: [3]Symbol{s, s, s},
		Rarity:  r.table.Draw(),
	}
}

func claimSymbol(symbols []Symbol) (Symbol, bool) {
	for _, s := range symbols {
		if s.IsClaim {
			return s, true
		}
	}
	return Symbol{}, false
}

func nonClaimSymbols(symbols []Symbol) []Symbol {
	pool := make([]Symbol, 0, len(symbols))
	for _, s := range symbols {
		if !s.IsClaim {
			pool = append(pool, s)
		}
	}
	if len(pool) == 0 {
		return symbols
	}
	return pool
}

// synthesizeLoss produces a losing reel sequence of exactly one of two
// shapes: [a,b,c] all pairwise distinct, or [a,a,b]. The near-miss
// shapes [a,b,a] and [a,b,b] read as misleadingly close calls and are
// excluded by construction, not by retry. Within a shape, symbols are
// weighted inversely by their index distance to the reel position they
// almost matched, so losses keep near-miss tension.
func synthesizeLoss(symbols []Symbol) [3]Symbol {
	if len(symbols) < 2 {
		s := symbols[0]
		return [3]Symbol{s, s, s}
	}

	// With only two symbols an all-distinct triple is impossible.
	pairShape := len(symbols) < 3 || rand.Intn(2) == 0

	first := rand.Intn(len(symbols))
	if pairShape {
		// [a,a,b]: the third reel breaks the match.
		third := drawWeighted(symbols, first, first)
		return [3]Symbol{symbols[first], symbols[first], symbols[third]}
	}

	// [a,b,c]: all distinct, each drawn near its predecessor.
	second := drawWeighted(symbols, first, first)
	third := drawWeighted(symbols, second, first, second)
	return [3]Symbol{symbols[first], symbols[second], symbols[third]}
}

// drawWeighted picks a symbol index not in exclude, weighting candidates
// by 1/(1+distance) from the anchor index.
func drawWeighted(symbols []Symbol, anchor int, exclude ...int) int {
	excluded := func(i int) bool {
		for _, e := range exclude {
			if i == e {
				return true
			}
		}
		return false
	}

	// Scaled integer weights keep the draw in integer arithmetic.
	weights := make([]int, len(symbols))
	total := 0
	for i := range symbols {
		if excluded(i) {
			continue
		}
		dist := i - anchor
		if dist < 0 {
			dist = -dist
		}
		weights[i] = 60 / (1 + dist) // 60 divides evenly for small distances
		total += weights[i]
	}
	if total == 0 {
		return anchor
	}

	roll := rand.Intn(total)
	for i, w := range weights {
		roll -= w
		if roll < 0 {
			return i
		}
	}
	return anchor
}
