package minesweeper

import "math/rand"

const (
	// GridSize is the number of cells on the board.
	GridSize = 9

	// SafeRevealsRequired is the number of plain safe cells (neither
	// mine nor claim point) a player must reveal to win.
	SafeRevealsRequired = 3
)

// newBoard samples mineCount mine cells and claimCount claim-point
// cells from the grid via a single shuffle, so the two sets are
// disjoint and internally duplicate-free by construction.
func newBoard(mineCount, claimCount int) (mines, claimPoints []int64) {
	perm := rand.Perm(GridSize)

	mines = make([]int64, mineCount)
	for i := 0; i < mineCount; i++ {
		mines[i] = int64(perm[i])
	}

	claimPoints = make([]int64, claimCount)
	for i := 0; i < claimCount; i++ {
		claimPoints[i] = int64(perm[mineCount+i])
	}

	return mines, claimPoints
}

func contains(cells []int64, cell int64) bool {
	for _, c := range cells {
		if c == cell {
			return true
		}
	}
	return false
}

// safeReveals counts revealed cells that are neither mines nor claim
// points. Only these count toward the win threshold.
func safeReveals(revealed, mines, claimPoints []int64) int {
	n := 0
	for _, c := range revealed {
		if !contains(mines, c) && !contains(claimPoints, c) {
			n++
		}
	}
	return n
}
