// Package game holds the minigame engines and a small registry used to
// expose their commands to the bot layer.
package game

import (
	"fmt"
	"sort"
	"sync"
)

// Info describes a registered minigame for command listing.
type Info interface {
	// Name returns the display name (e.g. "Minesweeper").
	Name() string

	// Command returns the slash command that starts the game, without
	// the leading slash (e.g. "mines").
	Command() string

	// Description returns a one-line description for the command menu.
	Description() string
}

// Registry is a thread-safe command-to-game index.
type Registry struct {
	games map[string]Info
	mu    sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{games: make(map[string]Info)}
}

// Register indexes a game by its command. A game with the same command
// replaces the previous entry.
func (r *Registry) Register(g Info) error {
	if g == nil {
		return fmt.Errorf("cannot register nil game")
	}
	if g.Command() == "" {
		return fmt.Errorf("game command cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.games[g.Command()] = g
	return nil
}

// Get retrieves a game by command.
func (r *Registry) Get(command string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.games[command]
	return g, ok
}

// List returns all registered games sorted by command.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	games := make([]Info, 0, len(r.games))
	for _, g := range r.games {
		games = append(games, g)
	}
	sort.Slice(games, func(i, j int) bool {
		return games[i].Command() < games[j].Command()
	})
	return games
}

// Count returns the number of registered games.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.games)
}
