package game

import (
	"fmt"
	"sort"
	"sync"
)

// Verdict is the kind of outcome CheckWinner reports
type Verdict int

const (
	// Undetermined means fewer than two moves are recorded
	Undetermined Verdict = iota
	// Tie means both moves are equal
	Tie
	// Winner means Outcome.Winner won the round
	Winner
)

// Outcome is the pure evaluation of the moves recorded so far
type Outcome struct {
	Verdict Verdict
	Winner  string
}

// Engine is one round of a two-player turn-based game.
// ARCHITECTURAL DISCOVERY: Two operations are the whole capability set, so a new
// game type never requires orchestrator changes
type Engine interface {
	// ProcessMove records a move for participant. It returns true while the
	// round is still waiting for moves and false once both are in.
	ProcessMove(participant, move string) (bool, error)

	// CheckWinner evaluates the recorded moves without mutating them
	CheckWinner() Outcome

	// Players returns the two participants in seat order
	Players() [2]string

	// Moves returns a copy of the recorded moves keyed by participant
	Moves() map[string]string
}

// Constructor builds a fresh engine for an ordered pair of participants
type Constructor func(first, second string) (Engine, error)

// Registry resolves game type names to constructors
type Registry struct {
	mu          sync.RWMutex
	ctors       map[string]Constructor
	defaultType string
}

// NewRegistry creates a registry holding the built-in games with
// defaultType used when callers do not ask for one
func NewRegistry(defaultType string) (*Registry, error) {
	r := &Registry{ctors: make(map[string]Constructor)}
	r.Register(RockPaperScissorsType, NewRockPaperScissors)
	if defaultType == "" {
		defaultType = RockPaperScissorsType
	}
	if _, ok := r.ctors[defaultType]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGameType, defaultType)
	}
	r.defaultType = defaultType
	return r, nil
}

// Register adds or replaces a game type
func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[name] = ctor
}

// DefaultType returns the game type used for new channels
func (r *Registry) DefaultType() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultType
}

// New builds an engine of the named type; an empty name selects the default
func (r *Registry) New(name, first, second string) (Engine, error) {
	r.mu.RLock()
	if name == "" {
		name = r.defaultType
	}
	ctor, ok := r.ctors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGameType, name)
	}
	return ctor(first, second)
}

// Types lists the registered game types in name order
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ctors))
	for name := range r.ctors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
