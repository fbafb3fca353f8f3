package game

import "strings"

// RockPaperScissorsType is the registry key for Rock-Paper-Scissors
const RockPaperScissorsType = "rps"

// Rock-Paper-Scissors choices
const (
	Rock     = "rock"
	Paper    = "paper"
	Scissors = "scissors"
)

// beats maps each choice to the choice it defeats
var beats = map[string]string{
	Rock:     Scissors,
	Scissors: Paper,
	Paper:    Rock,
}

// RockPaperScissors is a single simultaneous-move round.
// Not safe for concurrent use; the orchestrator serializes access per channel.
type RockPaperScissors struct {
	players [2]string
	moves   map[string]string
}

// NewRockPaperScissors seats first and second
func NewRockPaperScissors(first, second string) (Engine, error) {
	if first == "" || second == "" || first == second {
		return nil, ErrDuplicatePlayer
	}
	return &RockPaperScissors{
		players: [2]string{first, second},
		moves:   make(map[string]string, 2),
	}, nil
}

// ProcessMove records move for participant. A participant resubmitting
// before the round completes replaces their earlier choice.
func (g *RockPaperScissors) ProcessMove(participant, move string) (bool, error) {
	if participant != g.players[0] && participant != g.players[1] {
		return len(g.moves) < 2, ErrNotParticipant
	}
	if len(g.moves) == 2 {
		return false, ErrRoundResolved
	}
	choice := strings.ToLower(strings.TrimSpace(move))
	if _, ok := beats[choice]; !ok {
		return true, ErrInvalidMove
	}
	g.moves[participant] = choice
	return len(g.moves) < 2, nil
}

// CheckWinner applies cyclic dominance to the recorded moves
func (g *RockPaperScissors) CheckWinner() Outcome {
	first, ok1 := g.moves[g.players[0]]
	second, ok2 := g.moves[g.players[1]]
	if !ok1 || !ok2 {
		return Outcome{Verdict: Undetermined}
	}
	switch {
	case first == second:
		return Outcome{Verdict: Tie}
	case beats[first] == second:
		return Outcome{Verdict: Winner, Winner: g.players[0]}
	default:
		return Outcome{Verdict: Winner, Winner: g.players[1]}
	}
}

// Players returns the seated participants
func (g *RockPaperScissors) Players() [2]string {
	return g.players
}

// Moves returns a copy of the recorded moves
func (g *RockPaperScissors) Moves() map[string]string {
	out := make(map[string]string, len(g.moves))
	for k, v := range g.moves {
		out[k] = v
	}
	return out
}
