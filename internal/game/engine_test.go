package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// firstMoveWins is a trivial engine used to prove the registry is open
type firstMoveWins struct {
	players [2]string
	first   string
}

func (f *firstMoveWins) ProcessMove(participant, move string) (bool, error) {
	if f.first == "" {
		f.first = participant
	}
	return false, nil
}

func (f *firstMoveWins) CheckWinner() Outcome {
	if f.first == "" {
		return Outcome{Verdict: Undetermined}
	}
	return Outcome{Verdict: Winner, Winner: f.first}
}

func (f *firstMoveWins) Players() [2]string       { return f.players }
func (f *firstMoveWins) Moves() map[string]string { return map[string]string{} }

func TestRegistry_DefaultIsRockPaperScissors(t *testing.T) {
	r, err := NewRegistry("")
	require.NoError(t, err)
	assert.Equal(t, RockPaperScissorsType, r.DefaultType())

	g, err := r.New("", "alice", "bob")
	require.NoError(t, err)
	assert.IsType(t, &RockPaperScissors{}, g)
	assert.Equal(t, [2]string{"alice", "bob"}, g.Players())
}

func TestRegistry_UnknownTypes(t *testing.T) {
	_, err := NewRegistry("chess")
	assert.ErrorIs(t, err, ErrUnknownGameType)

	r, err := NewRegistry(RockPaperScissorsType)
	require.NoError(t, err)
	_, err = r.New("chess", "alice", "bob")
	assert.ErrorIs(t, err, ErrUnknownGameType)
}

func TestRegistry_PluggableGame(t *testing.T) {
	r, err := NewRegistry("")
	require.NoError(t, err)
	r.Register("quickdraw", func(first, second string) (Engine, error) {
		return &firstMoveWins{players: [2]string{first, second}}, nil
	})
	assert.Equal(t, []string{"quickdraw", RockPaperScissorsType}, r.Types())

	g, err := r.New("quickdraw", "alice", "bob")
	require.NoError(t, err)
	more, err := g.ProcessMove("bob", "draw")
	require.NoError(t, err)
	assert.False(t, more)
	assert.Equal(t, Outcome{Verdict: Winner, Winner: "bob"}, g.CheckWinner())
}
