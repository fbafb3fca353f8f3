package game

import "errors"

// Game engine errors
var (
	ErrUnknownGameType = errors.New("unknown game type")
	ErrInvalidMove     = errors.New("invalid move")
	ErrNotParticipant  = errors.New("participant is not part of this game")
	ErrRoundResolved   = errors.New("round already resolved")
	ErrDuplicatePlayer = errors.New("a game needs two distinct participants")
)
