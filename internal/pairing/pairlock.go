package pairing

import (
	"context"
	"sync"
	"time"
)

// PairClaimer is implemented by stores that can reserve a pair's cooldown
// atomically across processes. A claim that is not followed by a recorded
// scan must be released.
type PairClaimer interface {
	// ClaimPair reserves the unordered pair (a, b) until the given time.
	// When another holder already owns the pair it reports false and the
	// time the existing claim ends.
	ClaimPair(ctx context.Context, a, b string, until, now time.Time) (bool, time.Time, error)

	// ReleasePair drops a claim made with the same until value
	ReleasePair(ctx context.Context, a, b string, until time.Time) error
}

// pairLocks serializes validations of the same unordered pair within
// this process; entries are reference counted and removed when unused
type pairLocks struct {
	mu   sync.Mutex
	held map[string]*pairLock
}

type pairLock struct {
	mu   sync.Mutex
	refs int
}

func newPairLocks() *pairLocks {
	return &pairLocks{held: make(map[string]*pairLock)}
}

// lock blocks until the caller owns the pair and returns its unlock func
func (p *pairLocks) lock(a, b string) func() {
	key := pairKey(a, b)

	p.mu.Lock()
	l, ok := p.held[key]
	if !ok {
		l = &pairLock{}
		p.held[key] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.held, key)
		}
		p.mu.Unlock()
	}
}

// size reports how many pairs currently have waiters or holders
func (p *pairLocks) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.held)
}

func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "\x00" + b
}
