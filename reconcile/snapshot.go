package reconcile

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"

	solstep "solstep-cli/solana"
)

// Snapshot is one registry fetch. FetchedAt is when the fetch started, not
// when it returned.
type Snapshot struct {
	Seq        uint64
	FetchedAt  time.Time
	Challenges []*solstep.Challenge
}

// Find returns the challenge at addr, or nil.
func (s *Snapshot) Find(addr solana.PublicKey) *solstep.Challenge {
	if s == nil {
		return nil
	}
	for _, c := range s.Challenges {
		if c.PublicKey.Equals(addr) {
			return c
		}
	}
	return nil
}

// Cache holds the most recently stored snapshot. Put does not compare
// sequence numbers: when two fetches overlap, whichever is stored last is
// kept, even if it started first.
type Cache struct {
	seq     atomic.Uint64
	mu      sync.RWMutex
	current *Snapshot
}

// Next reserves a sequence number for a fetch about to start.
func (c *Cache) Next() uint64 {
	return c.seq.Add(1)
}

func (c *Cache) Put(s *Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = s
}

// Current returns the stored snapshot, or nil before the first Put.
func (c *Cache) Current() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Fetcher lists every challenge account.
type Fetcher interface {
	FetchAll(ctx context.Context) ([]*solstep.Challenge, error)
}

// Refresh runs one fetch and stores its snapshot in the cache.
func (e *Engine) Refresh(ctx context.Context, fetcher Fetcher, cache *Cache) (*Snapshot, error) {
	seq := cache.Next()
	started := e.clock.Now()
	challenges, err := fetcher.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Seq: seq, FetchedAt: started, Challenges: challenges}
	cache.Put(snap)
	e.log.Debug("solstep/reconcile: snapshot stored", "seq", seq, "challenges", len(challenges))
	return snap, nil
}
