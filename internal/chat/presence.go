package chat

import (
	"sort"
	"sync"
)

// Presence maps each identity to its currently addressable connection.
// Last write wins: a reconnect supersedes the previous connection, and
// the stale connection's later close must not evict the new one, so
// Unregister is handle-aware. Process-local only; rebuilt from client
// re-announcements after a restart.
type Presence struct {
	mu    sync.RWMutex
	conns map[string]*Client
}

func NewPresence() *Presence {
	return &Presence{conns: make(map[string]*Client)}
}

// Register records c as the addressable connection for identity and
// returns the superseded connection, if any.
func (p *Presence) Register(identity string, c *Client) (prev *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev = p.conns[identity]
	p.conns[identity] = c
	if prev == c {
		return nil
	}
	return prev
}

// Unregister removes identity's entry only if c is still the current
// connection. Returns false for a stale handle.
func (p *Presence) Unregister(identity string, c *Client) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conns[identity] != c {
		return false
	}
	delete(p.conns, identity)
	return true
}

func (p *Presence) Lookup(identity string) (*Client, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.conns[identity]
	return c, ok
}

// Snapshot returns the sorted set of currently present identities.
func (p *Presence) Snapshot() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.conns))
	for id := range p.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
