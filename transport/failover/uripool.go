// SPDX-FileCopyrightText: © 2024 The ApexMQ Authors
// SPDX-License-Identifier: AGPL-3.0-only

package failover

import (
	"math/rand"
	"sync"
)

// URIPool hands out candidate endpoints for connect attempts. A URI
// handed out by GetURI is checked out of the pool until returned with
// AddURI, so it is in at most one outstanding attempt at a time.
type URIPool struct {
	mu        sync.Mutex
	uris      []*URI
	randomize bool
}

// NewURIPool seeds a pool.
func NewURIPool(uris []*URI) *URIPool {
	p := &URIPool{}
	p.uris = append(p.uris, uris...)
	return p
}

// SetRandomize toggles shuffled selection.
func (p *URIPool) SetRandomize(v bool) {
	p.mu.Lock()
	p.randomize = v
	p.mu.Unlock()
}

// GetURI checks the next candidate out of the pool; ok is false when
// the pool is drained.
func (p *URIPool) GetURI() (*URI, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.uris) == 0 {
		return nil, false
	}
	i := 0
	if p.randomize {
		i = rand.Intn(len(p.uris))
	}
	u := p.uris[i]
	p.uris = append(p.uris[:i], p.uris[i+1:]...)
	return u, true
}

// AddURI returns a URI to the pool (or adds a new one); duplicates are
// dropped.
func (p *URIPool) AddURI(u *URI) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, have := range p.uris {
		if have.Equal(u) {
			return
		}
	}
	p.uris = append(p.uris, u)
}

// AddURIs returns a batch to the pool.
func (p *URIPool) AddURIs(uris []*URI) {
	for _, u := range uris {
		p.AddURI(u)
	}
}

// RemoveURI drops a URI from the pool.
func (p *URIPool) RemoveURI(u *URI) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, have := range p.uris {
		if have.Equal(u) {
			p.uris = append(p.uris[:i], p.uris[i+1:]...)
			return
		}
	}
}

// Contains reports pool membership.
func (p *URIPool) Contains(u *URI) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, have := range p.uris {
		if have.Equal(u) {
			return true
		}
	}
	return false
}

// IsEmpty reports whether the pool has no candidates available.
func (p *URIPool) IsEmpty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.uris) == 0
}

// Len returns the number of available candidates.
func (p *URIPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.uris)
}

// Clear empties the pool and returns what it held.
func (p *URIPool) Clear() []*URI {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.uris
	p.uris = nil
	return out
}
