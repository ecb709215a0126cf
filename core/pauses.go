package core

import "sync"

// PauseSet is the in-memory pause switchboard consulted by every engine
// through the shared guard. Pausing is an operator action on the embedding
// process, not persisted protocol state.
type PauseSet struct {
	mu     sync.RWMutex
	paused map[string]bool
}

// NewPauseSet constructs an empty switchboard.
func NewPauseSet() *PauseSet {
	return &PauseSet{paused: make(map[string]bool)}
}

// IsPaused implements the engines' pause view.
func (p *PauseSet) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused[module]
}

// SetPaused toggles the pause flag for a module.
func (p *PauseSet) SetPaused(module string, paused bool) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused[module] = paused
}
