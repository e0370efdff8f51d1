package door

import "sync"

// Noop implements Gate but does nothing except remember its position.
// Used when no gate is wired, and by the bench simulator.
type Noop struct {
	mu     sync.Mutex
	isOpen bool
}

// Open implements Gate.Open.
func (n *Noop) Open() error {
	n.mu.Lock()
	n.isOpen = true
	n.mu.Unlock()
	return nil
}

// Close implements Gate.Close.
func (n *Noop) Close() error {
	n.mu.Lock()
	n.isOpen = false
	n.mu.Unlock()
	return nil
}

// IsOpen reports the last commanded position.
func (n *Noop) IsOpen() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.isOpen
}

// Release implements Gate.Release.
func (n *Noop) Release() error {
	return n.Close()
}
