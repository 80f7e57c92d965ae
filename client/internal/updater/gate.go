package updater

import "sync/atomic"

// gate is a single-shot latch: the first TryAcquire wins and every later
// call reports false. A fresh gate is armed per update cycle wherever an
// action must fire at most once, duplicate event deliveries included.
type gate struct {
	fired atomic.Bool
}

func newGate() *gate {
	return &gate{}
}

// TryAcquire reports whether the caller is the first to acquire the gate.
func (g *gate) TryAcquire() bool {
	return g.fired.CompareAndSwap(false, true)
}

// Fired reports whether the gate has been acquired.
func (g *gate) Fired() bool {
	return g.fired.Load()
}
