package recorder

// EpochGate evaluates a per-epoch permission list. Epochs beyond the
// list reuse its last entry, so a short list like [false, true] means
// "off for epoch 1, on from epoch 2 onward".
type EpochGate []bool

// Enabled reports whether recording is on for the given 1-based epoch.
// An empty gate is always off.
func (g EpochGate) Enabled(epoch int) bool {
	if len(g) == 0 || epoch < 1 {
		return false
	}
	idx := epoch - 1
	if idx >= len(g) {
		idx = len(g) - 1
	}
	return g[idx]
}
