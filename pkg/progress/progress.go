// Package progress provides reusable progress-reporting helpers.
package progress

// Emit calls cb with clamped processed/total values.
// It is a no-op when cb is nil or total is non-positive.
func Emit(cb func(processed, total int), processed, total int) {
	if cb == nil || total <= 0 {
		return
	}

	if processed < 0 {
		processed = 0
	}
	if processed > total {
		processed = total
	}

	cb(processed, total)
}

// Percent returns processed/total as a percentage in [0, 100].
// A non-positive total counts as complete.
func Percent(processed, total int) float64 {
	if total <= 0 {
		return 100
	}

	var pct float64
	Emit(func(p, t int) { pct = float64(p) * 100 / float64(t) }, processed, total)
	return pct
}

// Monotonic filters a percentage stream so it never decreases and never
// leaves [0, 100].
type Monotonic struct {
	last    float64
	started bool
}

// Next clamps pct and reports whether it advances past the last value.
// The first call always reports true.
func (m *Monotonic) Next(pct float64) (float64, bool) {
	pct = max(0, min(100, pct))

	if m.started && pct <= m.last {
		return m.last, false
	}

	m.started = true
	m.last = pct
	return pct, true
}

// Last returns the highest percentage seen.
func (m *Monotonic) Last() float64 {
	return m.last
}
