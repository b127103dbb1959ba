package monitor

import "time"

// NextWait exposes the delay Run waits before its next sweep.
func (m *Monitor) NextWait() time.Duration { return m.nextWait() }
