// Package clocksync estimates the server clock from a single timestamp
// delivered with quiz data.
package clocksync

import "time"

// Sync holds the offset between the local clock and the server clock.
// The zero value trusts the local clock.
type Sync struct {
	offset   time.Duration
	degraded bool
}

// New derives offset = localAtFetch - serverAtFetch. A nil server time
// yields a zero offset and marks the sync as degraded.
func New(localAtFetch time.Time, serverAtFetch *time.Time) Sync {
	if serverAtFetch == nil || serverAtFetch.IsZero() {
		return Sync{degraded: true}
	}
	return Sync{offset: localAtFetch.Sub(*serverAtFetch)}
}

// Offset returns the signed local-minus-server difference.
func (s Sync) Offset() time.Duration {
	return s.offset
}

// Degraded reports that no server sample was available.
func (s Sync) Degraded() bool {
	return s.degraded
}

// Estimate converts a local reading into the estimated server time.
func (s Sync) Estimate(local time.Time) time.Time {
	return local.Add(-s.offset)
}
