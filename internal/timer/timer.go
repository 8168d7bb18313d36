// Package timer implements the attempt countdown. Remaining time is always
// recomputed from the attempt start and the estimated server clock, never
// decremented, so missed or late ticks cannot drift from the deadline.
package timer

import (
	"context"
	"sync"
	"time"

	"quiz-attempt-engine/internal/clocksync"
)

// State of the countdown.
type State int

const (
	Idle State = iota
	Running
	Expired
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Expired:
		return "expired"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// DefaultInterval is the tick period used when Config.Interval is zero.
const DefaultInterval = time.Second

// Config wires a timer to one attempt.
type Config struct {
	Limit     time.Duration
	StartedAt time.Time // server clock
	Clock     clocksync.Sync
	Now       func() time.Time // local clock, defaults to time.Now
	Interval  time.Duration
	OnTick    func(remaining int)
	OnExpire  func()
}

// Timer is a single cooperative countdown for one attempt.
type Timer struct {
	limit     int64
	startedAt time.Time
	clock     clocksync.Sync
	now       func() time.Time
	interval  time.Duration
	onTick    func(int)
	onExpire  func()

	mu    sync.Mutex
	state State
	last  int
	fired bool
	stop  chan struct{}
}

func New(cfg Config) *Timer {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Timer{
		limit:     int64(cfg.Limit / time.Second),
		startedAt: cfg.StartedAt,
		clock:     cfg.Clock,
		now:       now,
		interval:  interval,
		onTick:    cfg.OnTick,
		onExpire:  cfg.OnExpire,
		last:      -1,
	}
}

// Remaining computes the seconds left from absolute timestamps. It has no
// side effects and returns the same value for the same clock reading.
func (t *Timer) Remaining() int {
	return remaining(t.limit, t.startedAt, t.clock.Estimate(t.now()))
}

func remaining(limit int64, startedAt, serverNow time.Time) int {
	elapsed := serverNow.Sub(startedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	left := limit - int64(elapsed/time.Second)
	if left < 0 {
		return 0
	}
	return int(left)
}

// State returns the current countdown state.
func (t *Timer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Tick recomputes the remaining time, reports it, and fires expiry the
// first time it reaches zero. The reported value never increases.
func (t *Timer) Tick() int {
	t.mu.Lock()
	if t.state == Stopped {
		last := t.last
		t.mu.Unlock()
		if last < 0 {
			return 0
		}
		return last
	}

	left := t.Remaining()
	if t.last >= 0 && left > t.last {
		left = t.last
	}
	t.last = left

	fire := false
	if left == 0 && !t.fired {
		t.fired = true
		t.state = Expired
		fire = true
	}
	t.mu.Unlock()

	if t.onTick != nil {
		t.onTick(left)
	}
	if fire && t.onExpire != nil && t.State() != Stopped {
		t.onExpire()
	}
	return left
}

// Start moves an idle timer to Running and ticks every interval until Stop
// is called or ctx is done. The first tick happens immediately.
func (t *Timer) Start(ctx context.Context) {
	t.mu.Lock()
	if t.state != Idle {
		t.mu.Unlock()
		return
	}
	t.state = Running
	t.stop = make(chan struct{})
	stop := t.stop
	t.mu.Unlock()

	go t.run(ctx, stop)
}

func (t *Timer) run(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.Tick()
	for {
		select {
		case <-ticker.C:
			t.Tick()
		case <-stop:
			return
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
}

// Stop deregisters the tick. A stopped timer never fires expiry. Safe to
// call more than once and from inside callbacks.
func (t *Timer) Stop() {
	t.mu.Lock()
	if t.state == Stopped {
		t.mu.Unlock()
		return
	}
	t.state = Stopped
	stop := t.stop
	t.mu.Unlock()

	if stop != nil {
		close(stop)
	}
}
