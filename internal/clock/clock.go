// Package clock implements the clock & time model (C1): a monotonic "now",
// one local zone for persisted timestamps and one scheduler zone for cron
// evaluation, plus the unit-shift arithmetic used by the cron union trigger.
package clock

import (
	"errors"
	"sync"
	"time"
)

// ErrBadUnit is returned by Duration/Shift for a shift unit outside
// {s, min, h, D}.
var ErrBadUnit = errors.New("clock: unrecognized shift unit")

// Clock is the seam used everywhere a component needs "now" or a timer, so
// tests can substitute FakeClock instead of waiting on real time.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
	After(d time.Duration) <-chan time.Time
}

// Ticker mirrors time.Ticker so FakeClock can stand in for it in tests.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realClock struct{}

// NewRealClock returns a Clock backed by the real wall clock.
func NewRealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

type realTicker struct{ ticker *time.Ticker }

func (t *realTicker) C() <-chan time.Time { return t.ticker.C }
func (t *realTicker) Stop()               { t.ticker.Stop() }

// Unit is a shift unit tag, one of the four the spec allows.
type Unit string

const (
	UnitSeconds Unit = "s"
	UnitMinutes Unit = "min"
	UnitHours   Unit = "h"
	UnitDays    Unit = "D"
)

// Duration converts n units of u into a time.Duration, or returns ErrBadUnit.
func Duration(n int, u Unit) (time.Duration, error) {
	switch u {
	case UnitSeconds:
		return time.Duration(n) * time.Second, nil
	case UnitMinutes:
		return time.Duration(n) * time.Minute, nil
	case UnitHours:
		return time.Duration(n) * time.Hour, nil
	case UnitDays:
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, ErrBadUnit
	}
}

// Model anchors the two zones the spec requires: L (local, for persisted
// naive timestamps) and S (scheduler zone, for cron evaluation). It never
// consults the OS default zone.
type Model struct {
	mu    sync.RWMutex
	clock Clock
	local *time.Location
	sched *time.Location
}

// New builds a Model. If useTZ is true the scheduler zone is UTC; otherwise
// it is the same location as local.
func New(c Clock, local *time.Location, useTZ bool) *Model {
	sched := local
	if useTZ {
		sched = time.UTC
	}
	return &Model{clock: c, local: local, sched: sched}
}

// NowLocal returns the current local wall-clock timestamp: the clock reading
// projected onto the local zone L and tagged with L, so its wall-clock fields
// are L's. Persisted timestamps are always of this shape.
func (m *Model) NowLocal() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t := m.clock.Now().In(m.local)
	return stripZone(t)
}

// ToScheduler converts a naive-local or zone-aware timestamp into the
// scheduler zone S. t is reprojected onto L before its wall-clock fields are
// read, so a caller-supplied "now" in any zone — including go-cron's own
// internal clock, which defaults to the OS zone when no WithClock is
// configured — never leaks that zone into the conversion.
func (m *Model) ToScheduler(t time.Time) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	local := t.In(m.local)
	naive := time.Date(
		local.Year(), local.Month(), local.Day(),
		local.Hour(), local.Minute(), local.Second(), local.Nanosecond(),
		m.local,
	)
	return naive.In(m.sched)
}

// SchedulerLocation returns the scheduler zone S.
func (m *Model) SchedulerLocation() *time.Location {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sched
}

// LocalLocation returns the local zone L.
func (m *Model) LocalLocation() *time.Location {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.local
}

// Shift adds ±n of unit u to t. With reverse=true it subtracts instead,
// matching spec §4.2 step 1 (anchor = shift(now, shift_time, shift_unit,
// reverse=true)).
func Shift(t time.Time, n int, u Unit, reverse bool) (time.Time, error) {
	d, err := Duration(n, u)
	if err != nil {
		return time.Time{}, err
	}
	if reverse {
		return t.Add(-d), nil
	}
	return t.Add(d), nil
}

func stripZone(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
