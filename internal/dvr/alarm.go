// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package dvr

import (
	"sync"
	"time"

	"github.com/ManuGH/pvrd/internal/platform/clock"
)

// Alarm is a single re-armable wake-up. Arming replaces any earlier alarm.
type Alarm interface {
	Set(at time.Time)
	Cancel()
	// C delivers the armed instant when the alarm goes off.
	C() <-chan time.Time
}

// TimerAlarm implements Alarm on a clock timer.
type TimerAlarm struct {
	clock clock.Clock
	c     chan time.Time

	mu    sync.Mutex
	timer clock.Timer
	gen   uint64
}

// NewTimerAlarm returns an unarmed alarm driven by c.
func NewTimerAlarm(c clock.Clock) *TimerAlarm {
	return &TimerAlarm{clock: c, c: make(chan time.Time, 1)}
}

func (a *TimerAlarm) Set(at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
	a.gen++
	gen := a.gen
	a.timer = a.clock.AfterFunc(clock.Until(a.clock, at), func() { a.fire(gen, at) })
}

func (a *TimerAlarm) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
	a.gen++
}

func (a *TimerAlarm) C() <-chan time.Time { return a.c }

func (a *TimerAlarm) fire(gen uint64, at time.Time) {
	a.mu.Lock()
	if gen != a.gen {
		a.mu.Unlock()
		return
	}
	a.timer = nil
	a.mu.Unlock()

	select {
	case a.c <- at:
	default:
	}
}

func (a *TimerAlarm) stopLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	// drop a delivery of the replaced alarm that was not consumed yet
	select {
	case <-a.c:
	default:
	}
}
