package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
)

const (
	// minWaitGranularity bounds how short a refill wait can be scheduled.
	minWaitGranularity = 100 * time.Millisecond

	minuteLowWater = 5
	dayLowWater    = 100
)

// QuotaError reports that the daily request allowance is exhausted.
// It is never waited out locally; callers must back off until the reset.
type QuotaError struct {
	RetryAfter time.Duration
	ResetAt    time.Time
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("daily request quota exhausted, resets in %s", e.RetryAfter.Round(time.Second))
}

// Snapshot is a read-only view of the quota ledger.
type Snapshot struct {
	MinuteRemaining  int       `json:"minute_remaining" yaml:"minute_remaining"`
	MinuteCap        int       `json:"minute_cap" yaml:"minute_cap"`
	DayRemaining     int       `json:"day_remaining" yaml:"day_remaining"`
	DayCap           int       `json:"day_cap" yaml:"day_cap"`
	InFlight         int       `json:"in_flight" yaml:"in_flight"`
	ConcurrencyCap   int       `json:"concurrency_cap" yaml:"concurrency_cap"`
	Waiting          int       `json:"waiting" yaml:"waiting"`
	NextMinuteRefill time.Time `json:"next_minute_refill" yaml:"next_minute_refill"`
	NextDayReset     time.Time `json:"next_day_reset" yaml:"next_day_reset"`
	DoubleReleases   int       `json:"double_releases,omitempty" yaml:"double_releases,omitempty"`
}

type waiter struct {
	ready chan struct{}
}

// Controller gates outbound requests behind a rolling per-minute allowance,
// a daily allowance that resets at a calendar boundary, and an in-flight
// concurrency ceiling. Blocked callers are admitted in FIFO order.
type Controller struct {
	MinuteCap      int
	DayCap         int
	ConcurrencyCap int

	// RefillInterval is the per-minute window duration. Overridable for tests.
	RefillInterval time.Duration

	Clock  func() time.Time
	Zone   *time.Location
	Logger *logging.Logger

	mu                sync.Mutex
	minuteRemaining   int
	minuteWindowStart time.Time
	dayRemaining      int
	nextDayReset      time.Time
	inFlight          int
	waiters           []*waiter
	doubleReleases    int
	initialized       bool
}

// New returns a controller with the given ceilings.
func New(minuteCap, dayCap, concurrencyCap int) *Controller {
	return &Controller{
		MinuteCap:      minuteCap,
		DayCap:         dayCap,
		ConcurrencyCap: concurrencyCap,
	}
}

// Acquire admits the caller or suspends until a concurrency slot and a
// per-minute unit are available. A caller whose context is cancelled while
// waiting is never charged a slot. An exhausted daily allowance fails
// immediately with *QuotaError.
func (c *Controller) Acquire(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	c.refillLocked(c.now())

	if c.dayRemaining <= 0 {
		err := c.dayExhaustedLocked()
		c.mu.Unlock()
		return err
	}

	if len(c.waiters) == 0 && c.inFlight < c.ConcurrencyCap && c.minuteRemaining > 0 {
		c.admitLocked()
		c.mu.Unlock()
		return nil
	}

	w := &waiter{ready: make(chan struct{}, 1)}
	c.waiters = append(c.waiters, w)

	for {
		var refillWake <-chan time.Time
		var timer *time.Timer
		if c.waiters[0] == w && c.inFlight < c.ConcurrencyCap && c.minuteRemaining <= 0 {
			// Front of the queue, blocked only on the minute refill.
			wait := c.minuteWindowStart.Add(c.refillInterval()).Sub(c.now())
			if wait < minWaitGranularity {
				wait = minWaitGranularity
			}
			timer = time.NewTimer(wait)
			refillWake = timer.C
		}
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			c.mu.Lock()
			c.removeWaiterLocked(w)
			// A wake delivered to an abandoned waiter must not be lost.
			c.wakeFrontLocked()
			c.mu.Unlock()
			return ctx.Err()
		case <-w.ready:
			if timer != nil {
				timer.Stop()
			}
		case <-refillWake:
		}

		c.mu.Lock()
		c.refillLocked(c.now())

		if c.dayRemaining <= 0 {
			c.removeWaiterLocked(w)
			c.wakeFrontLocked()
			err := c.dayExhaustedLocked()
			c.mu.Unlock()
			return err
		}

		if c.waiters[0] == w && c.inFlight < c.ConcurrencyCap && c.minuteRemaining > 0 {
			c.removeWaiterLocked(w)
			c.admitLocked()
			c.wakeFrontLocked()
			c.mu.Unlock()
			return nil
		}
	}
}

// Release returns a concurrency slot and wakes the oldest waiter. The count
// floors at zero; a release without a matching acquire is counted and logged
// so slot-leak bugs stay visible.
func (c *Controller) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inFlight <= 0 {
		c.inFlight = 0
		c.doubleReleases++
		if c.Logger != nil {
			c.Logger.Warn("release without matching acquire",
				zap.Int("double_releases", c.doubleReleases))
		}
		return
	}

	c.inFlight--
	c.wakeFrontLocked()
}

// SyncFromServer reconciles local counters with server-reported remaining
// values. Local allowances only ever move down toward the reported value,
// never up. Negative arguments mean the corresponding header was absent.
func (c *Controller) SyncFromServer(minuteRemaining, dayRemaining int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.refillLocked(c.now())
	if minuteRemaining >= 0 && minuteRemaining < c.minuteRemaining {
		c.minuteRemaining = minuteRemaining
	}
	if dayRemaining >= 0 && dayRemaining < c.dayRemaining {
		c.dayRemaining = dayRemaining
	}
}

// Status reports the ledger after applying any pending refill or daily reset,
// so a snapshot taken past a boundary never shows stale exhausted state.
func (c *Controller) Status() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.refillLocked(c.now())
	return Snapshot{
		MinuteRemaining:  c.minuteRemaining,
		MinuteCap:        c.MinuteCap,
		DayRemaining:     c.dayRemaining,
		DayCap:           c.DayCap,
		InFlight:         c.inFlight,
		ConcurrencyCap:   c.ConcurrencyCap,
		Waiting:          len(c.waiters),
		NextMinuteRefill: c.minuteWindowStart.Add(c.refillInterval()),
		NextDayReset:     c.nextDayReset,
		DoubleReleases:   c.doubleReleases,
	}
}

// NearExhaustion reports whether either allowance is at its low-water mark.
func (c *Controller) NearExhaustion() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.refillLocked(c.now())
	return c.minuteRemaining <= minuteLowWater || c.dayRemaining <= dayLowWater
}

func (c *Controller) admitLocked() {
	c.minuteRemaining--
	c.dayRemaining--
	c.inFlight++
}

func (c *Controller) dayExhaustedLocked() *QuotaError {
	return &QuotaError{
		RetryAfter: c.nextDayReset.Sub(c.now()),
		ResetAt:    c.nextDayReset,
	}
}

// refillLocked advances the minute window and the daily boundary. Idle gaps
// spanning several windows advance the window start by whole intervals and
// restore the allowance to its cap exactly once.
func (c *Controller) refillLocked(now time.Time) {
	if !c.initialized {
		c.minuteRemaining = c.MinuteCap
		c.minuteWindowStart = now
		c.dayRemaining = c.DayCap
		c.nextDayReset = c.nextMidnight(now)
		c.initialized = true
		return
	}

	if elapsed := now.Sub(c.minuteWindowStart); elapsed >= c.refillInterval() {
		intervals := elapsed / c.refillInterval()
		c.minuteWindowStart = c.minuteWindowStart.Add(intervals * c.refillInterval())
		c.minuteRemaining = c.MinuteCap
	}

	if !now.Before(c.nextDayReset) {
		c.dayRemaining = c.DayCap
		c.nextDayReset = c.nextMidnight(now)
	}
}

func (c *Controller) removeWaiterLocked(w *waiter) {
	for i, queued := range c.waiters {
		if queued == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

func (c *Controller) wakeFrontLocked() {
	if len(c.waiters) == 0 {
		return
	}
	select {
	case c.waiters[0].ready <- struct{}{}:
	default:
	}
}

func (c *Controller) nextMidnight(now time.Time) time.Time {
	zone := c.Zone
	if zone == nil {
		zone = time.UTC
	}
	year, month, day := now.In(zone).Date()
	return time.Date(year, month, day+1, 0, 0, 0, 0, zone)
}

func (c *Controller) refillInterval() time.Duration {
	if c.RefillInterval > 0 {
		return c.RefillInterval
	}
	return time.Minute
}

func (c *Controller) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now().UTC()
}
