package strategy

import (
	"log/slog"
	"sync"
	"time"
)

// Cooldown gates a strategy after consecutive losses. Two states:
// active and cooling down. Reaching the loss threshold enters cooldown;
// once the cooldown duration elapses the strategy re-activates with the
// loss counter reset. A win resets the counter at any time.
type Cooldown struct {
	mu        sync.Mutex
	enabled   bool
	threshold int
	duration  time.Duration

	consecutiveLosses int
	coolingDown       bool
	since             time.Time

	now    func() time.Time // injectable for tests
	logger *slog.Logger
}

// NewCooldown creates an active tracker with the given loss threshold
// and cooldown duration.
func NewCooldown(name string, threshold int, duration time.Duration) *Cooldown {
	return &Cooldown{
		enabled:   true,
		threshold: threshold,
		duration:  duration,
		now:       time.Now,
		logger:    slog.Default().With("module", "cooldown", "strategy", name),
	}
}

// RecordLoss bumps the consecutive-loss counter and enters cooldown at
// the threshold.
func (c *Cooldown) RecordLoss() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveLosses++
	if !c.coolingDown && c.consecutiveLosses >= c.threshold {
		c.coolingDown = true
		c.since = c.now()
		c.logger.Warn("entering cooldown",
			slog.Int("consecutive_losses", c.consecutiveLosses))
	}
}

// RecordWin resets the consecutive-loss counter.
func (c *Cooldown) RecordWin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveLosses = 0
}

// Enabled folds the manual enabled flag and the cooldown state into one
// gate. The cooldown-to-active transition happens here, on read.
func (c *Cooldown) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return false
	}
	if !c.coolingDown {
		return true
	}

	if c.now().Sub(c.since) >= c.duration {
		c.coolingDown = false
		c.consecutiveLosses = 0
		c.logger.Info("exiting cooldown")
		return true
	}
	return false
}

// SetEnabled flips the manual gate.
func (c *Cooldown) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
}

// ConsecutiveLosses returns the current loss streak.
func (c *Cooldown) ConsecutiveLosses() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecutiveLosses
}

// InCooldown reports whether the tracker is currently cooling down.
func (c *Cooldown) InCooldown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.coolingDown
}
