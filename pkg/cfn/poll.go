package cfn

import (
	"time"

	"github.com/juju/errors"

	"github.com/spirius/gldeploy/pkg/closer"
)

// DefaultPollInterval is the delay between two
// consecutive reads of remote resources.
const DefaultPollInterval = 2 * time.Second

// DefaultMaxAttempts bounds wait loops of DefaultPoller,
// two hours with DefaultPollInterval.
const DefaultMaxAttempts = 3600

// ErrPollLimit is the cause of errors of wait loops
// which ran out of attempts.
var ErrPollLimit = errors.New("poll attempt limit reached")

// Clock schedules the delays between polls.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// RealClock is the wall clock.
var RealClock Clock = realClock{}

type instantClock struct{}

func (instantClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

// InstantClock fires immediately, regardless of the delay.
var InstantClock Clock = instantClock{}

// Backoff returns the delay before poll attempt.
// Attempts are counted from 1.
type Backoff func(attempt int) time.Duration

// ConstantBackoff waits d between all attempts.
func ConstantBackoff(d time.Duration) Backoff {
	return func(int) time.Duration {
		return d
	}
}

// ExponentialBackoff doubles the delay on every attempt,
// starting from initial and never exceeding max.
func ExponentialBackoff(initial, max time.Duration) Backoff {
	return func(attempt int) time.Duration {
		d := initial
		for i := 1; i < attempt && d < max; i++ {
			d *= 2
		}
		if d > max {
			d = max
		}
		return d
	}
}

// Poller controls the pace of wait loops.
type Poller struct {
	Clock   Clock
	Backoff Backoff

	// MaxAttempts is the number of reads after which wait
	// loops give up with ErrPollLimit. Zero means no limit.
	MaxAttempts int
}

// DefaultPoller polls with DefaultPollInterval on the wall clock.
var DefaultPoller = Poller{
	Clock:       RealClock,
	Backoff:     ConstantBackoff(DefaultPollInterval),
	MaxAttempts: DefaultMaxAttempts,
}

// limit returns ErrPollLimit once attempt reached MaxAttempts.
func (p Poller) limit(attempt int, what string) error {
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		return errors.Annotatef(ErrPollLimit, "%s is not ready after %d attempts", what, attempt)
	}
	return nil
}

// sleep blocks before poll attempt. It returns false if c is closed
// in the meantime. Nil closer is never closed.
func (p Poller) sleep(attempt int, c *closer.Closer) bool {
	clock, backoff := p.Clock, p.Backoff
	if clock == nil {
		clock = RealClock
	}
	if backoff == nil {
		backoff = DefaultPoller.Backoff
	}

	var done <-chan struct{}
	if c != nil {
		done = c.Chan()
		if c.IsClosed() {
			return false
		}
	}

	select {
	case <-clock.After(backoff(attempt)):
		return true
	case <-done:
		return false
	}
}

// WaitConfig is the waiter configuration
// shared by stacks, change sets and stack events.
type WaitConfig struct {
	// Closer is used to stop waiting when
	// it is closed or close it depending
	// on values of CloseOnEnd and CloseOnError
	Closer *closer.Closer

	// CloseOnEnd is an option to close the Closer
	// when waiter finishes.
	CloseOnEnd bool

	// CloseOnError is an option to close the Closer
	// in case of error.
	CloseOnError bool
}

// finish closes the Closer of the config according to its options.
func (config WaitConfig) finish(err error) {
	if config.Closer == nil {
		return
	}
	if err != nil && config.CloseOnError {
		config.Closer.Close(err)
		return
	}
	if config.CloseOnEnd {
		config.Closer.Close(nil)
	}
}
