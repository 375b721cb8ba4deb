package stream

import "time"

// Clock abstracts timer creation so reconnect backoff and keepalive
// scheduling are testable without wall-clock delays.
type Clock interface {
	Now() time.Time

	// AfterFunc runs f on its own goroutine after d elapses, unless the
	// returned timer is stopped first.
	AfterFunc(d time.Duration, f func()) Timer

	// NewTicker delivers ticks every d until stopped.
	NewTicker(d time.Duration) Ticker
}

// Timer is a cancellable one-shot timer.
type Timer interface {
	// Stop cancels the timer. It reports whether the timer was stopped
	// before firing.
	Stop() bool
}

// Ticker delivers periodic ticks on Chan until stopped.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

// SystemClock is the wall-clock implementation used outside of tests.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (SystemClock) NewTicker(d time.Duration) Ticker {
	return &systemTicker{ticker: time.NewTicker(d)}
}

type systemTicker struct {
	ticker *time.Ticker
}

func (t *systemTicker) Chan() <-chan time.Time { return t.ticker.C }
func (t *systemTicker) Stop()                  { t.ticker.Stop() }
