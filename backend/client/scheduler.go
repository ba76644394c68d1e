// Package client is the participant side of a shared canvas: a websocket
// connection to the server, the snapshot coalescing pipeline that feeds it
// and the local undo history.
package client

import "time"

// DefaultFrameInterval roughly matches a 60Hz display refresh.
const DefaultFrameInterval = 16 * time.Millisecond

// TickSource drives periodic work. Stop releases its resources; no ticks
// are delivered after it returns.
type TickSource interface {
	C() <-chan time.Time
	Stop()
}

type Ticker struct {
	t *time.Ticker
}

func NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		d = DefaultFrameInterval
	}
	return &Ticker{t: time.NewTicker(d)}
}

func (t *Ticker) C() <-chan time.Time { return t.t.C }

func (t *Ticker) Stop() { t.t.Stop() }
