package client

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

type (
	// Extractor serializes the current drawing surface.
	Extractor func(ctx context.Context) ([]byte, error)

	// SnapshotFunc receives every extracted snapshot. persist is set when
	// any change folded into it asked to be kept in history.
	SnapshotFunc func(data []byte, persist bool)

	// Coalescer turns bursts of surface changes into single snapshot
	// extractions, at most one in flight at a time.
	Coalescer struct {
		extract    Extractor
		onSnapshot SnapshotFunc
		logger     zerolog.Logger

		mx      *sync.Mutex
		wg      *sync.WaitGroup
		dirty    bool
		persist  bool
		running  bool
		failures int
	}
)

func NewCoalescer(extract Extractor, onSnapshot SnapshotFunc, logger *zerolog.Logger) *Coalescer {
	return &Coalescer{
		extract:    extract,
		onSnapshot: onSnapshot,
		logger:     logger.With().Str("component", "coalescer").Logger(),
		mx:         &sync.Mutex{},
		wg:         &sync.WaitGroup{},
	}
}

// Notify records a surface change. It never blocks on extraction.
func (c *Coalescer) Notify(persist bool) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.dirty = true
	c.persist = c.persist || persist
}

// Run samples pending changes on every tick until ctx is cancelled, then
// stops ticks and waits for an in-flight extraction to finish.
func (c *Coalescer) Run(ctx context.Context, ticks TickSource) {
	defer func() {
		ticks.Stop()
		c.wg.Wait()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks.C():
			c.tick(ctx)
		}
	}
}

func (c *Coalescer) tick(ctx context.Context) {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.running || !c.dirty || ctx.Err() != nil {
		return
	}
	persist := c.take()
	c.running = true

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.loop(ctx, persist)
	}()
}

// take clears pending flags and returns the accumulated persist value.
// Callers hold mx.
func (c *Coalescer) take() bool {
	persist := c.persist
	c.dirty = false
	c.persist = false
	return persist
}

// loop extracts until no changes are pending. Changes made during an
// extraction start the next one right away unless ctx is done.
func (c *Coalescer) loop(ctx context.Context, persist bool) {
	for {
		data, err := c.extract(context.WithoutCancel(ctx))

		if err != nil {
			c.mx.Lock()
			c.failures++
			// one error per failure streak
			if c.failures == 1 {
				c.logger.Error().Err(err).Msg("snapshot extraction failed")
			} else {
				c.logger.Debug().Err(err).Int("failures", c.failures).Msg("snapshot extraction failed again")
			}
			c.dirty = true
			c.persist = c.persist || persist
			c.running = false
			c.mx.Unlock()
			return
		}

		c.mx.Lock()
		if c.failures > 0 {
			c.logger.Info().Int("failures", c.failures).Msg("snapshot extraction recovered")
			c.failures = 0
		}
		c.mx.Unlock()

		c.logger.Trace().Int("size", len(data)).Bool("persist", persist).Msg("snapshot extracted")
		c.onSnapshot(data, persist)

		c.mx.Lock()
		if !c.dirty || ctx.Err() != nil {
			c.running = false
			c.mx.Unlock()
			return
		}
		persist = c.take()
		c.mx.Unlock()
	}
}

// Failures is the number of extractions that failed in a row.
func (c *Coalescer) Failures() int {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.failures
}

// Pending reports whether changes are waiting for extraction.
func (c *Coalescer) Pending() bool {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.dirty
}
