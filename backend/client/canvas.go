package client

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const defaultPublishTimeout = 5 * time.Second

type (
	// Surface is the local drawing surface.
	Surface interface {
		Snapshot(ctx context.Context) ([]byte, error)
		Load(data []byte) error
	}

	Publisher interface {
		Image(ctx context.Context, data []byte) error
	}

	// Canvas binds a surface to the connection: local changes are coalesced
	// into published snapshots, persisted ones land in history, and undo or
	// redo republishes the restored snapshot.
	Canvas struct {
		surface   Surface
		pub       Publisher
		history   *History
		coalescer *Coalescer
		logger    zerolog.Logger
	}
)

func NewCanvas(surface Surface, pub Publisher, logger *zerolog.Logger) *Canvas {
	c := &Canvas{
		surface: surface,
		pub:     pub,
		logger:  logger.With().Str("component", "canvas").Logger(),
	}
	c.history = NewHistory(c.restore)
	c.coalescer = NewCoalescer(surface.Snapshot, c.committed, logger)
	return c
}

// Run drives snapshot extraction from ticks until ctx is done.
func (c *Canvas) Run(ctx context.Context, ticks TickSource) {
	c.coalescer.Run(ctx, ticks)
}

// Changed is called after every local mutation of the surface. persist
// marks the end of a stroke or a clear, which become undo steps.
func (c *Canvas) Changed(persist bool) {
	c.coalescer.Notify(persist)
}

func (c *Canvas) Undo() bool { return c.history.Back() }

func (c *Canvas) Redo() bool { return c.history.Forward() }

func (c *Canvas) History() *History { return c.history }

// Receive renders a snapshot published by the current host.
func (c *Canvas) Receive(data []byte) {
	if err := c.surface.Load(data); err != nil {
		c.logger.Error().Err(err).Int("size", len(data)).Msg("failed to load remote snapshot")
	}
}

func (c *Canvas) committed(data []byte, persist bool) {
	c.publish(data)
	if persist {
		c.history.Push(data)
	}
}

func (c *Canvas) restore(data []byte) {
	if err := c.surface.Load(data); err != nil {
		c.logger.Error().Err(err).Msg("failed to restore snapshot")
		return
	}
	c.publish(data)
}

func (c *Canvas) publish(data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultPublishTimeout)
	defer cancel()
	if err := c.pub.Image(ctx, data); err != nil {
		c.logger.Error().Err(err).Msg("failed to publish snapshot")
	}
}
