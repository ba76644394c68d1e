package client

import (
	"context"
	"sync"

	"github.com/adwski/shared-canvas/backend/arbiter"
	"github.com/adwski/shared-canvas/backend/model"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Client ties a connection to a local canvas and chat log and tracks who
// is currently drawing.
type Client struct {
	conn   *Conn
	canvas *Canvas
	chat   *ChatLog
	logger zerolog.Logger

	mx     *sync.RWMutex
	host   *model.HostClaim
	notice string
}

func New(conn *Conn, surface Surface, logger *zerolog.Logger) *Client {
	return &Client{
		conn:   conn,
		canvas: NewCanvas(surface, conn, logger),
		chat:   NewChatLog(0),
		mx:     &sync.RWMutex{},
		logger: logger.With().Str("component", "client").Str("sessionID", conn.ID()).Logger(),
	}
}

// Run processes server events and local canvas changes until ctx is
// cancelled or the connection ends.
func (c *Client) Run(ctx context.Context, ticks TickSource) error {
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.conn.Run(gCtx)
	})
	g.Go(func() error {
		c.canvas.Run(gCtx, ticks)
		return nil
	})
	g.Go(func() error {
		for ev := range c.conn.Events() {
			c.dispatch(ev)
		}
		return nil
	})
	return g.Wait()
}

func (c *Client) dispatch(ev model.Event) {
	switch ev.Type {
	case model.EventImage:
		c.canvas.Receive(ev.Data)

	case model.EventChat:
		var msg model.ChatMessage
		if err := ev.Decode(&msg); err != nil {
			c.logger.Warn().Err(err).Msg("invalid chat message")
			return
		}
		c.chat.Push(msg)

	case model.EventHost:
		var claim *model.HostClaim
		if ev.Payload != nil {
			claim = &model.HostClaim{}
			if err := ev.Decode(claim); err != nil {
				c.logger.Warn().Err(err).Msg("invalid host claim")
				return
			}
		}
		c.mx.Lock()
		c.host = claim
		c.mx.Unlock()

	case model.EventSys:
		var notice string
		_ = ev.Decode(&notice)
		c.mx.Lock()
		c.notice = notice
		c.mx.Unlock()

	default:
		c.logger.Debug().Str("type", ev.Type).Msg("unknown event ignored")
	}
}

func (c *Client) ID() string { return c.conn.ID() }

func (c *Client) Canvas() *Canvas { return c.canvas }

func (c *Client) Chat() *ChatLog { return c.chat }

// Host returns the current claim, nil when nobody draws.
func (c *Client) Host() *model.HostClaim {
	c.mx.RLock()
	defer c.mx.RUnlock()
	return c.host
}

// IsHost reports whether this client may draw. Local surface changes
// should only be reported to the canvas while it returns true.
func (c *Client) IsHost() bool {
	h := c.Host()
	return h != nil && h.ID == c.conn.ID()
}

// Notice is the reason the server gave for ending the session, if any.
func (c *Client) Notice() string {
	c.mx.RLock()
	defer c.mx.RUnlock()
	return c.notice
}

func (c *Client) Say(ctx context.Context, text string) error {
	return c.conn.Chat(ctx, text)
}

func (c *Client) Request(ctx context.Context) error {
	return c.conn.Host(ctx, arbiter.Request)
}

func (c *Client) Acquire(ctx context.Context) error {
	return c.conn.Host(ctx, arbiter.Acquire)
}

func (c *Client) Release(ctx context.Context) error {
	return c.conn.Host(ctx, arbiter.Release)
}

// Follow acts on a chat link: either a chat line or a word choice.
func (c *Client) Follow(ctx context.Context, link model.Link) error {
	if link.Chat != "" {
		return c.conn.Chat(ctx, link.Chat)
	}
	return c.conn.ChooseWord(ctx, link.Topic, link.Word)
}
