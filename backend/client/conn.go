package client

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/adwski/shared-canvas/backend/arbiter"
	"github.com/adwski/shared-canvas/backend/model"
	"github.com/coder/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	defaultHandshakeTimeout = 5 * time.Second
	defaultPingInterval     = 5 * time.Second
	defaultPingTimeout      = 3 * time.Second
	defaultEventsBuffer     = 64

	// a raw 1280x720 RGBA canvas plus room for control frames
	defaultReadLimit = 1280*720*4 + 64*1024

	joinedNotice = "Joined"
)

var (
	ErrHandshake  = errors.New("handshake failed")
	ErrClosed     = errors.New("connection closed by server")
	ErrTerminated = errors.New("session terminated by server")
)

type (
	ConnConfig struct {
		Logger    *zerolog.Logger
		URL       string
		Nickname  string
		ReadLimit int64
	}

	// Conn is an authorized connection to a room.
	Conn struct {
		ws     *websocket.Conn
		logger zerolog.Logger
		events chan model.Event

		id       string
		nickname string
		pending  []model.Event
	}
)

// Dial connects, waits for hello, authorizes with the nickname and waits
// for the room to acknowledge the join. The session id is taken from the
// join notice, which is the first chat message a new member receives.
func Dial(ctx context.Context, cfg ConnConfig) (*Conn, error) {
	hsCtx, cancel := context.WithTimeout(ctx, defaultHandshakeTimeout)
	defer cancel()

	ws, _, err := websocket.Dial(hsCtx, cfg.URL, nil)
	if err != nil {
		return nil, errors.Join(ErrHandshake, err)
	}
	limit := cfg.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	ws.SetReadLimit(limit)

	c := &Conn{
		ws:       ws,
		nickname: cfg.Nickname,
		events:   make(chan model.Event, defaultEventsBuffer),
		logger:   cfg.Logger.With().Str("component", "client-conn").Logger(),
	}
	if err = c.handshake(hsCtx); err != nil {
		_ = ws.Close(websocket.StatusNormalClosure, "handshake failed")
		return nil, errors.Join(ErrHandshake, err)
	}
	c.logger = c.logger.With().Str("sessionID", c.id).Logger()
	c.logger.Debug().Str("nickname", c.nickname).Msg("connected")
	return c, nil
}

func (c *Conn) handshake(ctx context.Context) error {
	ev, err := c.read(ctx)
	if err != nil {
		return err
	}
	if ev.Type != model.EventHello {
		return errors.New("expected hello, got " + ev.Type)
	}

	if err = c.send(ctx, model.Event{Type: model.EventAuth, Payload: c.nickname}); err != nil {
		return err
	}

	for {
		if ev, err = c.read(ctx); err != nil {
			return err
		}
		switch ev.Type {
		case model.EventSys:
			var notice string
			_ = ev.Decode(&notice)
			return errors.Join(ErrTerminated, errors.New(notice))
		case model.EventChat:
			var msg model.ChatMessage
			if err = ev.Decode(&msg); err == nil &&
				msg.Kind == model.KindSystem &&
				msg.Message == joinedNotice &&
				msg.Nickname == c.nickname {
				c.id = msg.From
				c.pending = append(c.pending, ev)
				return nil
			}
		}
		c.pending = append(c.pending, ev)
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Nickname() string { return c.nickname }

// Events delivers server events. It is closed when Run returns.
func (c *Conn) Events() <-chan model.Event { return c.events }

// Run reads events and keeps the connection alive until ctx is cancelled
// or the server goes away.
func (c *Conn) Run(ctx context.Context) error {
	defer close(c.events)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readLoop(gCtx) })
	g.Go(func() error { return c.keepalive(gCtx) })

	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *Conn) readLoop(ctx context.Context) error {
	for _, ev := range c.pending {
		if err := c.deliver(ctx, ev); err != nil {
			return err
		}
	}
	c.pending = nil

	for {
		ev, err := c.read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return ErrClosed
			}
			return err
		}
		if ev.Type == model.EventSys {
			c.logger.Warn().Any("notice", ev.Payload).Msg("server terminated session")
		}
		if err = c.deliver(ctx, ev); err != nil {
			return err
		}
	}
}

func (c *Conn) deliver(ctx context.Context, ev model.Event) error {
	select {
	case c.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) keepalive(ctx context.Context) error {
	ticker := time.NewTicker(defaultPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
			err := c.ws.Ping(pCtx)
			cancel()
			if err != nil {
				return err
			}
			c.logger.Trace().Msg("pong received")
		}
	}
}

func (c *Conn) read(ctx context.Context) (model.Event, error) {
	for {
		typ, b, err := c.ws.Read(ctx)
		if err != nil {
			return model.Event{}, err
		}
		if typ == websocket.MessageBinary {
			return model.ImageEvent(b), nil
		}
		ev, err := model.ParseEvent(b)
		if err != nil {
			c.logger.Warn().Err(err).Msg("failed to parse server event")
			continue
		}
		return ev, nil
	}
}

func (c *Conn) send(ctx context.Context, ev model.Event) error {
	b, err := json.Marshal(&ev)
	if err != nil {
		return err
	}
	return c.ws.Write(ctx, websocket.MessageText, b)
}

func (c *Conn) Chat(ctx context.Context, text string) error {
	return c.send(ctx, model.Event{Type: model.EventChat, Payload: text})
}

// Host sends a claim action. Disconnect is not a wire action.
func (c *Conn) Host(ctx context.Context, action arbiter.Action) error {
	return c.send(ctx, model.Event{Type: model.EventHost, Payload: action.String()})
}

func (c *Conn) ChooseWord(ctx context.Context, topic, word string) error {
	return c.send(ctx, model.Event{Type: model.EventWord, Payload: model.WordChoice{Topic: topic, Word: word}})
}

func (c *Conn) Image(ctx context.Context, data []byte) error {
	return c.ws.Write(ctx, websocket.MessageBinary, data)
}

func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "bye")
}
