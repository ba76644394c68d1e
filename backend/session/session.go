// Package session handles one client connection between the transport and
// its room: the hello/auth handshake, payload decoding and flood limiting
// of chat and word events.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/adwski/shared-canvas/backend/arbiter"
	"github.com/adwski/shared-canvas/backend/model"
	"github.com/adwski/shared-canvas/backend/room"
	sw "github.com/adwski/shared-canvas/backend/switch"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	DefaultAuthTimeout = 3 * time.Second

	defaultLeaveTimeout   = 2 * time.Second
	defaultTerminateGrace = 2 * time.Second

	noticeAuthTimeout   = "Failed to authorize in certain seconds"
	noticeMalformedAuth = "Malformed auth payload"
	noticeRoomClosed    = "Room is closed"
)

var (
	ErrAuthTimeout   = errors.New("auth timed out")
	ErrMalformedAuth = errors.New("malformed auth payload")
	ErrJoin          = errors.New("unable to join room")
)

type (
	RoomSender interface {
		Send(ctx context.Context, msg room.Msg) error
	}

	Config struct {
		Logger      *zerolog.Logger
		Room        RoomSender
		Limiter     *rate.Limiter
		Kick        context.CancelFunc
		Now         func() time.Time
		Wire        model.Wire
		ID          string
		AuthTimeout time.Duration
	}

	Session struct {
		room    RoomSender
		limiter *rate.Limiter
		kick    context.CancelFunc
		now     func() time.Time
		done    chan struct{}
		logger  zerolog.Logger
		wire    model.Wire

		id          string
		authed      bool
		authTimeout time.Duration
	}
)

func New(cfg Config) *Session {
	s := &Session{
		id:          cfg.ID,
		room:        cfg.Room,
		wire:        cfg.Wire,
		limiter:     cfg.Limiter,
		kick:        cfg.Kick,
		now:         cfg.Now,
		authTimeout: cfg.AuthTimeout,
		done:        make(chan struct{}),
		logger:      cfg.Logger.With().Str("component", "session").Str("sessionID", cfg.ID).Logger(),
	}
	if s.authTimeout <= 0 {
		s.authTimeout = DefaultAuthTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.kick == nil {
		s.kick = func() {}
	}
	return s
}

func (s *Session) ID() string { return s.id }

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} { return s.done }

// Run greets the client, waits for auth and then forwards events to the
// room until ctx is cancelled. Protocol violations end the session with a
// terminal sys notice.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)

	if !s.emit(ctx, model.HelloEvent()) {
		return nil
	}

	authTimer := time.NewTimer(s.authTimeout)
	defer authTimer.Stop()
	authC := authTimer.C

	for {
		select {
		case <-ctx.Done():
			s.leave(ctx)
			return nil

		case <-authC:
			s.logger.Warn().Dur("timeout", s.authTimeout).Msg("auth timed out")
			s.terminate(ctx, noticeAuthTimeout)
			return ErrAuthTimeout

		case ev := <-s.wire.RX:
			if s.authed {
				s.forward(ctx, ev)
				continue
			}
			if ev.Type != model.EventAuth {
				s.logger.Debug().Str("type", ev.Type).Msg("event before auth ignored")
				continue
			}
			if err := s.auth(ctx, ev); err != nil {
				s.logger.Warn().Err(err).Msg("auth failed")
				if errors.Is(err, ErrMalformedAuth) {
					s.terminate(ctx, noticeMalformedAuth)
				} else {
					s.terminate(ctx, noticeRoomClosed)
				}
				return err
			}
			authTimer.Stop()
			authC = nil
		}
	}
}

func (s *Session) auth(ctx context.Context, ev model.Event) error {
	var nickname string
	if err := ev.Decode(&nickname); err != nil {
		return errors.Join(ErrMalformedAuth, err)
	}

	err := s.room.Send(ctx, room.Join{
		Session: room.Session{
			ID:       s.id,
			Nickname: nickname,
			JoinedAt: s.now(),
		},
		Endpoint: sw.Endpoint{TX: s.wire.TX, Kick: s.kick},
	})
	if err != nil {
		return errors.Join(ErrJoin, err)
	}

	s.authed = true
	s.logger = s.logger.With().Str("nickname", nickname).Logger()
	s.logger.Debug().Msg("session authorized")
	return nil
}

func (s *Session) forward(ctx context.Context, ev model.Event) {
	var msg room.Msg

	switch ev.Type {
	case model.EventImage:
		s.logger.Trace().Int("size", len(ev.Data)).Msg("snapshot received")
		msg = room.Image{From: s.id, Data: ev.Data}

	case model.EventChat, model.EventHost, model.EventWord:
		// Claim actions are never dropped, chat and word choices are answered
		// with a notice when throttled.
		if ev.Type != model.EventHost && s.limiter != nil && !s.limiter.Allow() {
			s.logger.Warn().Str("type", ev.Type).Msg("event rate exceeded, dropping")
			msg = room.Throttled{SessionID: s.id}
			break
		}
		var err error
		if msg, err = s.decode(ev); err != nil {
			s.logger.Warn().Err(err).Str("type", ev.Type).Msg("invalid payload")
			return
		}

	case model.EventAuth:
		s.logger.Debug().Msg("repeated auth ignored")
		return

	default:
		s.logger.Debug().Str("type", ev.Type).Msg("unknown event ignored")
		return
	}

	if err := s.room.Send(ctx, msg); err != nil {
		s.logger.Error().Err(err).Str("type", ev.Type).Msg("failed to forward event")
		if errors.Is(err, room.ErrClosed) {
			s.kick()
		}
	}
}

func (s *Session) decode(ev model.Event) (room.Msg, error) {
	switch ev.Type {
	case model.EventChat:
		var text string
		if err := ev.Decode(&text); err != nil {
			return nil, err
		}
		return room.Chat{From: s.id, Text: text}, nil

	case model.EventHost:
		var raw string
		if err := ev.Decode(&raw); err != nil {
			return nil, err
		}
		action, err := arbiter.ParseAction(raw)
		if err != nil {
			return nil, err
		}
		return room.Host{From: s.id, Action: action}, nil
	}

	var choice model.WordChoice
	if err := ev.Decode(&choice); err != nil {
		return nil, err
	}
	return room.Word{From: s.id, Topic: choice.Topic, Word: choice.Word}, nil
}

// leave tells the room the connection is gone. It competes with any
// in-flight release from this session for the room's inbox.
func (s *Session) leave(ctx context.Context) {
	if !s.authed {
		return
	}
	lCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultLeaveTimeout)
	defer cancel()
	if err := s.room.Send(lCtx, room.Leave{SessionID: s.id}); err != nil && !errors.Is(err, room.ErrClosed) {
		s.logger.Error().Err(err).Msg("failed to leave room")
		return
	}
	s.logger.Debug().Msg("session left room")
}

// terminate sends a terminal notice and waits for the transport to close
// the connection, kicking it if that takes too long.
func (s *Session) terminate(ctx context.Context, notice string) {
	if s.emit(ctx, model.SysEvent(notice)) {
		grace := time.NewTimer(defaultTerminateGrace)
		defer grace.Stop()
		select {
		case <-ctx.Done():
			return
		case <-grace.C:
		}
	}
	s.kick()
}

func (s *Session) emit(ctx context.Context, ev model.Event) bool {
	select {
	case s.wire.TX <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
