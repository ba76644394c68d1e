package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/adwski/shared-canvas/backend/model"
	"github.com/adwski/shared-canvas/backend/room"
	"github.com/adwski/shared-canvas/backend/session"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	defaultEventRate  = 5
	defaultEventBurst = 10
)

var (
	ErrOpen       = errors.New("unable to open session")
	ErrGet        = errors.New("unable to get room")
	ErrDuplicate  = errors.New("session already exists")
	ErrNotFound   = errors.New("session is not found")
	ErrDisconnect = errors.New("unable to disconnect")
)

type (
	RoomStore interface {
		Room(roomID string) (*room.Room, error)
		GetRoom(roomID string) (*room.Room, error)
	}

	Service struct {
		store      RoomStore
		logger     zerolog.Logger
		rootLogger *zerolog.Logger

		mx       *sync.Mutex
		sessions map[string]*session.Session

		eventRate   rate.Limit
		eventBurst  int
		authTimeout time.Duration
	}

	Config struct {
		RoomStore   RoomStore
		Logger      *zerolog.Logger
		EventRate   float64
		EventBurst  int
		AuthTimeout time.Duration
	}
)

func NewService(cfg Config) *Service {
	svc := &Service{
		store:       cfg.RoomStore,
		logger:      cfg.Logger.With().Str("component", "service").Logger(),
		rootLogger:  cfg.Logger,
		mx:          &sync.Mutex{},
		sessions:    make(map[string]*session.Session),
		eventRate:   rate.Limit(cfg.EventRate),
		eventBurst:  cfg.EventBurst,
		authTimeout: cfg.AuthTimeout,
	}
	if svc.eventRate <= 0 {
		svc.eventRate = defaultEventRate
	}
	if svc.eventBurst <= 0 {
		svc.eventBurst = defaultEventBurst
	}
	return svc
}

// CreateSession starts a connection session bound to wire. The session
// lives until ctx is cancelled; kick is called when the session wants the
// transport to drop the connection.
func (svc *Service) CreateSession(
	ctx context.Context,
	kick context.CancelFunc,
	roomID, sessionID string,
	wire model.Wire,
) error {
	r, err := svc.store.Room(roomID)
	if err != nil {
		return errors.Join(ErrOpen, err)
	}

	svc.mx.Lock()
	defer svc.mx.Unlock()
	if _, ok := svc.sessions[sessionID]; ok {
		return errors.Join(ErrOpen, ErrDuplicate)
	}

	s := session.New(session.Config{
		ID:          sessionID,
		Logger:      svc.rootLogger,
		Room:        r,
		Wire:        wire,
		Kick:        kick,
		Limiter:     rate.NewLimiter(svc.eventRate, svc.eventBurst),
		AuthTimeout: svc.authTimeout,
	})
	svc.sessions[sessionID] = s

	go func() {
		if errS := s.Run(ctx); errS != nil {
			svc.logger.Warn().Err(errS).
				Str("roomID", roomID).
				Str("sessionID", sessionID).
				Msg("session terminated")
		}
	}()

	svc.logger.Debug().
		Str("roomID", roomID).
		Str("sessionID", sessionID).
		Msg("session opened")
	return nil
}

// DeleteSession forgets the session after it has finished. The session must
// already be cancelled through its context.
func (svc *Service) DeleteSession(ctx context.Context, roomID, sessionID string) error {
	svc.mx.Lock()
	s, ok := svc.sessions[sessionID]
	svc.mx.Unlock()
	if !ok {
		return errors.Join(ErrDisconnect, ErrNotFound)
	}

	select {
	case <-s.Done():
	case <-ctx.Done():
		return errors.Join(ErrDisconnect, ctx.Err())
	}

	svc.mx.Lock()
	delete(svc.sessions, sessionID)
	svc.mx.Unlock()

	svc.logger.Debug().
		Str("roomID", roomID).
		Str("sessionID", sessionID).
		Msg("session closed")
	return nil
}

func (svc *Service) RoomState(ctx context.Context, roomID string) (room.View, error) {
	r, err := svc.store.GetRoom(roomID)
	if err != nil {
		return room.View{}, errors.Join(ErrGet, err)
	}
	v, err := r.State(ctx)
	if err != nil {
		return room.View{}, errors.Join(ErrGet, err)
	}
	return v, nil
}

// Sessions returns the number of open sessions across all rooms.
func (svc *Service) Sessions() int {
	svc.mx.Lock()
	defer svc.mx.Unlock()
	return len(svc.sessions)
}
