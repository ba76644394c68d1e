package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/adwski/shared-canvas/backend/model"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultShutdownDeadline = 10 * time.Second

	defaultSessionCloseTimeout = 3 * time.Second

	defaultWebsocketReadBufferSize     = 10000
	defaultWebsocketWriteBufferSize    = 10000
	defaultWebSocketHandshakeTimeout   = 3 * time.Second
	defaultWebSocketCloseWriteDeadline = 2 * time.Second
	defaultWebSocketWriteDeadline      = 5 * time.Second

	// defaultPongWait - defaultPingInterval == is how long we give client to respond
	defaultPingInterval = 5 * time.Second
	defaultPongWait     = 7 * time.Second

	defaultCanvasWidth  = 1280
	defaultCanvasHeight = 720
	bytesPerPixel       = 4
	controlFrameSlack   = 64 * 1024
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type (
	SessionService interface {
		CreateSession(ctx context.Context, kick context.CancelFunc, roomID, sessionID string, wire model.Wire) error
		DeleteSession(ctx context.Context, roomID, sessionID string) error
	}

	Config struct {
		Logger         *zerolog.Logger
		SessionService SessionService
		ListenAddr     string
		RoomID         string
		CanvasWidth    int
		CanvasHeight   int
	}

	Server struct {
		svc SessionService
		ws  *websocket.Upgrader
		*http.Server

		logger      zerolog.Logger
		roomID      string
		readLimit   int64
		maxSnapshot int
	}
)

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger:      cfg.Logger.With().Str("component", "websocket-server").Logger(),
		svc:         cfg.SessionService,
		roomID:      cfg.RoomID,
		readLimit:   ReadLimit(cfg.CanvasWidth, cfg.CanvasHeight),
		maxSnapshot: SnapshotLimit(cfg.CanvasWidth, cfg.CanvasHeight),
		ws: &websocket.Upgrader{
			HandshakeTimeout: defaultWebSocketHandshakeTimeout,
			ReadBufferSize:   defaultWebsocketReadBufferSize,
			WriteBufferSize:  defaultWebsocketWriteBufferSize,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}
	return srv
}

// SnapshotLimit is the largest snapshot a client may send: a raw RGBA canvas.
// Non-positive sizes fall back to defaults.
func SnapshotLimit(width, height int) int {
	if width <= 0 {
		width = defaultCanvasWidth
	}
	if height <= 0 {
		height = defaultCanvasHeight
	}
	return width * height * bytesPerPixel
}

// ReadLimit is the largest frame of any kind. Binary frames are further
// bounded by SnapshotLimit.
func ReadLimit(width, height int) int64 {
	return int64(SnapshotLimit(width, height)) + controlFrameSlack
}

func (srv *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.connect)
	return mux
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	errSrv := make(chan error)
	go func() {
		errSrv <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Str("roomID", srv.roomID).Msg("server started")

	select {
	case err := <-errSrv:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}

func (srv *Server) connect(w http.ResponseWriter, r *http.Request) {
	conn, err := srv.ws.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an error status.
		srv.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	var (
		sessionID = uuid.NewString()
		wire      = model.NewWire()
	)

	ctx, cancel := context.WithCancel(context.Background()) // long-living wire context

	err = srv.svc.CreateSession(ctx, cancel, srv.roomID, sessionID, wire)
	if err != nil {
		srv.logger.Error().Err(err).Msg("failed to create session")
		cancel()
		webSocketCloser(conn, &srv.logger)
		return
	}
	srv.logger.Debug().
		Str("roomID", srv.roomID).
		Str("sessionID", sessionID).
		Str("remote", r.RemoteAddr).
		Msg("connection accepted")

	go srv.handleWSConn(ctx, cancel, conn, sessionID, wire)
}

func (srv *Server) destroySession(sessionID string, logger *zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultSessionCloseTimeout)
	defer cancel()
	err := srv.svc.DeleteSession(ctx, srv.roomID, sessionID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to delete session")
		return
	}
	logger.Debug().Msg("connection ended")
}

func (srv *Server) handleWSConn(
	ctx context.Context,
	cancel context.CancelFunc,
	conn *websocket.Conn,
	sessionID string,
	wire model.Wire,
) {
	wg := &sync.WaitGroup{}

	logger := srv.logger.With().
		Str("roomID", srv.roomID).
		Str("sessionID", sessionID).
		Logger()

	wg.Add(2)
	go func() {
		webSocketReceiver(ctx, wg, conn, sessionID, srv.readLimit, srv.maxSnapshot, wire.RX, &logger)
		cancel()
	}()
	go func() {
		webSocketSender(ctx, wg, conn, wire.TX, &logger)
		cancel()
	}()

	// Closing unblocks the receiver which may sit in a read.
	<-ctx.Done()
	webSocketCloser(conn, &logger)
	wg.Wait()
	srv.destroySession(sessionID, &logger)
}

func webSocketSender(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	tx <-chan model.Event,
	logger *zerolog.Logger,
) {
	pingTicker := time.NewTicker(defaultPingInterval)
	defer func() {
		pingTicker.Stop()
		wg.Done()
	}()
SendLoop:
	for {
		select {
		case <-ctx.Done():
			break SendLoop
		case <-pingTicker.C:
			wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline))
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			wsErr = conn.WriteMessage(websocket.PingMessage, []byte{})
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to send ping")
			}
			logger.Trace().Msg("ping sent")

		case ev, ok := <-tx:
			if !ok {
				break SendLoop
			}
			if err := writeEvent(conn, ev); err != nil {
				logger.Error().Err(err).Str("type", ev.Type).Msg("failed to write outgoing event")
				break SendLoop
			}
			if ev.Terminal {
				logger.Debug().Any("notice", ev.Payload).Msg("terminal event sent, closing")
				break SendLoop
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev model.Event) error {
	var (
		msgType = websocket.TextMessage
		b       []byte
		err     error
	)
	if ev.Type == model.EventImage {
		msgType = websocket.BinaryMessage
		b = ev.Data
	} else if b, err = json.Marshal(&ev); err != nil {
		return err
	}

	if err = conn.SetWriteDeadline(time.Now().Add(defaultWebSocketWriteDeadline)); err != nil {
		return err
	}
	return conn.WriteMessage(msgType, b)
}

func webSocketReceiver(
	ctx context.Context,
	wg *sync.WaitGroup,
	conn *websocket.Conn,
	sessionID string,
	readLimit int64,
	maxSnapshot int,
	rx chan<- model.Event,
	logger *zerolog.Logger,
) {
	defer wg.Done()

	conn.SetReadLimit(readLimit)
	readDeadLineFunc := func(deadline time.Duration) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	}
	conn.SetPongHandler(func(string) error {
		logger.Trace().Msg("got pong")
		return readDeadLineFunc(defaultPongWait)
	})
	err := readDeadLineFunc(defaultPongWait)
	if err != nil {
		logger.Error().Err(err).Msg("failed to set websocket read deadline")
		return
	}

RecvLoop:
	for {
		select {
		case <-ctx.Done():
			break RecvLoop
		default:
			msgType, msg, wsErr := conn.ReadMessage()
			if wsErr != nil {
				if ctx.Err() != nil {
					break RecvLoop
				}
				if websocket.IsCloseError(wsErr,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway) {
					logger.Debug().Err(wsErr).Msg("connection closed")
				} else {
					logger.Error().Err(wsErr).Msg("unexpected error during receive")
				}
				break RecvLoop
			}
			// Any frame proves the peer is alive.
			if wsErr = readDeadLineFunc(defaultPongWait); wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to set websocket read deadline")
				break RecvLoop
			}

			ev, ok := decodeFrame(msgType, msg, maxSnapshot, logger)
			if !ok {
				continue
			}
			ev.SRC = sessionID
			select {
			case rx <- ev:
			case <-ctx.Done():
				break RecvLoop
			}
		}
	}
}

func decodeFrame(msgType int, msg []byte, maxSnapshot int, logger *zerolog.Logger) (model.Event, bool) {
	if msgType == websocket.BinaryMessage {
		if len(msg) > maxSnapshot {
			logger.Warn().Int("size", len(msg)).Int("limit", maxSnapshot).Msg("oversized snapshot rejected")
			return model.Event{}, false
		}
		logger.Trace().Int("size", len(msg)).Msg("got snapshot frame")
		return model.ImageEvent(msg), true
	}

	ev, err := model.ParseEvent(msg)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to unmarshall incoming message")
		return model.Event{}, false
	}
	return ev, true
}

func webSocketCloser(conn *websocket.Conn, logger *zerolog.Logger) {
	wsErr := conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(defaultWebSocketCloseWriteDeadline),
	)
	if wsErr != nil && !errors.Is(wsErr, websocket.ErrCloseSent) {
		logger.Debug().Err(wsErr).Msg("failed to send close frame")
	}
	wsErr = conn.Close()
	if wsErr != nil {
		logger.Error().Err(wsErr).Msg("failed to close websocket connection")
	}
}
