package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adwski/shared-canvas/backend/room"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"
)

const (
	defaultShutdownDeadline = 10 * time.Second
	defaultRequestTimeout   = 3 * time.Second

	qrSize = 320
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type RoomService interface {
	RoomState(ctx context.Context, roomID string) (room.View, error)
}

type GenericResponse struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type Server struct {
	logger    zerolog.Logger
	svc       RoomService
	publicURL string
	*http.Server
}

type Config struct {
	Logger      *zerolog.Logger
	RoomService RoomService
	ListenAddr  string
	// PublicURL is the address clients open to join. When empty it is
	// derived from the request.
	PublicURL string
}

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger:    cfg.Logger.With().Str("component", "api-server").Logger(),
		svc:       cfg.RoomService,
		publicURL: strings.TrimSuffix(cfg.PublicURL, "/"),
	}

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Router(),
	}
	return srv
}

func (srv *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors)

	r.Get("/api/healthz", healthz)
	r.Get("/api/rooms/{roomID}", srv.roomView)
	r.Get("/api/rooms/{roomID}/qr", srv.roomQR)
	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, &GenericResponse{Message: "OK"})
}

func (srv *Server) roomView(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	ctx, cancel := context.WithTimeout(r.Context(), defaultRequestTimeout)
	defer cancel()

	view, err := srv.svc.RoomState(ctx, roomID)
	if err != nil {
		srv.logger.Debug().Err(err).Str("roomID", roomID).Msg("room view unavailable")
		writeJSON(w, http.StatusNotFound, &GenericResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, &GenericResponse{Data: view})
}

func (srv *Server) roomQR(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")

	png, err := qrcode.Encode(srv.joinURL(r, roomID), qrcode.Medium, qrSize)
	if err != nil {
		srv.logger.Error().Err(err).Str("roomID", roomID).Msg("qr generation failed")
		writeJSON(w, http.StatusInternalServerError, &GenericResponse{Error: "qr generation failed"})
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	if _, err = w.Write(png); err != nil {
		srv.logger.Error().Err(err).Msg("failed to write response")
	}
}

func (srv *Server) joinURL(r *http.Request, roomID string) string {
	base := srv.publicURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + r.Host
	}
	return base + "/?room=" + roomID
}

func writeJSON(w http.ResponseWriter, code int, resp *GenericResponse) {
	b, err := json.Marshal(resp)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(code)
	_, _ = w.Write(b)
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	hErr := make(chan error)
	go func() {
		hErr <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-hErr:
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
