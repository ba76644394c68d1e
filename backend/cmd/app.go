package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	httpServer "github.com/adwski/shared-canvas/backend/server/http"
	websocketServer "github.com/adwski/shared-canvas/backend/server/websocket"
	"github.com/adwski/shared-canvas/backend/service"
	store "github.com/adwski/shared-canvas/backend/storage/memory"
	sw "github.com/adwski/shared-canvas/backend/switch"
	"github.com/adwski/shared-canvas/backend/wordgame"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := &Config{}
	cobra.CheckErr(newCmd(cfg).ExecuteContext(ctx))
}

func newLogger(cfg *Config) (zerolog.Logger, error) {
	var out io.Writer = os.Stdout
	if cfg.logPretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	logger := zerolog.New(out).With().Timestamp().Logger()

	lvl, err := zerolog.ParseLevel(cfg.logLevel)
	if err != nil {
		return logger, err
	}
	return logger.Level(lvl), nil
}

func run(ctx context.Context, cfg *Config) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	catalog, err := wordgame.LoadCatalog(afero.NewOsFs(), cfg.wordsDir)
	if err != nil {
		if !errors.Is(err, wordgame.ErrNoCatalog) {
			return err
		}
		logger.Warn().Err(err).Str("dir", cfg.wordsDir).Msg("word game disabled")
	} else {
		logger.Info().Strs("topics", catalog.Topics()).Msg("word catalog loaded")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rooms := store.NewMemStore(ctx, store.Config{
		Logger:  &logger,
		Relay:   sw.NewSwitch(&logger),
		Catalog: catalog,
	})
	svc := service.NewService(service.Config{
		RoomStore:   rooms,
		Logger:      &logger,
		EventRate:   cfg.eventRate,
		EventBurst:  cfg.eventBurst,
		AuthTimeout: cfg.authTimeout,
	})
	// the websocket endpoint serves one room, make it visible to the api right away
	if _, err = rooms.Room(cfg.room); err != nil {
		return err
	}

	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:      &logger,
		RoomService: svc,
		ListenAddr:  cfg.apiListenAddr,
		PublicURL:   cfg.publicURL,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:         &logger,
		SessionService: svc,
		ListenAddr:     cfg.wsListenAddr,
		RoomID:         cfg.room,
		CanvasWidth:    cfg.canvasWidth,
		CanvasHeight:   cfg.canvasHeight,
	})

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(2)
	go httpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
	rooms.Wait()
	return err
}
