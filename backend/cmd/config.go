package main

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "CANVAS"

type Config struct {
	apiListenAddr string
	wsListenAddr  string
	logLevel      string
	logPretty     bool
	room          string
	wordsDir      string
	publicURL     string
	canvasWidth   int
	canvasHeight  int
	authTimeout   time.Duration
	eventRate     float64
	eventBurst    int
}

func (c *Config) validate() error {
	var errs []error
	if c.room == "" {
		errs = append(errs, errors.New("--room must not be empty"))
	}
	if c.canvasWidth <= 0 || c.canvasHeight <= 0 {
		errs = append(errs, fmt.Errorf("invalid canvas size %dx%d", c.canvasWidth, c.canvasHeight))
	}
	if c.authTimeout <= 0 {
		errs = append(errs, fmt.Errorf("invalid auth timeout: %s", c.authTimeout))
	}
	if c.eventRate <= 0 || c.eventBurst <= 0 {
		errs = append(errs, errors.New("--event-rate and --event-burst must be positive"))
	}
	for _, addr := range []string{c.apiListenAddr, c.wsListenAddr} {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errs = append(errs, fmt.Errorf("invalid listen address %q: %w", addr, err))
		}
	}
	return errors.Join(errs...)
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "canvas",
		Short: "Shared canvas server: one drawer at a time, everyone watches and guesses.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.apiListenAddr, "api-listen-addr", "a", ":8080", "api listen address (env: CANVAS_API_LISTEN_ADDR)")
	fs.StringVarP(&cfg.wsListenAddr, "ws-listen-addr", "w", ":6075", "websocket listen address (env: CANVAS_WS_LISTEN_ADDR)")
	fs.StringVarP(&cfg.logLevel, "log-level", "l", "debug", "log level (env: CANVAS_LOG_LEVEL)")
	fs.BoolVar(&cfg.logPretty, "log-pretty", false, "human readable console logs (env: CANVAS_LOG_PRETTY)")
	fs.StringVarP(&cfg.room, "room", "r", "room", "room served by the websocket endpoint (env: CANVAS_ROOM)")
	fs.StringVar(&cfg.wordsDir, "words-dir", "words", "directory with <topic>.txt word lists (env: CANVAS_WORDS_DIR)")
	fs.StringVar(&cfg.publicURL, "public-url", "", "public join url encoded in room QR codes (env: CANVAS_PUBLIC_URL)")
	fs.IntVar(&cfg.canvasWidth, "canvas-width", 1280, "canvas width in pixels (env: CANVAS_CANVAS_WIDTH)")
	fs.IntVar(&cfg.canvasHeight, "canvas-height", 720, "canvas height in pixels (env: CANVAS_CANVAS_HEIGHT)")
	fs.DurationVar(&cfg.authTimeout, "auth-timeout", 3*time.Second, "time a connection has to authorize (env: CANVAS_AUTH_TIMEOUT)")
	fs.Float64Var(&cfg.eventRate, "event-rate", 5, "control events per second allowed per session (env: CANVAS_EVENT_RATE)")
	fs.IntVar(&cfg.eventBurst, "event-burst", 10, "control event burst per session (env: CANVAS_EVENT_BURST)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
