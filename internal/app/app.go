// Package app wires a RunConfig into a ready-to-run control pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/teslashibe/go-armctl/internal/config"
	"github.com/teslashibe/go-armctl/internal/log"
	"github.com/teslashibe/go-armctl/pkg/angles"
	"github.com/teslashibe/go-armctl/pkg/controller"
	"github.com/teslashibe/go-armctl/pkg/input"
	"github.com/teslashibe/go-armctl/pkg/pipeline"
	"github.com/teslashibe/go-armctl/pkg/runlog"
	"github.com/teslashibe/go-armctl/pkg/telemetry"
	"github.com/teslashibe/go-armctl/pkg/transport"
)

// ErrNoVision is returned for vision mode when no camera source was supplied.
var ErrNoVision = errors.New("vision input is not available")

// VisionFactory opens the camera source for vision mode.
type VisionFactory func(cfg config.RunConfig) (input.Source, error)

// Options supplies the pieces that depend on the host.
type Options struct {
	Vision VisionFactory

	// Keys replaces the terminal as the keyboard source's input.
	Keys io.Reader
}

// App is one fully constructed run.
type App struct {
	cfg       config.RunConfig
	pipeline  *pipeline.Pipeline
	logger    *runlog.Logger
	telemetry *telemetry.Server
	log       *slog.Logger
}

// New builds the transport, input source, run log and pipeline for cfg.
// Any failure releases whatever was already opened and no tick runs.
func New(cfg config.RunConfig, opts Options) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mode, _ := cfg.RunMode()
	kind, _ := cfg.TransportKind()
	limits := cfg.Limits()

	var opened []func() error
	defer func() {
		if err == nil {
			return
		}
		for i := len(opened) - 1; i >= 0; i-- {
			opened[i]()
		}
	}()

	tr, err := buildTransport(cfg, kind, limits)
	if err != nil {
		return nil, fmt.Errorf("open transport: %w", err)
	}
	opened = append(opened, tr.Close)

	// The source is built before the logger so "latest" never selects the
	// file this run is about to create.
	src, err := buildSource(cfg, mode, limits, opts)
	if err != nil {
		return nil, fmt.Errorf("open %s input: %w", mode, err)
	}
	opened = append(opened, src.Close)

	lg, err := runlog.New(runlog.Config{
		Dir:       cfg.LogDir,
		Mode:      mode.String(),
		Transport: kind.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	opened = append(opened, lg.Close)

	pcfg := pipeline.Config{
		Mode:      mode,
		Transport: kind,
		Period:    cfg.Period(),
		Speed:     transport.NominalSpeed,
	}

	var tel *telemetry.Server
	if cfg.TelemetryAddr != "" {
		tel = telemetry.NewServer(telemetry.Config{
			Addr:      cfg.TelemetryAddr,
			Session:   lg.SessionID(),
			Mode:      mode.String(),
			Transport: kind.String(),
			LogPath:   lg.Path(),
		})
		opened = append(opened, tel.Shutdown)
		if err := tel.Start(); err != nil {
			return nil, fmt.Errorf("start telemetry: %w", err)
		}
		pcfg.Observer = tel
	}

	mcfg := controller.DefaultConfig()
	mcfg.Limits = limits

	p, err := pipeline.New(pcfg, src, controller.New(mcfg), tr, lg)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:       cfg,
		pipeline:  p,
		logger:    lg,
		telemetry: tel,
		log:       log.Component("app").With("session", lg.SessionID()),
	}, nil
}

func buildTransport(cfg config.RunConfig, kind transport.Kind, limits angles.Limits) (transport.Transport, error) {
	switch kind {
	case transport.KindSerial:
		sc := transport.DefaultSerialConfig(cfg.SerialDevice)
		sc.Port.Baud = cfg.SerialBaud
		sc.SettleDelay = cfg.SerialSettle
		sc.Limits = limits
		return transport.NewSerial(sc)
	case transport.KindSimulated:
		return transport.NewSimulated(limits), nil
	}
	return nil, fmt.Errorf("%w: %d", transport.ErrUnknownKind, int(kind))
}

func buildSource(cfg config.RunConfig, mode pipeline.Mode, limits angles.Limits, opts Options) (input.Source, error) {
	switch mode {
	case pipeline.ModeManual:
		if cfg.ManualSource == config.ManualRemote {
			return input.NewRemote(input.RemoteConfig{Addr: cfg.RemoteAddr})
		}
		kc := input.DefaultKeyboardConfig()
		kc.Limits = limits
		if opts.Keys != nil {
			return input.NewKeyboardReader(opts.Keys, kc), nil
		}
		return input.NewKeyboard(kc)

	case pipeline.ModeVision:
		if opts.Vision == nil {
			return nil, ErrNoVision
		}
		return opts.Vision(cfg)

	case pipeline.ModeReplay:
		path, err := input.ResolveReplayPath(cfg.ReplayFile, cfg.ReplayLatest, cfg.LogDir)
		if err != nil {
			return nil, err
		}
		rc := input.DefaultReplayConfig(path)
		rc.Speed = cfg.ReplaySpeed
		rc.FallbackDT = cfg.ReplayFallbackDT
		rc.Limits = limits
		return input.NewReplay(rc)
	}
	return nil, fmt.Errorf("%w: %d", pipeline.ErrUnknownMode, int(mode))
}

// LogPath returns the run log file.
func (a *App) LogPath() string {
	return a.logger.Path()
}

// SessionID returns the run session identifier.
func (a *App) SessionID() string {
	return a.logger.SessionID()
}

// Telemetry returns the telemetry server, or nil when disabled.
func (a *App) Telemetry() *telemetry.Server {
	return a.telemetry
}

// Stats returns the pipeline counters.
func (a *App) Stats() pipeline.Stats {
	return a.pipeline.Stats()
}

// Stop ends the run after the current tick.
func (a *App) Stop() {
	a.pipeline.Stop()
}

// Run executes the control loop until the input ends, Stop is called, or
// ctx is cancelled. Resources are released before it returns.
func (a *App) Run(ctx context.Context) error {
	defer func() {
		if a.telemetry != nil {
			if err := a.telemetry.Shutdown(); err != nil {
				a.log.Warn("telemetry shutdown failed", "error", err)
			}
		}
	}()

	a.log.Info("run started", "mode", a.cfg.Mode, "transport", a.cfg.Transport, "log", a.LogPath())
	err := a.pipeline.Run(ctx)

	s := a.pipeline.Stats()
	a.log.Info("run finished", "sent", s.Sent, "skipped", s.Skipped, "overruns", s.Overruns, "log_errors", s.LogErrors)
	if terr := a.pipeline.TeardownErr(); terr != nil {
		a.log.Warn("some resources did not release cleanly", "error", terr)
	}
	return err
}
