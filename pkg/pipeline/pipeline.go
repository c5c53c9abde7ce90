// Package pipeline runs the fixed-period control loop:
//
//	input → controller → transport.Send → transport.ReadFeedback → run log
//
// The pipeline owns its input source, transport, and logger for the whole
// run and releases them in a fixed order when the loop ends.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/teslashibe/go-armctl/internal/log"
	"github.com/teslashibe/go-armctl/pkg/angles"
	"github.com/teslashibe/go-armctl/pkg/controller"
	"github.com/teslashibe/go-armctl/pkg/input"
	"github.com/teslashibe/go-armctl/pkg/runlog"
	"github.com/teslashibe/go-armctl/pkg/transport"
)

// DefaultHz is the default control frequency.
const DefaultHz = 50

// heartbeatTicks is how often the loop logs its counters.
const heartbeatTicks = 250

// PeriodFromHz converts a control frequency to a tick period.
func PeriodFromHz(hz float64) time.Duration {
	if math.IsNaN(hz) || hz <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / hz)
}

// Logger is the durable sink for tick records. *runlog.Logger implements it.
type Logger interface {
	Write(target angles.Triple, actual *angles.Triple) (runlog.Record, error)
	Close() error
}

// Observer is notified after every logged tick. It runs on the loop
// goroutine and must not block.
type Observer interface {
	OnTick(rec runlog.Record, stats Stats)
}

// Config holds the fixed parameters of a run.
type Config struct {
	Mode      Mode
	Transport transport.Kind
	Period    time.Duration // Tick period; 20ms at 50Hz
	Speed     int           // Speed field sent with every target
	Observer  Observer      // Optional
}

// DefaultConfig returns a manual, simulated run at 50Hz.
func DefaultConfig() Config {
	return Config{
		Mode:      ModeManual,
		Transport: transport.KindSimulated,
		Period:    PeriodFromHz(DefaultHz),
		Speed:     transport.NominalSpeed,
	}
}

// Stats are the loop counters.
type Stats struct {
	Iterations   uint64        `json:"iterations"`    // Loop iterations started
	Sent         uint64        `json:"sent"`          // Ticks that sent a target
	Skipped      uint64        `json:"skipped"`       // Ticks with no input frame
	Overruns     uint64        `json:"overruns"`      // Ticks that took at least one period
	Feedback     uint64        `json:"feedback"`      // Ticks with observed feedback
	LogErrors    uint64        `json:"log_errors"`    // Rows that failed to write
	SourceErrors uint64        `json:"source_errors"` // Transient input errors
	LastTarget   angles.Triple `json:"last_target"`
}

// Pipeline is the control loop. Create it with New, then call Run once.
type Pipeline struct {
	cfg       Config
	source    input.Source
	transport transport.Transport
	logger    Logger
	mapTarget mapFunc
	log       *slog.Logger

	mu      sync.RWMutex
	stats   Stats
	running bool

	logErr    log.Limiter
	sourceErr log.Limiter

	stop         chan struct{}
	stopOnce     sync.Once
	teardownOnce sync.Once
	teardownErr  error
}

// New validates the configuration and binds the controller mapping for the
// mode. Any error here means the run must not start.
func New(cfg Config, source input.Source, mapper *controller.JointMapper, tr transport.Transport, logger Logger) (*Pipeline, error) {
	if source == nil || mapper == nil || tr == nil || logger == nil {
		return nil, errors.New("pipeline needs a source, mapper, transport and logger")
	}
	if cfg.Period <= 0 {
		return nil, fmt.Errorf("tick period must be positive, got %v", cfg.Period)
	}

	fn, err := bindMapping(cfg.Mode, mapper)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:       cfg,
		source:    source,
		transport: tr,
		logger:    logger,
		mapTarget: fn,
		log:       log.Component("pipeline").With("mode", cfg.Mode.String(), "transport", cfg.Transport.String()),
		stop:      make(chan struct{}),
	}, nil
}

// Stats returns a snapshot of the loop counters.
func (p *Pipeline) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.stats
}

// Running reports whether Run is executing.
func (p *Pipeline) Running() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Stop asks the loop to exit after the current tick.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
	})
}

func (p *Pipeline) stopped(ctx context.Context) bool {
	select {
	case <-p.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// Run executes ticks every period until the source is exhausted, Stop is
// called, or ctx is cancelled. Teardown always runs before Run returns. The
// returned error is non-nil only for a wiring fault detected mid-run.
func (p *Pipeline) Run(ctx context.Context) error {
	defer p.Close()

	p.mu.Lock()
	p.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	p.log.Info("control loop started", "period", p.cfg.Period)

	timer := time.NewTimer(p.cfg.Period)
	timer.Stop()
	defer timer.Stop()

	for !p.stopped(ctx) {
		start := time.Now()

		_, err := p.Step(ctx)
		switch {
		case errors.Is(err, io.EOF):
			p.log.Info("input exhausted", "sent", p.Stats().Sent)
			return nil
		case ctx.Err() != nil:
			return nil
		case err != nil:
			p.log.Error("control loop aborted", "error", err)
			return err
		}

		remaining := p.cfg.Period - time.Since(start)
		if remaining <= 0 {
			// Behind schedule: start the next tick immediately, no debt carried
			p.mu.Lock()
			p.stats.Overruns++
			p.mu.Unlock()
			continue
		}

		timer.Reset(remaining)
		select {
		case <-timer.C:
		case <-p.stop:
			return nil
		case <-ctx.Done():
			return nil
		}
	}

	return nil
}

// Step runs one tick. It reports whether a target was sent. An empty input
// frame is a no-op. io.EOF means the source is exhausted.
func (p *Pipeline) Step(ctx context.Context) (bool, error) {
	p.mu.Lock()
	p.stats.Iterations++
	iter := p.stats.Iterations
	p.mu.Unlock()

	if iter%heartbeatTicks == 0 {
		s := p.Stats()
		p.log.Debug("heartbeat", "iterations", s.Iterations, "sent", s.Sent, "skipped", s.Skipped, "overruns", s.Overruns, "log_errors", s.LogErrors)
	}

	payload, err := p.source.Next(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return false, err
		}
		p.mu.Lock()
		p.stats.SourceErrors++
		p.mu.Unlock()
		if ok, n := p.sourceErr.Allow(time.Now()); ok {
			p.log.Warn("input source error", "error", err, "total_errors", n)
		}
		return false, nil
	}
	if payload == nil {
		// Freeze frame: the last commanded pose stands
		p.mu.Lock()
		p.stats.Skipped++
		p.mu.Unlock()
		return false, nil
	}

	target, err := p.mapTarget(payload)
	if err != nil {
		return false, err
	}

	p.transport.Send(target, p.cfg.Speed)

	var actual *angles.Triple
	if fb, ok := p.transport.ReadFeedback(); ok {
		actual = &fb
	}

	rec, werr := p.logger.Write(target, actual)

	p.mu.Lock()
	p.stats.Sent++
	p.stats.LastTarget = target
	if actual != nil {
		p.stats.Feedback++
	}
	if werr != nil {
		p.stats.LogErrors++
	}
	stats := p.stats
	p.mu.Unlock()

	if werr != nil {
		if ok, n := p.logErr.Allow(time.Now()); ok {
			p.log.Warn("run log write failed", "error", werr, "total_errors", n)
		}
		return true, nil
	}

	if p.cfg.Observer != nil {
		p.cfg.Observer.OnTick(rec, stats)
	}
	return true, nil
}

// Close releases the logger, then the transport, then the input source.
// Each release is attempted even if an earlier one fails or panics. It runs
// once; Run calls it on exit.
func (p *Pipeline) Close() error {
	p.teardownOnce.Do(func() {
		var errs []error
		for _, step := range []struct {
			name  string
			close func() error
		}{
			{"logger", p.logger.Close},
			{"transport", p.transport.Close},
			{"input", p.source.Close},
		} {
			if err := closeIsolated(step.close); err != nil {
				p.log.Warn("release failed", "resource", step.name, "error", err)
				errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
			}
		}
		p.teardownErr = errors.Join(errs...)
		p.log.Info("control loop stopped", "stats", p.Stats())
	})
	return nil
}

// TeardownErr returns the release failures recorded by Close.
func (p *Pipeline) TeardownErr() error {
	return p.teardownErr
}

// closeIsolated calls fn, turning a panic into an error.
func closeIsolated(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
