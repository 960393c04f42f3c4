package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"gse/internal/api"
	"gse/internal/cognitive"
	"gse/internal/config"
	"gse/internal/health"
	"gse/internal/ime"
	"gse/internal/journal"
	"gse/internal/keystroke"
	"gse/internal/logging"
	"gse/internal/metrics"
	"gse/internal/pipeline"
)

const (
	staleCheckInterval = time.Second
	shutdownTimeout    = 5 * time.Second
)

// daemon wires the estimator to its event source and surfaces.
type daemon struct {
	cfg    *config.Config
	logger *logging.Logger
	crash  *logging.CrashHandler

	registry *metrics.Registry
	metrics  *metrics.EngineMetrics
	engine   *cognitive.Engine
	pipeline *pipeline.Pipeline
	gate     *ime.Gate
	detector ime.Detector
	journal  *journal.Journal
	health   *health.Checker
	api      *api.Server
}

func newDaemon(cfg *config.Config, logger *logging.Logger, crash *logging.CrashHandler) (*daemon, error) {
	d := &daemon{
		cfg:      cfg,
		logger:   logger,
		crash:    crash,
		registry: metrics.NewRegistry("gse"),
		health:   health.NewChecker(),
	}
	d.metrics = metrics.NewEngineMetrics(d.registry)

	model := cognitive.DefaultModel()
	engineLog := logger.WithComponent("engine")
	engine, err := cognitive.NewWithModel(model, cognitive.Hooks{
		OnRecover: func(section string, v any) {
			d.metrics.Recoveries.Inc()
			engineLog.RecoveredPanic(section, v)
		},
		OnForceFlow: func() {
			d.metrics.ObserveForceFlow(model.FlowReset)
		},
	})
	if err != nil {
		return nil, err
	}
	d.engine = engine
	d.pipeline = pipeline.New(engine, cfg.FeaturesConfig())
	d.health.Register(&health.Component{
		Name:     "engine",
		Critical: true,
		Check:    health.EngineCheck(engine.Snapshot),
	})

	d.gate = ime.NewGate(engine, cfg.StaleTimeout(), logger)
	d.gate.OnChange(func(active bool) {
		d.metrics.Composing.SetBool(active)
	})
	if cfg.IME.Enabled {
		det, err := ime.NewDetector(cfg.IME.Address, logger)
		switch {
		case err == nil:
			d.detector = det
		case errors.Is(err, ime.ErrUnavailable):
			logger.Warn("composition detection unavailable; analysis will not pause for input methods", "error", err)
		default:
			return nil, err
		}
	}

	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			// Analysis does not depend on the journal.
			logger.Warn("transition journal disabled", "path", cfg.Journal.Path, "error", err)
		} else {
			d.journal = j
			d.health.Register(&health.Component{
				Name:  "journal",
				Check: health.PingCheck(j.Ping),
			})
		}
	}

	if cfg.HTTP.Enabled {
		d.api = api.New(api.Options{
			Listen:    cfg.HTTP.Listen,
			Engine:    engine,
			Composing: d.gate.Active,
			Session:   d.session,
			Metrics:   d.registry,
			Health:    d.health,
			Logger:    logger,
		})
	}
	return d, nil
}

func (d *daemon) session() string {
	if d.journal == nil {
		return ""
	}
	if id := d.journal.Session(); id != uuid.Nil {
		return id.String()
	}
	return ""
}

// run blocks until ctx is cancelled, then shuts everything down.
func (d *daemon) run(ctx context.Context) error {
	if d.journal != nil {
		id, err := d.journal.StartSession(ctx, d.cfg.Input.Source)
		if err != nil {
			d.logger.Warn("start journal session", "error", err)
		} else {
			d.logger.Info("journal session started", "session", id.String())
		}
	}

	if d.api != nil {
		if err := d.api.Start(); err != nil {
			d.closeResources()
			return err
		}
	}

	var wg sync.WaitGroup
	if d.detector != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer d.crash.RecoverGoroutine("ime")
			d.gate.Run(ctx, d.detector.Signals(), staleCheckInterval)
		}()
	}

	src, err := keystroke.OpenSource(d.cfg.Input.Source)
	if err != nil {
		d.shutdown()
		wg.Wait()
		return err
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer d.crash.RecoverGoroutine("pump")
		d.pump(ctx, src)
	}()

	d.health.SetReady(true)
	<-ctx.Done()
	d.health.SetReady(false)

	d.logger.Info("shutting down")
	src.Close()
	if !waitTimeout(&wg, shutdownTimeout) {
		// A pump blocked reading stdin cannot be interrupted.
		d.logger.Warn("event pump did not stop; continuing shutdown")
	}
	d.shutdown()
	return nil
}

func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// pump feeds the event source through the pipeline until it ends or ctx is
// cancelled. The daemon keeps serving after the source ends.
func (d *daemon) pump(ctx context.Context, src *keystroke.Source) {
	source := d.cfg.Input.Source
	err := d.pipeline.Run(ctx, src, d.cfg.Input.Pace, func(step pipeline.Step) {
		d.onStep(ctx, step)
	})
	switch {
	case err == nil:
		d.logger.Info("event source exhausted", "source", source, "updates", d.engine.Stats().Updates)
	case errors.Is(err, context.Canceled):
	default:
		d.logger.Error("event source failed", "source", source, "error", err)
	}
}

func (d *daemon) onStep(ctx context.Context, step pipeline.Step) {
	res := step.Result
	d.metrics.ObserveUpdate(res, step.Elapsed)

	d.logger.Debug("keystroke",
		"vk", step.Event.Code,
		"skipped", res.Skipped.String(),
		"flight_ms", step.FlightMs,
		"smoothed", res.Smoothed,
		"obs", int(res.Observation),
		"state", res.Posterior.ArgMax().String(),
	)

	if !res.Transitioned() {
		return
	}
	d.logger.Info("state transition",
		"from", res.Prior.ArgMax().String(),
		"to", res.Posterior.ArgMax().String(),
		"belief", res.Posterior.String(),
		"rule", step.Rule.String(),
	)
	if d.journal == nil {
		return
	}
	if _, err := d.journal.Record(ctx, journal.FromResult(res, step.Rule, time.Now())); err != nil && ctx.Err() == nil {
		d.metrics.JournalErrs.Inc()
		d.logger.Warn("journal transition", "error", err)
	}
}

// reconfigure applies the hot-reloadable settings.
func (d *daemon) reconfigure(old, new *config.Config) {
	if old.Logging.Level != new.Logging.Level {
		if level, err := logging.ParseLevel(new.Logging.Level); err == nil {
			d.logger.SetLevel(level)
			d.logger.Info("log level changed", "level", logging.LevelString(level))
		}
	}
	if old.IME.StaleTimeoutMs != new.IME.StaleTimeoutMs {
		d.gate.SetStaleTimeout(new.StaleTimeout())
		d.logger.Info("composition stale timeout changed", "timeout", new.StaleTimeout())
	}
	if restartRequired(old, new) {
		d.logger.Warn("configuration changed; restart gsed to apply settings other than log level and stale timeout")
	}
}

func restartRequired(old, new *config.Config) bool {
	return old.Input != new.Input ||
		old.IME.Enabled != new.IME.Enabled || old.IME.Address != new.IME.Address ||
		old.Journal != new.Journal ||
		old.HTTP != new.HTTP ||
		old.Daemon != new.Daemon
}

func (d *daemon) shutdown() {
	if d.api != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := d.api.Shutdown(ctx); err != nil {
			d.logger.Warn("http shutdown", "error", err)
		}
		cancel()
	}
	d.closeResources()
}

func (d *daemon) closeResources() {
	if d.detector != nil {
		if err := d.detector.Close(); err != nil {
			d.logger.Debug("close composition detector", "error", err)
		}
	}
	if d.journal != nil {
		if err := d.journal.Close(); err != nil {
			d.logger.Warn("close journal", "error", fmt.Errorf("journal: %w", err))
		}
	}
}
