// Package simulation drives an engine through a full run.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sarchlab/intersim/config"
	"github.com/sarchlab/intersim/monitoring"
	"github.com/sarchlab/intersim/sim"
)

// Report summarizes a run.
type Report struct {
	Ticks          uint64
	Cycles         uint64
	Elapsed        time.Duration
	TicksPerSecond float64
	Final          *sim.TrafficSnapshot
}

// A Simulation owns an engine and the services around it.
type Simulation struct {
	id     string
	cfg    config.Config
	logger *zap.Logger

	engine  sim.Engine
	monitor *monitoring.Monitor
	metrics *monitoring.MetricsHook

	terminateOnce sync.Once
}

// ID returns the run ID.
func (s *Simulation) ID() string {
	return s.id
}

// Config returns the configuration of the run.
func (s *Simulation) Config() config.Config {
	return s.cfg
}

// GetEngine returns the engine used in the simulation.
func (s *Simulation) GetEngine() sim.Engine {
	return s.engine
}

// GetMonitor returns the monitor used in the simulation, or nil if
// monitoring is off.
func (s *Simulation) GetMonitor() *monitoring.Monitor {
	return s.monitor
}

// GetMetrics returns the metrics hook registered with the engine.
func (s *Simulation) GetMetrics() *monitoring.MetricsHook {
	return s.metrics
}

// targetTicks estimates how many ticks the run takes.
func (s *Simulation) targetTicks() uint64 {
	if s.cfg.MinCycles > 0 {
		return uint64(s.cfg.MinCycles * s.cfg.CycleLength())
	}

	return uint64(s.cfg.TotalTicks)
}

func (s *Simulation) isDone(snapshot *sim.TrafficSnapshot) bool {
	if s.cfg.MinCycles > 0 {
		return snapshot.Cycle >= uint64(s.cfg.MinCycles)
	}

	return snapshot.Tick >= uint64(s.cfg.TotalTicks)
}

func (s *Simulation) limiter() *rate.Limiter {
	if s.cfg.TickInterval <= 0 {
		return nil
	}

	return rate.NewLimiter(rate.Every(s.cfg.TickInterval), 1)
}

// Run starts the engine and steps it until the configured number of cycles
// (or ticks) is reached or ctx ends. onSnapshot, if not nil, sees every
// snapshot. The engine keeps running after Run returns; call Terminate to
// release it.
func (s *Simulation) Run(
	ctx context.Context,
	onSnapshot func(*sim.TrafficSnapshot),
) (Report, error) {
	report := Report{}

	if err := s.engine.Start(); err != nil {
		return report, err
	}

	var bar *monitoring.ProgressBar
	if s.monitor != nil {
		bar = s.monitor.CreateProgressBar(
			fmt.Sprintf("%s ticks", s.engine.Kind()), s.targetTicks())
		defer s.monitor.CompleteProgressBar(bar)
	}

	limiter := s.limiter()
	start := time.Now()

	s.logger.Info("simulation started",
		zap.String("engine", s.engine.Kind()),
		zap.Int("min_cycles", s.cfg.MinCycles),
		zap.Duration("tick_interval", s.cfg.TickInterval),
	)

	var err error
	for {
		err = s.waitNextTick(ctx, limiter)
		if err != nil {
			break
		}

		var snapshot *sim.TrafficSnapshot

		snapshot, err = s.engine.Step()
		if err != nil {
			break
		}

		report.Final = snapshot

		if s.monitor != nil {
			s.monitor.Publish(snapshot)
			bar.IncrementFinished(1)
		}

		if onSnapshot != nil {
			onSnapshot(snapshot)
		}

		if s.isDone(snapshot) {
			break
		}
	}

	report.Elapsed = time.Since(start)
	if report.Final != nil {
		report.Ticks = report.Final.Tick
		report.Cycles = report.Final.Cycle
	}

	if secs := report.Elapsed.Seconds(); secs > 0 {
		report.TicksPerSecond = float64(report.Ticks) / secs
	}

	fields := []zap.Field{
		zap.Uint64("ticks", report.Ticks),
		zap.Uint64("cycles", report.Cycles),
		zap.Duration("elapsed", report.Elapsed),
	}

	switch {
	case err == nil:
		s.logger.Info("simulation finished", fields...)
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		s.logger.Info("simulation interrupted", fields...)
	default:
		s.logger.Error("simulation failed", append(fields, zap.Error(err))...)
	}

	return report, err
}

func (s *Simulation) waitNextTick(
	ctx context.Context,
	limiter *rate.Limiter,
) error {
	if s.monitor != nil {
		if err := s.monitor.WaitIfPaused(ctx); err != nil {
			return err
		}
	}

	if limiter != nil {
		return limiter.Wait(ctx)
	}

	return ctx.Err()
}

// Terminate stops the engine and the monitoring server. It can be called
// more than once.
func (s *Simulation) Terminate() {
	s.terminateOnce.Do(func() {
		s.engine.Stop()

		if s.monitor != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			if err := s.monitor.Shutdown(ctx); err != nil {
				s.logger.Warn("failed to shut down monitor", zap.Error(err))
			}
		}

		_ = s.logger.Sync()
	})
}
