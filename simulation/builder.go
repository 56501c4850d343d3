package simulation

import (
	"fmt"

	"github.com/tebeka/atexit"
	"go.uber.org/zap"

	"github.com/sarchlab/intersim/config"
	"github.com/sarchlab/intersim/engines"
	"github.com/sarchlab/intersim/monitoring"
	"github.com/sarchlab/intersim/sim"
)

// Builder can be used to build a simulation.
type Builder struct {
	cfg         config.Config
	kind        string
	logger      *zap.Logger
	engine      sim.Engine
	hooks       []sim.Hook
	monitorOn   bool
	monitorPort int
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	cfg := config.Default()

	return Builder{
		cfg:       cfg,
		kind:      cfg.Engine,
		logger:    zap.NewNop(),
		monitorOn: false,
	}
}

// WithConfig sets the configuration of the run. The engine kind named in the
// configuration is used unless WithEngineKind overrides it later.
func (b Builder) WithConfig(cfg config.Config) Builder {
	b.cfg = cfg
	b.kind = cfg.Engine

	return b
}

// WithEngineKind selects the execution model.
func (b Builder) WithEngineKind(kind string) Builder {
	b.kind = kind
	return b
}

// WithEngine makes the simulation drive an engine that is already built.
func (b Builder) WithEngine(e sim.Engine) Builder {
	b.engine = e
	return b
}

// WithLogger sets the logger that the simulation and its engine use.
func (b Builder) WithLogger(logger *zap.Logger) Builder {
	b.logger = logger
	return b
}

// WithMonitor turns on the monitoring server. Port 0 picks a random port.
func (b Builder) WithMonitor(port int) Builder {
	b.monitorOn = true
	b.monitorPort = port

	return b
}

// WithoutMonitoring sets the simulation to not use monitoring.
func (b Builder) WithoutMonitoring() Builder {
	b.monitorOn = false
	b.monitorPort = 0

	return b
}

// WithHook registers a hook with the engine.
func (b Builder) WithHook(hook sim.Hook) Builder {
	b.hooks = append(b.hooks, hook)
	return b
}

// Build builds the simulation.
func (b Builder) Build() (*Simulation, error) {
	s := &Simulation{
		id:  sim.NewRunID(),
		cfg: b.cfg,
	}
	s.logger = b.logger.With(zap.String("run", s.id))

	engine := b.engine
	if engine == nil {
		var err error

		engine, err = engines.New(b.kind, b.cfg,
			engines.WithLogger(b.logger),
			engines.WithRunID(s.id),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to build %q engine: %w", b.kind, err)
		}
	}

	s.engine = engine

	s.metrics = monitoring.NewMetricsHook()
	s.engine.AcceptHook(s.metrics)
	s.engine.AcceptHook(sim.NewTickLogger(b.logger))

	for _, h := range b.hooks {
		s.engine.AcceptHook(h)
	}

	if b.monitorOn {
		s.monitor = monitoring.NewMonitor().
			WithLogger(b.logger).
			WithPortNumber(b.monitorPort).
			WithRegistry(s.metrics.Registry())
		s.monitor.RegisterEngine(s.engine)

		if _, err := s.monitor.StartServer(); err != nil {
			return nil, err
		}
	}

	atexit.Register(s.Terminate)

	return s, nil
}
