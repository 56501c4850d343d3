// Package engines provides the two execution models of the intersection.
//
// The shared-memory engine runs one goroutine per lane that mutates the lanes
// and the statistics under locks and meets the coordinator at two barriers
// per tick. The isolated engine gives every lane to a worker that is only
// reachable through a command channel and answers on a shared response
// channel. Both engines consume the same seeded arrival sequence, so they
// produce the same ticks for the same configuration.
package engines

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sarchlab/intersim/config"
	"github.com/sarchlab/intersim/sim"
)

// Engine kinds accepted by New.
const (
	KindSharedMemory = "shared"
	KindIsolated     = "isolated"
)

// ErrUnknownKind is returned by New for an unsupported engine kind.
var ErrUnknownKind = errors.New("unknown engine kind")

// Kinds lists the supported engine kinds.
var Kinds = []string{KindSharedMemory, KindIsolated}

type options struct {
	logger *zap.Logger
	now    func() time.Time
	runID  string
	ids    sim.IDGenerator
}

func defaultOptions() options {
	return options{
		logger: zap.NewNop(),
		now:    time.Now,
	}
}

// An Option customizes an engine.
type Option func(o *options)

// WithLogger sets the logger of the engine and its workers.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock replaces the wall clock used to stamp vehicles.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithRunID sets the run identifier that snapshots carry.
func WithRunID(id string) Option {
	return func(o *options) {
		o.runID = id
	}
}

// WithIDGenerator sets the generator of vehicle IDs.
func WithIDGenerator(ids sim.IDGenerator) Option {
	return func(o *options) {
		o.ids = ids
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	if o.runID == "" {
		o.runID = sim.NewRunID()
	}

	if o.ids == nil {
		o.ids = sim.NewSequentialIDGenerator()
	}

	return o
}

// New creates an engine of the given kind. The configuration is validated
// first.
func New(kind string, cfg config.Config, opts ...Option) (sim.Engine, error) {
	cfg.Engine = kind
	if err := cfg.Validate(); err != nil {
		if kind != KindSharedMemory && kind != KindIsolated {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
		}

		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	switch kind {
	case KindSharedMemory:
		return NewSharedMemoryEngine(cfg, opts...), nil
	case KindIsolated:
		return NewIsolatedEngine(cfg, opts...), nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

func notRunning(kind string) error {
	return fmt.Errorf("%s engine: %w", kind, sim.ErrEngineNotRunning)
}

func discarded(kind string) error {
	return fmt.Errorf("%s engine: %w", kind, sim.ErrEngineDiscarded)
}
