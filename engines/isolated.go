package engines

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/intersim/config"
	"github.com/sarchlab/intersim/sim"
)

const (
	inboundBufferSize  = 64
	outboundBufferSize = 256
)

type commandBuilder func(lane sim.LaneID, seq uint64) Command

// An IsolatedEngine gives every lane to a worker goroutine. The coordinator
// holds no lane; it sends commands on the worker's inbound channel and reads
// the answers from a channel shared by all workers. Every wait for an answer
// is bounded.
type IsolatedEngine struct {
	*sim.HookableBase

	cfg    config.Config
	opts   options
	logger *zap.Logger

	// stepLock serializes Start, Step, State and Stop. Everything below is
	// only touched by the goroutine that holds it.
	stepLock sync.Mutex
	core     *tickCore
	seq      uint64

	inbound   map[sim.LaneID]chan Command
	outbound  chan Response
	collector *collector

	running atomic.Bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// NewIsolatedEngine creates an IsolatedEngine. The configuration is expected
// to be valid.
func NewIsolatedEngine(cfg config.Config, opts ...Option) *IsolatedEngine {
	o := buildOptions(opts)

	e := &IsolatedEngine{
		HookableBase: sim.NewHookableBase(),
		cfg:          cfg,
		opts:         o,
		logger: o.logger.Named("engine").
			With(zap.String("engine", KindIsolated)),
		core:     newTickCore(KindIsolated, cfg, o),
		inbound:  make(map[sim.LaneID]chan Command, len(sim.AllLanes)),
		outbound: make(chan Response, outboundBufferSize),
	}

	e.collector = &collector{
		responses:   e.outbound,
		logger:      e.logger,
		onUnclaimed: e.handleUnclaimed,
	}

	return e
}

// Kind returns "isolated".
func (e *IsolatedEngine) Kind() string {
	return KindIsolated
}

// IsRunning tells whether the lane workers are alive.
func (e *IsolatedEngine) IsRunning() bool {
	return e.running.Load()
}

// Start creates the lanes and their workers.
func (e *IsolatedEngine) Start() error {
	e.stepLock.Lock()
	defer e.stepLock.Unlock()

	if e.stopped {
		return discarded(e.Kind())
	}

	if e.running.Load() {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.group, e.ctx = errgroup.WithContext(ctx)

	for _, id := range sim.AllLanes {
		inbound := make(chan Command, inboundBufferSize)
		e.inbound[id] = inbound

		w := &laneWorker{
			lane: sim.NewLane(id, e.cfg.CapacityPerTick).
				WithClock(e.opts.now),
			inbound:  inbound,
			outbound: e.outbound,
			poll:     e.cfg.Timeouts.WorkerPoll,
			logger:   e.logger.With(zap.String("lane", string(id))),
			domain:   e,
			invoke:   e.InvokeHook,
			now:      e.opts.now,
		}

		workerCtx := e.ctx
		e.group.Go(func() error {
			return w.run(workerCtx)
		})
	}

	e.running.Store(true)

	e.logger.Info("engine started",
		zap.Int("lanes", len(e.inbound)),
		zap.Duration("response_timeout", e.cfg.Timeouts.Response),
	)

	return nil
}

// Step runs one tick: colors, arrivals, dispatch and read-back, each as one
// request round.
func (e *IsolatedEngine) Step() (*sim.TrafficSnapshot, error) {
	e.stepLock.Lock()
	defer e.stepLock.Unlock()

	if !e.running.Load() {
		return nil, notRunning(e.Kind())
	}

	tick, colors := e.core.beginTick()

	e.InvokeHook(sim.HookCtx{
		Domain: e,
		Pos:    sim.HookPosTickStart,
		Item:   tick,
	})

	e.tickRound(sim.AllLanes, func(lane sim.LaneID, seq uint64) Command {
		return NewSetColorCommand(lane, seq, colors[lane])
	})

	e.arrive(e.core.arrivals())

	dispatched := e.tickRound(sim.AllLanes, NewTickCommand)
	for _, lane := range sim.AllLanes {
		rsp, found := dispatched[lane]
		if !found {
			continue
		}

		e.core.recordDispatch(lane, rsp.Dispatch.VehicleIDs)
		e.core.stats.RecordWaits(lane, rsp.Dispatch.WaitSeconds)
	}

	states := e.tickRound(sim.AllLanes, NewGetStateCommand)
	e.observe(states)

	e.core.closeTick()

	return e.finishTick(tick), nil
}

func (e *IsolatedEngine) arrive(arrivals []arrival) {
	if len(arrivals) == 0 {
		return
	}

	vehicles := make(map[sim.LaneID]*sim.Vehicle, len(arrivals))
	lanes := make([]sim.LaneID, 0, len(arrivals))
	for _, a := range arrivals {
		vehicles[a.lane] = a.vehicle
		lanes = append(lanes, a.lane)
	}

	e.tickRound(lanes, func(lane sim.LaneID, seq uint64) Command {
		return NewEnqueueCommand(lane, seq, vehicles[lane])
	})
}

func (e *IsolatedEngine) observe(states map[sim.LaneID]Response) {
	for _, lane := range sim.AllLanes {
		if rsp, found := states[lane]; found {
			e.core.observe(*rsp.State)
		}
	}
}

func (e *IsolatedEngine) finishTick(tick uint64) *sim.TrafficSnapshot {
	snapshot := e.core.snapshot()

	for _, f := range e.core.degraded() {
		e.logger.Warn("lane produced no result",
			zap.Uint64("tick", tick),
			zap.String("lane", string(f.lane)),
			zap.String("reason", f.reason),
		)

		e.InvokeHook(sim.HookCtx{
			Domain: e,
			Pos:    sim.HookPosLaneDegraded,
			Item:   f.lane,
			Detail: f.reason,
		})
	}

	e.InvokeHook(sim.HookCtx{
		Domain: e,
		Pos:    sim.HookPosTickEnd,
		Item:   snapshot,
	})

	return snapshot
}

// tickRound runs a round as part of the current tick. Lanes that already
// failed in this tick still receive the command, so their inbound order stays
// intact, but the coordinator does not wait for them again.
func (e *IsolatedEngine) tickRound(
	lanes []sim.LaneID,
	build commandBuilder,
) map[sim.LaneID]Response {
	healthy := func(lane sim.LaneID) bool {
		return !e.core.hasFailed(lane)
	}

	got, failed := e.round(lanes, build, healthy)

	for _, lane := range sim.AllLanes {
		if reason, found := failed[lane]; found {
			e.core.fail(lane, reason)
		}
	}

	return got
}

// round sends one command per lane under a fresh sequence number and collects
// the answers of the lanes selected by expect. All commands of a round have
// the same type, which decides the response type to wait for.
func (e *IsolatedEngine) round(
	lanes []sim.LaneID,
	build commandBuilder,
	expect func(lane sim.LaneID) bool,
) (map[sim.LaneID]Response, map[sim.LaneID]string) {
	e.seq++
	seq := e.seq

	failed := make(map[sim.LaneID]string)
	waitOn := make([]sim.LaneID, 0, len(lanes))

	var want ResponseType
	for _, lane := range lanes {
		cmd := build(lane, seq)
		want, _ = cmd.ExpectedResponse()

		if err := e.send(cmd); err != nil {
			e.logger.Error("command not delivered",
				zap.String("lane", string(lane)),
				zap.String("command", string(cmd.Type)),
				zap.Error(err),
			)

			failed[lane] = err.Error()
			continue
		}

		if expect(lane) {
			waitOn = append(waitOn, lane)
		}
	}

	got, missing := e.collector.collect(
		e.ctx, seq, want, waitOn, e.cfg.Timeouts.Response)
	for lane, reason := range missing {
		failed[lane] = reason
	}

	return got, failed
}

func (e *IsolatedEngine) send(cmd Command) error {
	inbound := e.inbound[cmd.Lane]

	select {
	case inbound <- cmd:
		return nil
	default:
	}

	timer := time.NewTimer(e.cfg.Timeouts.Response)
	defer timer.Stop()

	select {
	case inbound <- cmd:
		return nil
	case <-timer.C:
		return fmt.Errorf("lane %s did not accept %s in time", cmd.Lane, cmd.Type)
	}
}

// handleUnclaimed keeps the statistics complete when a lane answers a TICK
// that nobody waits for any more, either because the round timed out or
// because the lane had already failed in this tick. The vehicles did cross.
func (e *IsolatedEngine) handleUnclaimed(rsp Response) {
	if rsp.Type != RespDispatchResult || len(rsp.Dispatch.VehicleIDs) == 0 {
		return
	}

	e.core.stats.RecordWaits(rsp.Lane, rsp.Dispatch.WaitSeconds)

	e.logger.Info("late dispatch result counted",
		zap.String("lane", string(rsp.Lane)),
		zap.Uint64("seq", rsp.Seq),
		zap.Int("vehicles", len(rsp.Dispatch.VehicleIDs)),
	)
}

// State queries every lane and returns the snapshot of the current tick.
// Lanes that do not answer keep their last known state.
func (e *IsolatedEngine) State() (*sim.TrafficSnapshot, error) {
	e.stepLock.Lock()
	defer e.stepLock.Unlock()

	if !e.running.Load() {
		return nil, notRunning(e.Kind())
	}

	everyLane := func(sim.LaneID) bool { return true }
	states, failed := e.round(sim.AllLanes, NewGetStateCommand, everyLane)

	for lane, reason := range failed {
		e.logger.Warn("lane state unavailable",
			zap.String("lane", string(lane)),
			zap.String("reason", reason),
		)
	}

	e.observe(states)

	return e.core.snapshot(), nil
}

// Stop asks every worker to exit and waits for them up to the stop grace
// period. Workers still busy after that are cancelled.
func (e *IsolatedEngine) Stop() {
	e.stepLock.Lock()
	defer e.stepLock.Unlock()

	if !e.running.Load() {
		return
	}

	e.running.Store(false)
	e.stopped = true

	e.seq++
	for _, lane := range sim.AllLanes {
		select {
		case e.inbound[lane] <- NewStopCommand(lane, e.seq):
		default:
			e.logger.Warn("inbound channel full, worker will be cancelled",
				zap.String("lane", string(lane)))
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- e.group.Wait()
	}()

	e.awaitWorkers(done)
	e.cancel()
}

func (e *IsolatedEngine) awaitWorkers(done <-chan error) {
	timer := time.NewTimer(e.cfg.Timeouts.StopGrace)
	defer timer.Stop()

	for {
		select {
		case err := <-done:
			if err != nil {
				e.logger.Warn("lane worker failed", zap.Error(err))
			}

			e.logger.Info("engine stopped")

			return
		case <-e.outbound:
			// Workers blocked on a full response channel need room to see
			// their STOP.
		case <-timer.C:
			e.logger.Warn("lane workers did not exit in time, cancelling",
				zap.Duration("grace", e.cfg.Timeouts.StopGrace))

			return
		}
	}
}
