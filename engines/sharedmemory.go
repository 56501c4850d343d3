package engines

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sarchlab/intersim/barrier"
	"github.com/sarchlab/intersim/config"
	"github.com/sarchlab/intersim/sim"
)

// A SharedMemoryEngine runs one goroutine per lane. The goroutines mutate
// their lane and the shared statistics under locks and meet the coordinator
// at a start barrier and an end barrier in every tick.
type SharedMemoryEngine struct {
	*sim.HookableBase

	cfg    config.Config
	logger *zap.Logger

	// stepLock serializes Start, Step, State and Stop.
	stepLock sync.Mutex
	// lock guards core. Workers take it to report their dispatch.
	lock sync.Mutex
	core *tickCore

	lanes     map[sim.LaneID]*sim.Lane
	start     *barrier.Barrier
	end       *barrier.Barrier
	waitGroup sync.WaitGroup
	running   atomic.Bool
	stopped   bool
}

// NewSharedMemoryEngine creates a SharedMemoryEngine. The configuration is
// expected to be valid.
func NewSharedMemoryEngine(
	cfg config.Config,
	opts ...Option,
) *SharedMemoryEngine {
	o := buildOptions(opts)

	e := &SharedMemoryEngine{
		HookableBase: sim.NewHookableBase(),
		cfg:          cfg,
		logger: o.logger.Named("engine").
			With(zap.String("engine", KindSharedMemory)),
		core:  newTickCore(KindSharedMemory, cfg, o),
		lanes: make(map[sim.LaneID]*sim.Lane, len(sim.AllLanes)),
		start: barrier.New(len(sim.AllLanes) + 1),
		end:   barrier.New(len(sim.AllLanes) + 1),
	}

	for _, id := range sim.AllLanes {
		e.lanes[id] = sim.NewLane(id, cfg.CapacityPerTick).WithClock(o.now)
	}

	return e
}

// Kind returns "shared".
func (e *SharedMemoryEngine) Kind() string {
	return KindSharedMemory
}

// IsRunning tells whether the lane workers are alive.
func (e *SharedMemoryEngine) IsRunning() bool {
	return e.running.Load()
}

// Start launches the lane workers.
func (e *SharedMemoryEngine) Start() error {
	e.stepLock.Lock()
	defer e.stepLock.Unlock()

	if e.stopped {
		return discarded(e.Kind())
	}

	if e.running.Load() {
		return nil
	}

	e.running.Store(true)

	for _, id := range sim.AllLanes {
		e.waitGroup.Add(1)
		go e.laneWorker(e.lanes[id])
	}

	e.logger.Info("engine started",
		zap.Int("lanes", len(e.lanes)),
		zap.Duration("barrier_timeout", e.cfg.Timeouts.Barrier),
	)

	return nil
}

// Step runs one tick.
func (e *SharedMemoryEngine) Step() (*sim.TrafficSnapshot, error) {
	e.stepLock.Lock()
	defer e.stepLock.Unlock()

	if !e.running.Load() {
		return nil, notRunning(e.Kind())
	}

	e.lock.Lock()
	tick, colors := e.core.beginTick()
	e.lock.Unlock()

	e.InvokeHook(sim.HookCtx{
		Domain: e,
		Pos:    sim.HookPosTickStart,
		Item:   tick,
	})

	for _, id := range sim.AllLanes {
		e.lanes[id].SetColor(colors[id])
	}

	e.lock.Lock()
	arrivals := e.core.arrivals()
	e.lock.Unlock()

	for _, a := range arrivals {
		e.lanes[a.lane].Enqueue(a.vehicle)
	}

	e.rendezvous(tick)

	return e.finishTick(), nil
}

// rendezvous releases the workers into the dispatch of tick and waits until
// they have all reported, or until the barrier timeout passes. A failed start
// barrier means no worker dispatched, so every lane of the tick is degraded,
// including the ones that were waiting on time.
func (e *SharedMemoryEngine) rendezvous(tick uint64) {
	err := e.start.Wait(e.cfg.Timeouts.Barrier)
	if err != nil {
		e.abandonTick(tick, e.start, "start barrier: "+err.Error())
		return
	}

	err = e.end.Wait(e.cfg.Timeouts.Barrier)
	if err != nil {
		e.abandonTick(tick, e.end, "end barrier: "+err.Error())
		return
	}

	e.lock.Lock()
	e.core.closeTick()
	e.lock.Unlock()
}

// abandonTick closes the tick before resetting the barrier, so that a worker
// released by the reset can no longer report into it.
func (e *SharedMemoryEngine) abandonTick(
	tick uint64,
	b *barrier.Barrier,
	reason string,
) {
	e.lock.Lock()
	e.core.failUnreported(reason)
	e.core.closeTick()
	e.lock.Unlock()

	b.Reset()

	e.logger.Warn("tick completed without all lanes",
		zap.Uint64("tick", tick),
		zap.String("reason", reason),
	)
}

func (e *SharedMemoryEngine) finishTick() *sim.TrafficSnapshot {
	snapshot, failures := e.readBack()

	for _, f := range failures {
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

func (e *SharedMemoryEngine) readBack() (*sim.TrafficSnapshot, []laneFailure) {
	states := make([]sim.LaneState, 0, len(sim.AllLanes))
	for _, id := range sim.AllLanes {
		states = append(states, e.lanes[id].State())
	}

	e.lock.Lock()
	defer e.lock.Unlock()

	for _, s := range states {
		e.core.observe(s)
	}

	return e.core.snapshot(), e.core.degraded()
}

// State returns the snapshot of the current tick.
func (e *SharedMemoryEngine) State() (*sim.TrafficSnapshot, error) {
	e.stepLock.Lock()
	defer e.stepLock.Unlock()

	if !e.running.Load() {
		return nil, notRunning(e.Kind())
	}

	snapshot, _ := e.readBack()

	return snapshot, nil
}

// Stop ends the workers. The engine cannot be started again.
func (e *SharedMemoryEngine) Stop() {
	e.stepLock.Lock()
	defer e.stepLock.Unlock()

	if !e.running.Load() {
		return
	}

	e.running.Store(false)
	e.stopped = true

	e.start.Abort()
	e.end.Abort()

	if !waitTimeout(&e.waitGroup, e.cfg.Timeouts.StopGrace) {
		e.logger.Warn("lane workers did not exit in time",
			zap.Duration("grace", e.cfg.Timeouts.StopGrace))
		return
	}

	e.logger.Info("engine stopped")
}

func (e *SharedMemoryEngine) laneWorker(lane *sim.Lane) {
	defer e.waitGroup.Done()

	logger := e.logger.With(zap.String("lane", string(lane.ID())))
	logger.Debug("lane worker started")

	for {
		// A timeout withdraws the arrival, so the worker can notice Stop.
		err := e.start.Wait(e.cfg.Timeouts.WorkerPoll)
		if !e.running.Load() {
			logger.Debug("lane worker exiting")
			return
		}

		if err != nil {
			continue
		}

		e.lock.Lock()
		tick := e.core.currentTick()
		e.lock.Unlock()

		e.InvokeHook(sim.HookCtx{
			Domain: e,
			Pos:    sim.HookPosBeforeDispatch,
			Item:   lane.ID(),
		})

		vehicles := lane.DispatchTick()
		if !e.report(tick, lane.ID(), vehicles) {
			logger.Warn("dispatch reported after its tick was closed",
				zap.Uint64("tick", tick),
				zap.Int("vehicles", len(vehicles)),
			)
			continue
		}

		err = e.end.Wait(e.cfg.Timeouts.WorkerPoll)
		if err != nil && e.running.Load() {
			logger.Debug("end barrier not reached", zap.Error(err))
		}
	}
}

// report records the dispatched vehicles. Statistics always count them; the
// tick only does while the coordinator still waits for it.
func (e *SharedMemoryEngine) report(
	tick uint64,
	lane sim.LaneID,
	vehicles []*sim.Vehicle,
) bool {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.core.stats.Record(vehicles, lane)

	if !e.core.isOpen(tick) {
		return false
	}

	ids := make([]uint64, 0, len(vehicles))
	for _, v := range vehicles {
		ids = append(ids, v.ID)
	}

	e.core.recordDispatch(lane, ids)

	return true
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
