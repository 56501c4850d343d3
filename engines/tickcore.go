package engines

import (
	"math/rand"
	"time"

	"github.com/sarchlab/intersim/config"
	"github.com/sarchlab/intersim/sim"
)

type arrival struct {
	lane    sim.LaneID
	vehicle *sim.Vehicle
}

type laneFailure struct {
	lane   sim.LaneID
	reason string
}

// tickCore keeps the coordinator-side bookkeeping of a tick. Both engines
// drive it in the same order, which is what makes them produce the same
// ticks. It is not safe for concurrent use.
type tickCore struct {
	runID              string
	kind               string
	echo               sim.ConfigEcho
	arrivalProbability float64

	controller *sim.Controller
	rng        *rand.Rand
	ids        sim.IDGenerator
	stats      *sim.StatsAggregator
	now        func() time.Time

	open          bool
	expecting     bool
	prevColors    map[sim.LaneID]sim.Color
	colorEvents   []sim.Event
	arrivalEvents []sim.Event
	dispatched    map[sim.LaneID][]uint64
	reported      map[sim.LaneID]bool
	failures      map[sim.LaneID]string
	laneStates    map[sim.LaneID]sim.LaneState
	totalArrivals uint64
}

func newTickCore(kind string, cfg config.Config, o options) *tickCore {
	c := &tickCore{
		runID:              o.runID,
		kind:               kind,
		echo:               cfg.Echo(),
		arrivalProbability: cfg.ArrivalProbability,
		controller:         sim.NewController(cfg.GreenDuration, cfg.YellowDuration),
		rng:                rand.New(rand.NewSource(cfg.Seed)),
		ids:                o.ids,
		stats:              sim.NewStatsAggregator(),
		now:                o.now,
		prevColors:         make(map[sim.LaneID]sim.Color, len(sim.AllLanes)),
		laneStates:         make(map[sim.LaneID]sim.LaneState, len(sim.AllLanes)),
	}

	for _, lane := range sim.AllLanes {
		c.prevColors[lane] = sim.Red
		c.laneStates[lane] = sim.LaneState{Lane: lane, Color: sim.Red}
	}

	c.clearTick()

	return c
}

func (c *tickCore) clearTick() {
	c.colorEvents = nil
	c.arrivalEvents = nil
	c.dispatched = make(map[sim.LaneID][]uint64, len(sim.AllLanes))
	c.reported = make(map[sim.LaneID]bool, len(sim.AllLanes))
	c.failures = make(map[sim.LaneID]string)
}

// beginTick advances the controller and returns the new tick and the colors
// every lane must show. Color changes are logged as events.
func (c *tickCore) beginTick() (uint64, map[sim.LaneID]sim.Color) {
	c.clearTick()

	colors := c.controller.AdvanceTick()
	for _, lane := range sim.AllLanes {
		prev := c.prevColors[lane]
		if prev != colors[lane] {
			c.colorEvents = append(c.colorEvents, sim.Event{
				Kind: sim.EventColorChange,
				Lane: lane,
				From: prev,
				To:   colors[lane],
			})
		}

		c.prevColors[lane] = colors[lane]
	}

	c.open = true
	c.expecting = true

	return c.controller.Tick(), colors
}

// arrivals draws the vehicles that arrive in this tick, at most one per lane,
// in lane order.
func (c *tickCore) arrivals() []arrival {
	var out []arrival

	now := c.now()
	for _, lane := range sim.AllLanes {
		if c.rng.Float64() >= c.arrivalProbability {
			continue
		}

		v := sim.NewVehicle(c.ids.Generate(), now)
		c.totalArrivals++
		c.arrivalEvents = append(c.arrivalEvents, sim.Event{
			Kind:      sim.EventArrival,
			Lane:      lane,
			VehicleID: v.ID,
		})

		out = append(out, arrival{lane: lane, vehicle: v})
	}

	return out
}

func (c *tickCore) currentTick() uint64 {
	return c.controller.Tick()
}

// isOpen tells whether the coordinator still collects the results of tick.
func (c *tickCore) isOpen(tick uint64) bool {
	return c.open && c.controller.Tick() == tick
}

func (c *tickCore) closeTick() {
	c.open = false
}

// recordDispatch stores the vehicles a lane let cross in this tick, oldest
// first.
func (c *tickCore) recordDispatch(lane sim.LaneID, ids []uint64) {
	c.dispatched[lane] = append(c.dispatched[lane], ids...)
	c.reported[lane] = true
}

func (c *tickCore) fail(lane sim.LaneID, reason string) {
	if _, found := c.failures[lane]; found {
		return
	}

	c.failures[lane] = reason
}

// failUnreported marks every lane that has not reported a dispatch yet.
func (c *tickCore) failUnreported(reason string) {
	for _, lane := range sim.AllLanes {
		if !c.reported[lane] {
			c.fail(lane, reason)
		}
	}
}

func (c *tickCore) hasFailed(lane sim.LaneID) bool {
	_, found := c.failures[lane]
	return found
}

func (c *tickCore) observe(state sim.LaneState) {
	c.laneStates[state.Lane] = state
}

// degraded lists, in lane order, the lanes that produced no complete result
// in the current tick.
func (c *tickCore) degraded() []laneFailure {
	if !c.expecting {
		return nil
	}

	var out []laneFailure
	for _, lane := range sim.AllLanes {
		if reason, found := c.failures[lane]; found {
			out = append(out, laneFailure{lane: lane, reason: reason})
			continue
		}

		if !c.reported[lane] {
			out = append(out, laneFailure{lane: lane, reason: "no dispatch report"})
		}
	}

	return out
}

// snapshot assembles a snapshot from the last observed lane states and the
// events of the current tick. Nothing in the snapshot is shared with the
// core.
func (c *tickCore) snapshot() *sim.TrafficSnapshot {
	n := len(sim.AllLanes)
	s := &sim.TrafficSnapshot{
		RunID:         c.runID,
		Engine:        c.kind,
		Tick:          c.controller.Tick(),
		Cycle:         c.controller.Cycle(),
		Phase:         c.controller.Phase(),
		Colors:        make(map[sim.LaneID]sim.Color, n),
		QueueLengths:  make(map[sim.LaneID]int, n),
		QueueDetail:   make(map[sim.LaneID][]sim.QueueEntry, n),
		InTransit:     make(map[sim.LaneID][]sim.Transit, n),
		PhaseTiming:   c.controller.PhaseTiming(),
		Stats:         c.stats.Summary(),
		TotalArrivals: c.totalArrivals,
		Config:        c.echo,
	}

	events := make([]sim.Event, 0,
		len(c.colorEvents)+len(c.arrivalEvents)+len(c.dispatched))
	events = append(events, c.colorEvents...)
	events = append(events, c.arrivalEvents...)

	for _, lane := range sim.AllLanes {
		state := c.laneStates[lane]
		s.Colors[lane] = state.Color
		s.QueueLengths[lane] = state.QueueLength

		detail := make([]sim.QueueEntry, len(state.Queue))
		copy(detail, state.Queue)
		s.QueueDetail[lane] = detail

		ids := c.dispatched[lane]
		transit := make([]sim.Transit, 0, len(ids))
		for i, id := range ids {
			transit = append(transit, sim.Transit{
				ID:       id,
				Progress: float64(i+1) / float64(len(ids)),
			})

			events = append(events, sim.Event{
				Kind:      sim.EventDispatch,
				Lane:      lane,
				VehicleID: id,
			})
		}
		s.InTransit[lane] = transit
	}

	s.Events = events

	for _, f := range c.degraded() {
		s.DegradedLanes = append(s.DegradedLanes, f.lane)
	}

	return s
}
