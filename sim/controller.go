package sim

// PhaseTiming describes the progress of the current phase.
type PhaseTiming struct {
	Phase          Phase `json:"phase"`
	TicksInPhase   int   `json:"ticks_in_phase"`
	TicksRemaining int   `json:"ticks_remaining"`
	Duration       int   `json:"duration"`
}

// A Controller is the four-phase signal timer of the intersection. It is owned
// by an engine coordinator and is not safe for concurrent use.
type Controller struct {
	greenDuration  int
	yellowDuration int

	tick         uint64
	cycle        uint64
	phase        Phase
	ticksInPhase int
}

// NewController creates a controller that starts in NS_GREEN. Durations below
// one tick are treated as one tick.
func NewController(greenDuration, yellowDuration int) *Controller {
	if greenDuration < 1 {
		greenDuration = 1
	}

	if yellowDuration < 1 {
		yellowDuration = 1
	}

	return &Controller{
		greenDuration:  greenDuration,
		yellowDuration: yellowDuration,
		phase:          PhaseNSGreen,
	}
}

// AdvanceTick moves the timer forward by one tick and returns the colors of
// all lanes for the new tick.
func (c *Controller) AdvanceTick() map[LaneID]Color {
	c.tick++
	c.ticksInPhase++

	if c.ticksInPhase >= c.durationOf(c.phase) {
		if c.phase == PhaseEWYellow {
			c.cycle++
		}

		c.phase = c.phase.Next()
		c.ticksInPhase = 0
	}

	return PlanFor(c.phase)
}

// Plan returns the colors of the current phase without advancing time.
func (c *Controller) Plan() map[LaneID]Color {
	return PlanFor(c.phase)
}

// Tick returns the number of ticks so far.
func (c *Controller) Tick() uint64 {
	return c.tick
}

// Cycle returns the number of completed phase rotations.
func (c *Controller) Cycle() uint64 {
	return c.cycle
}

// Phase returns the current phase.
func (c *Controller) Phase() Phase {
	return c.phase
}

// CycleLength returns the number of ticks in one full rotation.
func (c *Controller) CycleLength() int {
	return 2 * (c.greenDuration + c.yellowDuration)
}

// PhaseTiming reports how far the current phase has progressed.
func (c *Controller) PhaseTiming() PhaseTiming {
	duration := c.durationOf(c.phase)

	remaining := duration - c.ticksInPhase
	if remaining < 0 {
		remaining = 0
	}

	return PhaseTiming{
		Phase:          c.phase,
		TicksInPhase:   c.ticksInPhase,
		TicksRemaining: remaining,
		Duration:       duration,
	}
}

func (c *Controller) durationOf(p Phase) int {
	if p.IsGreen() {
		return c.greenDuration
	}

	return c.yellowDuration
}
