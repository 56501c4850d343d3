package sim

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Controller", func() {
	It("should start in NS_GREEN at tick zero", func() {
		c := NewController(5, 2)

		Expect(c.Tick()).To(BeZero())
		Expect(c.Cycle()).To(BeZero())
		Expect(c.Phase()).To(Equal(PhaseNSGreen))
		Expect(c.Plan()).To(Equal(map[LaneID]Color{
			North: Green, South: Green, East: Red, West: Red,
		}))
		Expect(c.CycleLength()).To(Equal(14))
	})

	It("should walk the phases in order", func() {
		c := NewController(2, 1)

		var phases []Phase
		for i := 0; i < 6; i++ {
			c.AdvanceTick()
			phases = append(phases, c.Phase())
		}

		Expect(phases).To(Equal([]Phase{
			PhaseNSGreen, PhaseNSYellow,
			PhaseEWGreen, PhaseEWGreen, PhaseEWYellow,
			PhaseNSGreen,
		}))
		Expect(c.Cycle()).To(Equal(uint64(1)))
	})

	It("should complete three cycles in twelve ticks of 1+1", func() {
		c := NewController(1, 1)

		for i := 0; i < 12; i++ {
			c.AdvanceTick()
		}

		Expect(c.Tick()).To(Equal(uint64(12)))
		Expect(c.Cycle()).To(Equal(uint64(3)))
		Expect(c.Phase()).To(Equal(PhaseNSGreen))
	})

	It("should complete one cycle per cycle length", func() {
		c := NewController(2, 1)

		for i := 0; i < 12; i++ {
			c.AdvanceTick()
		}
		Expect(c.Cycle()).To(Equal(uint64(2)))
		Expect(c.Phase()).To(Equal(PhaseNSGreen))

		for i := 0; i < 6; i++ {
			c.AdvanceTick()
		}
		Expect(c.Cycle()).To(Equal(uint64(3)))
	})

	It("should treat durations below one tick as one tick", func() {
		c := NewController(0, -3)

		Expect(c.CycleLength()).To(Equal(4))

		c.AdvanceTick()
		Expect(c.Phase()).To(Equal(PhaseNSYellow))
	})

	It("should keep crossing lanes red", func() {
		c := NewController(3, 2)

		for i := 0; i < 40; i++ {
			colors := c.AdvanceTick()

			ns := colors[North] != Red || colors[South] != Red
			ew := colors[East] != Red || colors[West] != Red
			Expect(ns && ew).To(BeFalse())
			Expect(colors[North]).To(Equal(colors[South]))
			Expect(colors[East]).To(Equal(colors[West]))
		}
	})

	It("should report phase timing", func() {
		c := NewController(3, 1)

		c.AdvanceTick()

		Expect(c.PhaseTiming()).To(Equal(PhaseTiming{
			Phase:          PhaseNSGreen,
			TicksInPhase:   1,
			TicksRemaining: 2,
			Duration:       3,
		}))

		c.AdvanceTick()
		c.AdvanceTick()

		Expect(c.PhaseTiming()).To(Equal(PhaseTiming{
			Phase:          PhaseNSYellow,
			TicksInPhase:   0,
			TicksRemaining: 1,
			Duration:       1,
		}))
	})
})

var _ = Describe("Phase", func() {
	It("should cycle back to NS_GREEN", func() {
		p := PhaseNSGreen
		for i := 0; i < 4; i++ {
			p = p.Next()
		}

		Expect(p).To(Equal(PhaseNSGreen))
	})

	It("should plan yellow for the owning pair", func() {
		Expect(PlanFor(PhaseEWYellow)).To(Equal(map[LaneID]Color{
			North: Red, South: Red, East: Yellow, West: Yellow,
		}))
	})

	It("should name lanes", func() {
		Expect(West.Name()).To(Equal("WEST"))
		Expect(LaneID("Q").Valid()).To(BeFalse())
		Expect(LaneID("Q").Name()).To(Equal("UNKNOWN"))
	})
})
