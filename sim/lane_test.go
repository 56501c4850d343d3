package sim

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Lane", func() {
	var (
		now  time.Time
		lane *Lane
	)

	BeforeEach(func() {
		now = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
		lane = NewLane(North, 2).WithClock(func() time.Time { return now })
	})

	enqueue := func(ids ...uint64) {
		for _, id := range ids {
			lane.Enqueue(NewVehicle(id, now))
		}
	}

	It("should start red and empty", func() {
		Expect(lane.ID()).To(Equal(North))
		Expect(lane.Color()).To(Equal(Red))
		Expect(lane.QueueLength()).To(BeZero())
		Expect(lane.CapacityPerTick()).To(Equal(2))
	})

	It("should not dispatch unless green", func() {
		enqueue(1, 2)

		Expect(lane.DispatchTick()).To(BeEmpty())

		lane.SetColor(Yellow)
		Expect(lane.DispatchTick()).To(BeEmpty())
		Expect(lane.QueueLength()).To(Equal(2))
	})

	It("should dispatch oldest first up to capacity", func() {
		enqueue(1, 2, 3)
		lane.SetColor(Green)

		first := lane.DispatchTick()
		second := lane.DispatchTick()
		third := lane.DispatchTick()

		Expect(first).To(HaveLen(2))
		Expect(first[0].ID).To(Equal(uint64(1)))
		Expect(first[1].ID).To(Equal(uint64(2)))
		Expect(second).To(HaveLen(1))
		Expect(second[0].ID).To(Equal(uint64(3)))
		Expect(third).To(BeEmpty())
		Expect(lane.Dispatched()).To(Equal(uint64(3)))
	})

	It("should dispatch nothing with zero capacity", func() {
		lane = NewLane(East, 0)
		lane.Enqueue(NewVehicle(1, now))
		lane.SetColor(Green)

		Expect(lane.DispatchTick()).To(BeEmpty())
		Expect(lane.QueueLength()).To(Equal(1))
	})

	It("should stamp wait start and departure", func() {
		enqueue(1)
		lane.SetColor(Green)

		now = now.Add(3 * time.Second)
		out := lane.DispatchTick()

		Expect(out[0].WaitStartTime).To(Equal(now.Add(-3 * time.Second)))
		Expect(out[0].DepartureTime).To(Equal(now))
		Expect(out[0].WaitSeconds(now.Add(time.Hour))).To(Equal(3.0))
	})

	It("should keep the queue when the color changes", func() {
		enqueue(1, 2)

		lane.SetColor(Green)
		lane.SetColor(Red)

		Expect(lane.QueueLength()).To(Equal(2))
	})

	It("should describe its queue", func() {
		enqueue(4, 5)

		state := lane.State()

		Expect(state.Lane).To(Equal(North))
		Expect(state.Color).To(Equal(Red))
		Expect(state.QueueLength).To(Equal(2))
		Expect(state.Queue).To(Equal([]QueueEntry{
			{ID: 4, Position: 0, WaitingSince: now},
			{ID: 5, Position: 1, WaitingSince: now},
		}))
		Expect(lane.QueueDetail()).To(Equal(state.Queue))
	})

	It("should be safe for concurrent use", func() {
		lane.SetColor(Green)

		var wg sync.WaitGroup
		var lock sync.Mutex
		dispatched := 0

		for i := 0; i < 4; i++ {
			wg.Add(2)
			go func(base int) {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					lane.Enqueue(NewVehicle(uint64(base*100+j), now))
				}
			}(i)
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					n := len(lane.DispatchTick())
					lock.Lock()
					dispatched += n
					lock.Unlock()
				}
			}()
		}
		wg.Wait()

		Expect(dispatched + lane.QueueLength()).To(Equal(200))
		Expect(lane.Dispatched()).To(Equal(uint64(dispatched)))
	})
})

var _ = Describe("Vehicle", func() {
	It("should set wait start only once", func() {
		t0 := time.Now()
		v := NewVehicle(1, t0)

		v.MarkWaitStart(t0)
		v.MarkWaitStart(t0.Add(time.Second))

		Expect(v.WaitStartTime).To(Equal(t0))
	})

	It("should set departure only once", func() {
		t0 := time.Now()
		v := NewVehicle(1, t0)
		v.MarkWaitStart(t0)

		v.MarkDeparture(t0.Add(time.Second))
		v.MarkDeparture(t0.Add(time.Minute))

		Expect(v.Departed()).To(BeTrue())
		Expect(v.DepartureTime).To(Equal(t0.Add(time.Second)))
	})

	It("should never depart before it started waiting", func() {
		t0 := time.Now()
		v := NewVehicle(1, t0)
		v.MarkWaitStart(t0)

		v.MarkDeparture(t0.Add(-time.Second))

		Expect(v.DepartureTime).To(Equal(t0))
		Expect(v.WaitSeconds(t0)).To(BeZero())
	})

	It("should measure a running wait", func() {
		t0 := time.Now()
		v := NewVehicle(1, t0)

		Expect(v.WaitSeconds(t0.Add(time.Second))).To(BeZero())

		v.MarkWaitStart(t0)
		Expect(v.WaitSeconds(t0.Add(2 * time.Second))).To(Equal(2.0))
	})
})
