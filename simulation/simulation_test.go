package simulation

import (
	"context"
	"errors"
	"time"

	ginkgo "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/intersim/config"
	"github.com/sarchlab/intersim/engines"
	"github.com/sarchlab/intersim/sim"
)

func fastConfig() config.Config {
	cfg := config.Default()
	cfg.GreenDuration = 1
	cfg.YellowDuration = 1
	cfg.MinCycles = 2
	cfg.TickInterval = 0
	cfg.Timeouts.Barrier = 300 * time.Millisecond
	cfg.Timeouts.Response = 300 * time.Millisecond
	cfg.Timeouts.WorkerPoll = 20 * time.Millisecond
	cfg.Timeouts.StopGrace = time.Second

	return cfg
}

func snapshotAt(tick, cycle uint64) *sim.TrafficSnapshot {
	return &sim.TrafficSnapshot{Tick: tick, Cycle: cycle}
}

var _ = ginkgo.Describe("Builder", func() {
	ginkgo.It("should build the engine named in the configuration", func() {
		cfg := fastConfig()
		cfg.Engine = engines.KindIsolated

		s, err := MakeBuilder().WithConfig(cfg).Build()
		Expect(err).NotTo(HaveOccurred())
		defer s.Terminate()

		Expect(s.GetEngine().Kind()).To(Equal(engines.KindIsolated))
		Expect(s.GetMonitor()).To(BeNil())
		Expect(s.GetMetrics()).NotTo(BeNil())
		Expect(s.ID()).NotTo(BeEmpty())
	})

	ginkgo.It("should let the engine kind be overridden", func() {
		s, err := MakeBuilder().
			WithConfig(fastConfig()).
			WithEngineKind(engines.KindSharedMemory).
			Build()
		Expect(err).NotTo(HaveOccurred())
		defer s.Terminate()

		Expect(s.GetEngine().Kind()).To(Equal(engines.KindSharedMemory))
	})

	ginkgo.It("should reject unknown engines", func() {
		_, err := MakeBuilder().WithEngineKind("threads").Build()

		Expect(err).To(MatchError(engines.ErrUnknownKind))
	})

	ginkgo.It("should reject invalid configurations", func() {
		cfg := fastConfig()
		cfg.CapacityPerTick = -1

		_, err := MakeBuilder().WithConfig(cfg).Build()

		Expect(err).To(HaveOccurred())
	})

	ginkgo.It("should start a monitor when asked", func() {
		s, err := MakeBuilder().WithConfig(fastConfig()).WithMonitor(0).Build()
		Expect(err).NotTo(HaveOccurred())
		defer s.Terminate()

		Expect(s.GetMonitor()).NotTo(BeNil())
		Expect(s.GetMonitor().URL()).To(HavePrefix("http://localhost:"))
	})
})

var _ = ginkgo.Describe("Simulation", func() {
	var (
		mockCtrl *gomock.Controller
		engine   *MockEngine
		cfg      config.Config
	)

	ginkgo.BeforeEach(func() {
		mockCtrl = gomock.NewController(ginkgo.GinkgoT())
		engine = NewMockEngine(mockCtrl)
		engine.EXPECT().AcceptHook(gomock.Any()).AnyTimes()
		engine.EXPECT().Kind().Return("mock").AnyTimes()
		cfg = fastConfig()
	})

	build := func() *Simulation {
		s, err := MakeBuilder().WithConfig(cfg).WithEngine(engine).Build()
		Expect(err).NotTo(HaveOccurred())

		return s
	}

	ginkgo.It("should register the metrics and extra hooks", func() {
		hook := sim.HookFunc(func(sim.HookCtx) {})
		engine = NewMockEngine(mockCtrl)
		engine.EXPECT().AcceptHook(gomock.Any()).Times(3)

		_, err := MakeBuilder().WithEngine(engine).WithHook(hook).Build()

		Expect(err).NotTo(HaveOccurred())
	})

	ginkgo.It("should run until the minimum number of cycles", func() {
		gomock.InOrder(
			engine.EXPECT().Start().Return(nil),
			engine.EXPECT().Step().Return(snapshotAt(1, 0), nil),
			engine.EXPECT().Step().Return(snapshotAt(2, 1), nil),
			engine.EXPECT().Step().Return(snapshotAt(3, 2), nil),
		)

		seen := 0
		report, err := build().Run(context.Background(),
			func(*sim.TrafficSnapshot) { seen++ })

		Expect(err).NotTo(HaveOccurred())
		Expect(seen).To(Equal(3))
		Expect(report.Ticks).To(Equal(uint64(3)))
		Expect(report.Cycles).To(Equal(uint64(2)))
		Expect(report.Final.Tick).To(Equal(uint64(3)))
		Expect(report.TicksPerSecond).To(BeNumerically(">", 0))
	})

	ginkgo.It("should run a tick budget when no cycles are asked for", func() {
		cfg.MinCycles = 0
		cfg.TotalTicks = 2

		engine.EXPECT().Start().Return(nil)
		engine.EXPECT().Step().Return(snapshotAt(1, 0), nil)
		engine.EXPECT().Step().Return(snapshotAt(2, 0), nil)

		report, err := build().Run(context.Background(), nil)

		Expect(err).NotTo(HaveOccurred())
		Expect(report.Ticks).To(Equal(uint64(2)))
	})

	ginkgo.It("should return start errors", func() {
		engine.EXPECT().Start().Return(sim.ErrEngineDiscarded)

		_, err := build().Run(context.Background(), nil)

		Expect(err).To(MatchError(sim.ErrEngineDiscarded))
	})

	ginkgo.It("should stop at the first step error", func() {
		stepErr := errors.New("boom")
		engine.EXPECT().Start().Return(nil)
		engine.EXPECT().Step().Return(snapshotAt(1, 0), nil)
		engine.EXPECT().Step().Return(nil, stepErr)

		report, err := build().Run(context.Background(), nil)

		Expect(err).To(MatchError(stepErr))
		Expect(report.Ticks).To(Equal(uint64(1)))
	})

	ginkgo.It("should stop when the context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())

		engine.EXPECT().Start().Return(nil)
		engine.EXPECT().Step().DoAndReturn(func() (*sim.TrafficSnapshot, error) {
			cancel()
			return snapshotAt(1, 0), nil
		})

		report, err := build().Run(ctx, nil)

		Expect(err).To(MatchError(context.Canceled))
		Expect(report.Ticks).To(Equal(uint64(1)))
	})

	ginkgo.It("should pace ticks", func() {
		cfg.MinCycles = 0
		cfg.TotalTicks = 3
		cfg.TickInterval = 30 * time.Millisecond

		engine.EXPECT().Start().Return(nil)
		for i := uint64(1); i <= 3; i++ {
			engine.EXPECT().Step().Return(snapshotAt(i, 0), nil)
		}

		report, err := build().Run(context.Background(), nil)

		Expect(err).NotTo(HaveOccurred())
		Expect(report.Elapsed).To(BeNumerically(">=", 50*time.Millisecond))
	})

	ginkgo.It("should terminate once", func() {
		engine.EXPECT().Stop().Times(1)

		s := build()
		s.Terminate()
		s.Terminate()
	})
})

var _ = ginkgo.Describe("Simulation with real engines", func() {
	for _, kind := range engines.Kinds {
		kind := kind

		ginkgo.It("should complete the requested cycles with "+kind, func() {
			s, err := MakeBuilder().
				WithConfig(fastConfig()).
				WithEngineKind(kind).
				WithMonitor(0).
				Build()
			Expect(err).NotTo(HaveOccurred())
			defer s.Terminate()

			report, err := s.Run(context.Background(), nil)

			Expect(err).NotTo(HaveOccurred())
			Expect(report.Cycles).To(Equal(uint64(2)))
			Expect(report.Ticks).To(Equal(uint64(8)))
			Expect(report.Final.Engine).To(Equal(kind))
			Expect(s.GetMonitor().Latest()).To(Equal(report.Final))
		})
	}
})
