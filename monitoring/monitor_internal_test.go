package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/intersim/monitoring/web"
	"github.com/sarchlab/intersim/sim"
)

func sampleSnapshot(tick uint64) *sim.TrafficSnapshot {
	return &sim.TrafficSnapshot{
		RunID:  "run",
		Engine: "shared",
		Tick:   tick,
		Phase:  sim.PhaseNSGreen,
		Colors: map[sim.LaneID]sim.Color{
			sim.North: sim.Green, sim.South: sim.Green,
			sim.East: sim.Red, sim.West: sim.Red,
		},
		QueueLengths: map[sim.LaneID]int{sim.North: 1},
		QueueDetail: map[sim.LaneID][]sim.QueueEntry{
			sim.North: {{ID: 7}},
		},
		Stats: sim.StatsSummary{
			PerLane: map[sim.LaneID]uint64{sim.North: 2},
		},
	}
}

var _ = Describe("Monitor", func() {
	var (
		mockCtrl *gomock.Controller
		m        *Monitor
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		m = NewMonitor()
	})

	serve := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		m.Router().ServeHTTP(rec, req)

		return rec
	}

	Context("walking fields", func() {
		It("should follow struct fields, maps and slices", func() {
			s := sampleSnapshot(3)

			v, err := m.walkFields(s, "Stats.PerLane.N")
			Expect(err).NotTo(HaveOccurred())
			Expect(v.Uint()).To(Equal(uint64(2)))

			v, err = m.walkFields(s, "QueueDetail.N.0.ID")
			Expect(err).NotTo(HaveOccurred())
			Expect(v.Uint()).To(Equal(uint64(7)))
		})

		It("should reject unknown fields", func() {
			_, err := m.walkFields(sampleSnapshot(0), "Nope")

			Expect(err).To(MatchError(ContainSubstring("no such field")))
		})

		It("should reject bad indices", func() {
			_, err := m.walkFields(sampleSnapshot(0), "QueueDetail.N.5")

			Expect(err).To(MatchError(ContainSubstring("bad index")))
		})

		It("should reject walking into scalars", func() {
			_, err := m.walkFields(sampleSnapshot(0), "Tick.Foo")

			Expect(err).To(HaveOccurred())
		})
	})

	Context("state", func() {
		It("should report unavailable before any snapshot", func() {
			rec := serve("/api/state")

			Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
		})

		It("should ask a running engine when nothing is published", func() {
			engine := NewMockEngine(mockCtrl)
			engine.EXPECT().IsRunning().Return(true)
			engine.EXPECT().State().Return(sampleSnapshot(5), nil)
			m.RegisterEngine(engine)

			rec := serve("/api/state")

			Expect(rec.Code).To(Equal(http.StatusOK))
			got := sim.TrafficSnapshot{}
			Expect(json.Unmarshal(rec.Body.Bytes(), &got)).To(Succeed())
			Expect(got.Tick).To(Equal(uint64(5)))
		})

		It("should serve the published snapshot", func() {
			m.Publish(sampleSnapshot(9))

			rec := serve("/api/state")

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))
			got := sim.TrafficSnapshot{}
			Expect(json.Unmarshal(rec.Body.Bytes(), &got)).To(Succeed())
			Expect(got.Tick).To(Equal(uint64(9)))
			Expect(got.Colors[sim.North]).To(Equal(sim.Green))
		})

		It("should serve snapshot fields", func() {
			m.Publish(sampleSnapshot(9))

			Expect(serve("/api/snapshot/field/Tick").Code).
				To(Equal(http.StatusOK))
			Expect(serve("/api/snapshot/field/Missing").Code).
				To(Equal(http.StatusNotFound))
		})
	})

	Context("pausing", func() {
		It("should pause and continue through the API", func() {
			Expect(serve("/api/pause").Code).To(Equal(http.StatusOK))
			Expect(m.IsPaused()).To(BeTrue())

			Expect(serve("/api/continue").Code).To(Equal(http.StatusOK))
			Expect(m.IsPaused()).To(BeFalse())
		})

		It("should not block when not paused", func() {
			Expect(m.WaitIfPaused(context.Background())).To(Succeed())
		})

		It("should block until continued", func() {
			m.Pause()
			m.Pause()

			released := make(chan error, 1)
			go func() {
				released <- m.WaitIfPaused(context.Background())
			}()

			Consistently(released, 50*time.Millisecond).ShouldNot(Receive())

			m.Continue()

			Eventually(released).Should(Receive(BeNil()))
		})

		It("should give up when the context ends", func() {
			m.Pause()

			ctx, cancel := context.WithTimeout(context.Background(),
				20*time.Millisecond)
			defer cancel()

			Expect(m.WaitIfPaused(ctx)).To(MatchError(context.DeadlineExceeded))
		})

		It("should release a paused run on shutdown", func() {
			m.Pause()

			Expect(m.Shutdown(context.Background())).To(Succeed())
			Expect(m.IsPaused()).To(BeFalse())
		})
	})

	Context("progress bars", func() {
		It("should list open bars", func() {
			bar := m.CreateProgressBar("ticks", 10)
			bar.IncrementInProgress(3)
			bar.MoveInProgressToFinished(2)

			rec := serve("/api/progress")

			views := []progressBarView{}
			Expect(json.Unmarshal(rec.Body.Bytes(), &views)).To(Succeed())
			Expect(views).To(HaveLen(1))
			Expect(views[0].Name).To(Equal("ticks"))
			Expect(views[0].Finished).To(Equal(uint64(2)))
			Expect(views[0].InProgress).To(Equal(uint64(1)))

			m.CompleteProgressBar(bar)

			rec = serve("/api/progress")
			Expect(rec.Body.String()).To(Equal("[]"))
		})

		It("should not move more than in progress", func() {
			bar := NewProgressBar("b", 5)
			bar.IncrementInProgress(1)
			bar.MoveInProgressToFinished(4)
			bar.IncrementFinished(1)

			Expect(bar.view().Finished).To(Equal(uint64(2)))
			Expect(bar.view().InProgress).To(BeZero())
			Expect(bar.ID).NotTo(Equal(NewProgressBar("b", 5).ID))
		})
	})

	Context("metrics", func() {
		It("should expose the registry", func() {
			hook := NewMetricsHook()
			m.WithRegistry(hook.Registry())
			hook.Func(sim.HookCtx{Pos: sim.HookPosTickEnd, Item: sampleSnapshot(1)})

			rec := serve("/metrics")

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring("intersim_ticks_total 1"))
		})

		It("should not serve metrics without a registry", func() {
			Expect(serve("/metrics").Code).To(Equal(http.StatusNotFound))
		})

		It("should serve the dashboard from disk in development mode", func() {
			GinkgoT().Setenv(web.DevModeEnv, "1")

			rec := serve("/")

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Cache-Control")).To(Equal("no-store"))
			Expect(rec.Body.String()).To(HavePrefix("<!DOCTYPE html>"))
		})
	})

	Context("server", func() {
		It("should serve the dashboard on a random port", func() {
			url, err := m.StartServer()
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(m.Shutdown, context.Background())

			Expect(m.URL()).To(Equal(url))

			rsp, err := http.Get(url + "/index.html")
			Expect(err).NotTo(HaveOccurred())
			defer rsp.Body.Close()
			Expect(rsp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should not open a browser before the server starts", func() {
			Expect(m.OpenBrowser()).To(MatchError(ErrServerNotStarted))
		})

		It("should refuse privileged ports", func() {
			m.WithPortNumber(80)

			Expect(m.portNumber).To(BeZero())
		})
	})
})
