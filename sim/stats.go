package sim

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// StatsSummary is a copy of the aggregated statistics.
type StatsSummary struct {
	TotalVehicles     uint64            `json:"total_vehicles"`
	AvgWaitSeconds    float64           `json:"avg_wait_seconds"`
	TotalWaitSeconds  float64           `json:"total_wait_seconds"`
	MaxWaitSeconds    float64           `json:"max_wait_seconds"`
	WaitStdDevSeconds float64           `json:"wait_stddev_seconds"`
	P95WaitSeconds    float64           `json:"p95_wait_seconds"`
	PerLane           map[LaneID]uint64 `json:"per_lane"`
}

// A StatsAggregator accumulates the vehicles that crossed the intersection.
// Counters only grow. It is safe for concurrent use.
type StatsAggregator struct {
	lock sync.Mutex

	total     uint64
	totalWait float64
	maxWait   float64
	waits     []float64
	perLane   map[LaneID]uint64
}

// NewStatsAggregator creates an empty aggregator.
func NewStatsAggregator() *StatsAggregator {
	s := &StatsAggregator{}
	s.resetLocked()

	return s
}

// Record adds the dispatched vehicles of one lane.
func (s *StatsAggregator) Record(vehicles []*Vehicle, lane LaneID) {
	if len(vehicles) == 0 {
		return
	}

	now := time.Now()
	waits := make([]float64, 0, len(vehicles))
	for _, v := range vehicles {
		waits = append(waits, v.WaitSeconds(now))
	}

	s.RecordWaits(lane, waits)
}

// RecordWaits adds one crossed vehicle per wait sample. It is used when only
// the facts about the vehicles are known, not the vehicles themselves.
func (s *StatsAggregator) RecordWaits(lane LaneID, waits []float64) {
	if len(waits) == 0 {
		return
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	for _, w := range waits {
		if w < 0 {
			w = 0
		}

		s.total++
		s.totalWait += w
		s.waits = append(s.waits, w)

		if w > s.maxWait {
			s.maxWait = w
		}
	}

	s.perLane[lane] += uint64(len(waits))
}

// TotalVehicles returns the number of vehicles recorded.
func (s *StatsAggregator) TotalVehicles() uint64 {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.total
}

// Summary returns a copy of the statistics.
func (s *StatsAggregator) Summary() StatsSummary {
	s.lock.Lock()
	defer s.lock.Unlock()

	summary := StatsSummary{
		TotalVehicles:    s.total,
		TotalWaitSeconds: s.totalWait,
		MaxWaitSeconds:   s.maxWait,
		PerLane:          make(map[LaneID]uint64, len(s.perLane)),
	}

	for lane, n := range s.perLane {
		summary.PerLane[lane] = n
	}

	if s.total == 0 {
		return summary
	}

	summary.AvgWaitSeconds = s.totalWait / float64(s.total)

	if len(s.waits) > 1 {
		summary.WaitStdDevSeconds = stat.StdDev(s.waits, nil)
	}

	sorted := make([]float64, len(s.waits))
	copy(sorted, s.waits)
	sort.Float64s(sorted)
	summary.P95WaitSeconds = stat.Quantile(0.95, stat.Empirical, sorted, nil)

	return summary
}

// Reset clears all the counters.
func (s *StatsAggregator) Reset() {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.resetLocked()
}

func (s *StatsAggregator) resetLocked() {
	s.total = 0
	s.totalWait = 0
	s.maxWait = 0
	s.waits = nil
	s.perLane = make(map[LaneID]uint64, len(AllLanes))

	for _, lane := range AllLanes {
		s.perLane[lane] = 0
	}
}
