package sim

import (
	"fmt"
	"time"
)

// EventKind names what happened in a tick.
type EventKind string

// Event kinds.
const (
	EventArrival     EventKind = "arrival"
	EventDispatch    EventKind = "dispatch"
	EventColorChange EventKind = "color_change"
)

// An Event is a discrete thing that happened during one tick.
type Event struct {
	Kind      EventKind `json:"kind"`
	Lane      LaneID    `json:"lane"`
	VehicleID uint64    `json:"vehicle_id,omitempty"`
	From      Color     `json:"from,omitempty"`
	To        Color     `json:"to,omitempty"`
}

func (e Event) String() string {
	switch e.Kind {
	case EventColorChange:
		return fmt.Sprintf("%s %s: %s -> %s", e.Kind, e.Lane, e.From, e.To)
	default:
		return fmt.Sprintf("%s %s: vehicle %d", e.Kind, e.Lane, e.VehicleID)
	}
}

// Transit is a vehicle that crossed in the current tick. Progress goes from
// 0 (exclusive) to 1 and only serves animation.
type Transit struct {
	ID       uint64  `json:"id"`
	Progress float64 `json:"progress"`
}

// ConfigEcho repeats the configuration a snapshot was produced with.
type ConfigEcho struct {
	GreenDuration      int           `json:"green_duration"`
	YellowDuration     int           `json:"yellow_duration"`
	CapacityPerTick    int           `json:"capacity_per_tick"`
	ArrivalProbability float64       `json:"arrival_probability"`
	TickInterval       time.Duration `json:"tick_interval"`
	MinCycles          int           `json:"min_cycles"`
	Seed               int64         `json:"seed"`
}

// A TrafficSnapshot is the state of the intersection after one tick. It is
// built once and never modified; all maps and slices belong to the snapshot.
type TrafficSnapshot struct {
	RunID  string `json:"run_id"`
	Engine string `json:"engine"`

	Tick  uint64 `json:"tick"`
	Cycle uint64 `json:"cycle"`
	Phase Phase  `json:"phase"`

	Colors       map[LaneID]Color        `json:"colors"`
	QueueLengths map[LaneID]int          `json:"queue_lengths"`
	QueueDetail  map[LaneID][]QueueEntry `json:"queue_detail"`
	InTransit    map[LaneID][]Transit    `json:"in_transit"`
	Events       []Event                 `json:"events"`

	PhaseTiming   PhaseTiming  `json:"phase_timing"`
	Stats         StatsSummary `json:"stats"`
	TotalArrivals uint64       `json:"total_arrivals"`
	DegradedLanes []LaneID     `json:"degraded_lanes,omitempty"`
	Config        ConfigEcho   `json:"config"`
}

// QueuedVehicles returns the number of vehicles waiting over all lanes.
func (s *TrafficSnapshot) QueuedVehicles() int {
	total := 0
	for _, n := range s.QueueLengths {
		total += n
	}

	return total
}

// IsDegraded tells whether some lane produced no result in this tick.
func (s *TrafficSnapshot) IsDegraded() bool {
	return len(s.DegradedLanes) > 0
}

// EventsOf returns the events of one kind, in order.
func (s *TrafficSnapshot) EventsOf(kind EventKind) []Event {
	var out []Event
	for _, e := range s.Events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}

	return out
}

func (s *TrafficSnapshot) String() string {
	return fmt.Sprintf("TrafficSnapshot(tick=%d, cycle=%d, phase=%s)",
		s.Tick, s.Cycle, s.Phase)
}
