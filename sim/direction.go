package sim

// LaneID identifies one of the four approaches of the intersection.
type LaneID string

// The four approaches.
const (
	North LaneID = "N"
	South LaneID = "S"
	East  LaneID = "E"
	West  LaneID = "W"
)

// AllLanes lists the lanes in their canonical order. Every loop that has an
// observable effect (arrivals, events, ids) walks lanes in this order.
var AllLanes = []LaneID{North, South, East, West}

// Name returns the long name of the lane.
func (l LaneID) Name() string {
	switch l {
	case North:
		return "NORTH"
	case South:
		return "SOUTH"
	case East:
		return "EAST"
	case West:
		return "WEST"
	default:
		return "UNKNOWN"
	}
}

// Valid tells whether l is one of the four lanes.
func (l LaneID) Valid() bool {
	switch l {
	case North, South, East, West:
		return true
	}

	return false
}

// Color is the signal shown to a lane.
type Color string

// Signal colors.
const (
	Red    Color = "RED"
	Yellow Color = "YELLOW"
	Green  Color = "GREEN"
)

// Phase is the state of the controller.
type Phase string

// The four phases, in cycle order.
const (
	PhaseNSGreen  Phase = "NS_GREEN"
	PhaseNSYellow Phase = "NS_YELLOW"
	PhaseEWGreen  Phase = "EW_GREEN"
	PhaseEWYellow Phase = "EW_YELLOW"
)

// Next returns the phase that follows p in the fixed cycle.
func (p Phase) Next() Phase {
	switch p {
	case PhaseNSGreen:
		return PhaseNSYellow
	case PhaseNSYellow:
		return PhaseEWGreen
	case PhaseEWGreen:
		return PhaseEWYellow
	default:
		return PhaseNSGreen
	}
}

// IsGreen tells whether p is one of the green phases.
func (p Phase) IsGreen() bool {
	return p == PhaseNSGreen || p == PhaseEWGreen
}

// PlanFor returns the colors of all four lanes in phase p. The lane pair that
// does not own the phase is always red.
func PlanFor(p Phase) map[LaneID]Color {
	ns, ew := Red, Red

	switch p {
	case PhaseNSGreen:
		ns = Green
	case PhaseNSYellow:
		ns = Yellow
	case PhaseEWGreen:
		ew = Green
	case PhaseEWYellow:
		ew = Yellow
	}

	return map[LaneID]Color{
		North: ns,
		South: ns,
		East:  ew,
		West:  ew,
	}
}
