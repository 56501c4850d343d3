package sim

import "time"

// A Vehicle is a car that arrives at a lane, waits and crosses.
type Vehicle struct {
	ID            uint64
	ArrivalTime   time.Time
	WaitStartTime time.Time
	DepartureTime time.Time
}

// NewVehicle creates a vehicle that arrives at the given time.
func NewVehicle(id uint64, arrival time.Time) *Vehicle {
	return &Vehicle{
		ID:          id,
		ArrivalTime: arrival,
	}
}

// MarkWaitStart records the time the vehicle joined a queue. Only the first
// call has an effect.
func (v *Vehicle) MarkWaitStart(now time.Time) {
	if v.WaitStartTime.IsZero() {
		v.WaitStartTime = now
	}
}

// MarkDeparture records the time the vehicle crossed. Only the first call has
// an effect. The departure is never earlier than the wait start.
func (v *Vehicle) MarkDeparture(now time.Time) {
	if !v.DepartureTime.IsZero() {
		return
	}

	if now.Before(v.WaitStartTime) {
		now = v.WaitStartTime
	}

	v.DepartureTime = now
}

// Departed tells whether the vehicle has crossed.
func (v *Vehicle) Departed() bool {
	return !v.DepartureTime.IsZero()
}

// WaitSeconds returns how long the vehicle waited. For a vehicle still in the
// queue the wait is measured up to now.
func (v *Vehicle) WaitSeconds(now time.Time) float64 {
	if v.WaitStartTime.IsZero() {
		return 0
	}

	end := now
	if v.Departed() {
		end = v.DepartureTime
	}

	return end.Sub(v.WaitStartTime).Seconds()
}
