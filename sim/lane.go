package sim

import (
	"sync"
	"time"
)

// QueueEntry describes one vehicle waiting in a lane.
type QueueEntry struct {
	ID           uint64    `json:"id"`
	Position     int       `json:"position"`
	WaitingSince time.Time `json:"waiting_since"`
}

// LaneState is a point-in-time copy of a lane.
type LaneState struct {
	Lane        LaneID       `json:"lane"`
	Color       Color        `json:"color"`
	QueueLength int          `json:"queue_length"`
	Dispatched  uint64       `json:"dispatched"`
	Queue       []QueueEntry `json:"queue"`
}

// A Lane holds the queue and the signal of one approach. All methods are safe
// for concurrent use. The dispatch rule lives here and nowhere else, so both
// engines share it.
type Lane struct {
	lock sync.Mutex

	id              LaneID
	color           Color
	queue           VehicleBuffer
	capacityPerTick int
	dispatched      uint64
	now             func() time.Time
}

// NewLane creates a red lane with an empty queue.
func NewLane(id LaneID, capacityPerTick int) *Lane {
	return &Lane{
		id:              id,
		color:           Red,
		queue:           NewVehicleBuffer(),
		capacityPerTick: capacityPerTick,
		now:             time.Now,
	}
}

// WithClock replaces the wall clock used to stamp vehicles.
func (l *Lane) WithClock(now func() time.Time) *Lane {
	l.now = now
	return l
}

// ID returns the lane identity.
func (l *Lane) ID() LaneID {
	return l.id
}

// CapacityPerTick returns the maximum number of vehicles that leave the lane
// in one green tick.
func (l *Lane) CapacityPerTick() int {
	return l.capacityPerTick
}

// SetColor overwrites the signal. The queue is not touched.
func (l *Lane) SetColor(c Color) {
	l.lock.Lock()
	l.color = c
	l.lock.Unlock()
}

// Color returns the current signal.
func (l *Lane) Color() Color {
	l.lock.Lock()
	defer l.lock.Unlock()

	return l.color
}

// Enqueue appends the vehicle to the tail of the queue. Arrivals are never
// rejected.
func (l *Lane) Enqueue(v *Vehicle) {
	l.lock.Lock()
	defer l.lock.Unlock()

	v.MarkWaitStart(l.now())
	l.queue.Push(v)
}

// DispatchTick lets up to CapacityPerTick vehicles cross, oldest first, if the
// lane is green. It returns the vehicles that crossed.
func (l *Lane) DispatchTick() []*Vehicle {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.color != Green {
		return nil
	}

	n := l.capacityPerTick
	if size := l.queue.Size(); size < n {
		n = size
	}

	if n <= 0 {
		return nil
	}

	now := l.now()
	out := make([]*Vehicle, 0, n)
	for i := 0; i < n; i++ {
		v := l.queue.Pop()
		v.MarkDeparture(now)
		out = append(out, v)
	}

	l.dispatched += uint64(n)

	return out
}

// QueueLength returns the number of waiting vehicles.
func (l *Lane) QueueLength() int {
	l.lock.Lock()
	defer l.lock.Unlock()

	return l.queue.Size()
}

// Dispatched returns how many vehicles have crossed from this lane.
func (l *Lane) Dispatched() uint64 {
	l.lock.Lock()
	defer l.lock.Unlock()

	return l.dispatched
}

// QueueDetail returns a copy of the queue, head first.
func (l *Lane) QueueDetail() []QueueEntry {
	l.lock.Lock()
	defer l.lock.Unlock()

	return l.queueDetailLocked()
}

// State returns a copy of the lane.
func (l *Lane) State() LaneState {
	l.lock.Lock()
	defer l.lock.Unlock()

	return LaneState{
		Lane:        l.id,
		Color:       l.color,
		QueueLength: l.queue.Size(),
		Dispatched:  l.dispatched,
		Queue:       l.queueDetailLocked(),
	}
}

func (l *Lane) queueDetailLocked() []QueueEntry {
	elements := l.queue.Elements()
	detail := make([]QueueEntry, 0, len(elements))

	for i, v := range elements {
		detail = append(detail, QueueEntry{
			ID:           v.ID,
			Position:     i,
			WaitingSince: v.WaitStartTime,
		})
	}

	return detail
}
