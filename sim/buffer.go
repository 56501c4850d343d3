package sim

// A VehicleBuffer is an unbounded fifo queue of vehicles. It is not safe for
// concurrent use; the owning Lane serializes access.
type VehicleBuffer interface {
	Push(v *Vehicle)
	Pop() *Vehicle
	Peek() *Vehicle
	Size() int

	// Elements returns a copy of the queued vehicles, oldest first.
	Elements() []*Vehicle

	// Remove all elements in the buffer
	Clear()
}

// NewVehicleBuffer creates a default buffer object.
func NewVehicleBuffer() VehicleBuffer {
	return &vehicleBufferImpl{}
}

type vehicleBufferImpl struct {
	elements []*Vehicle
}

func (b *vehicleBufferImpl) Push(v *Vehicle) {
	b.elements = append(b.elements, v)
}

func (b *vehicleBufferImpl) Pop() *Vehicle {
	if len(b.elements) == 0 {
		return nil
	}

	v := b.elements[0]
	b.elements[0] = nil
	b.elements = b.elements[1:]

	return v
}

func (b *vehicleBufferImpl) Peek() *Vehicle {
	if len(b.elements) == 0 {
		return nil
	}

	return b.elements[0]
}

func (b *vehicleBufferImpl) Size() int {
	return len(b.elements)
}

func (b *vehicleBufferImpl) Elements() []*Vehicle {
	out := make([]*Vehicle, len(b.elements))
	copy(out, b.elements)

	return out
}

func (b *vehicleBufferImpl) Clear() {
	b.elements = nil
}
