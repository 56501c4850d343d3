package engines

import (
	"errors"
	"fmt"
	"time"

	"github.com/sarchlab/intersim/sim"
)

// CommandType names what a lane worker is asked to do.
type CommandType string

// Command types.
const (
	CmdSetColor       CommandType = "SET_COLOR"
	CmdEnqueueVehicle CommandType = "ENQUEUE_VEHICLE"
	CmdTick           CommandType = "TICK"
	CmdGetState       CommandType = "GET_STATE"
	CmdStop           CommandType = "STOP"
)

// ResponseType names what a lane worker reports back.
type ResponseType string

// Response types.
const (
	RespAck            ResponseType = "ACK"
	RespDispatchResult ResponseType = "DISPATCH_RESULT"
	RespStateResult    ResponseType = "STATE_RESULT"
	RespError          ResponseType = "ERROR"
)

// ErrMalformedMessage is returned by Validate when a message's payload does
// not match its type.
var ErrMalformedMessage = errors.New("malformed message")

// SetColorPayload carries the new signal of a lane.
type SetColorPayload struct {
	Color sim.Color `json:"color"`
}

// EnqueuePayload carries a vehicle that arrives at a lane.
type EnqueuePayload struct {
	VehicleID   uint64    `json:"vehicle_id"`
	ArrivalTime time.Time `json:"arrival_time"`
}

// DispatchPayload lists the vehicles that crossed in one tick, oldest first,
// together with how long each of them waited.
type DispatchPayload struct {
	VehicleIDs  []uint64  `json:"vehicle_ids"`
	WaitSeconds []float64 `json:"wait_seconds"`
}

// ErrorPayload explains why a command failed.
type ErrorPayload struct {
	Command CommandType `json:"command"`
	Message string      `json:"message"`
}

// A Command is sent by the coordinator to exactly one lane. At most one of
// the payload fields is set, depending on Type.
type Command struct {
	Type CommandType `json:"type"`
	Lane sim.LaneID  `json:"lane"`
	Seq  uint64      `json:"seq"`

	SetColor *SetColorPayload `json:"set_color,omitempty"`
	Enqueue  *EnqueuePayload  `json:"enqueue,omitempty"`
}

// NewSetColorCommand creates a SET_COLOR command.
func NewSetColorCommand(lane sim.LaneID, seq uint64, c sim.Color) Command {
	return Command{
		Type:     CmdSetColor,
		Lane:     lane,
		Seq:      seq,
		SetColor: &SetColorPayload{Color: c},
	}
}

// NewEnqueueCommand creates an ENQUEUE_VEHICLE command.
func NewEnqueueCommand(lane sim.LaneID, seq uint64, v *sim.Vehicle) Command {
	return Command{
		Type: CmdEnqueueVehicle,
		Lane: lane,
		Seq:  seq,
		Enqueue: &EnqueuePayload{
			VehicleID:   v.ID,
			ArrivalTime: v.ArrivalTime,
		},
	}
}

// NewTickCommand creates a TICK command.
func NewTickCommand(lane sim.LaneID, seq uint64) Command {
	return Command{Type: CmdTick, Lane: lane, Seq: seq}
}

// NewGetStateCommand creates a GET_STATE command.
func NewGetStateCommand(lane sim.LaneID, seq uint64) Command {
	return Command{Type: CmdGetState, Lane: lane, Seq: seq}
}

// NewStopCommand creates a STOP command.
func NewStopCommand(lane sim.LaneID, seq uint64) Command {
	return Command{Type: CmdStop, Lane: lane, Seq: seq}
}

// Validate checks that the command targets a real lane and carries the
// payload of its type and no other.
func (c Command) Validate() error {
	if !c.Lane.Valid() {
		return fmt.Errorf("%w: command %s for unknown lane %q",
			ErrMalformedMessage, c.Type, c.Lane)
	}

	hasColor := c.SetColor != nil
	hasEnqueue := c.Enqueue != nil

	switch c.Type {
	case CmdSetColor:
		if !hasColor || hasEnqueue {
			return c.payloadError()
		}
	case CmdEnqueueVehicle:
		if !hasEnqueue || hasColor {
			return c.payloadError()
		}
	case CmdTick, CmdGetState, CmdStop:
		if hasColor || hasEnqueue {
			return c.payloadError()
		}
	default:
		return fmt.Errorf("%w: unknown command type %q",
			ErrMalformedMessage, c.Type)
	}

	return nil
}

func (c Command) payloadError() error {
	return fmt.Errorf("%w: command %s has the wrong payload",
		ErrMalformedMessage, c.Type)
}

// ExpectedResponse returns the response type a successful command produces.
// STOP produces no response.
func (c Command) ExpectedResponse() (ResponseType, bool) {
	switch c.Type {
	case CmdSetColor, CmdEnqueueVehicle:
		return RespAck, true
	case CmdTick:
		return RespDispatchResult, true
	case CmdGetState:
		return RespStateResult, true
	}

	return "", false
}

// A Response is sent by a lane worker to the coordinator. It repeats the lane
// and Seq of the command it answers.
type Response struct {
	Type    ResponseType `json:"type"`
	Lane    sim.LaneID   `json:"lane"`
	Seq     uint64       `json:"seq"`
	Success bool         `json:"success"`

	Dispatch *DispatchPayload `json:"dispatch,omitempty"`
	State    *sim.LaneState   `json:"state,omitempty"`
	Err      *ErrorPayload    `json:"error,omitempty"`
}

// NewAckResponse acknowledges a command.
func NewAckResponse(cmd Command) Response {
	return Response{Type: RespAck, Lane: cmd.Lane, Seq: cmd.Seq, Success: true}
}

// NewDispatchResponse reports the vehicles a TICK let cross.
func NewDispatchResponse(
	cmd Command,
	ids []uint64,
	waits []float64,
) Response {
	return Response{
		Type:    RespDispatchResult,
		Lane:    cmd.Lane,
		Seq:     cmd.Seq,
		Success: true,
		Dispatch: &DispatchPayload{
			VehicleIDs:  ids,
			WaitSeconds: waits,
		},
	}
}

// NewStateResponse reports the state of a lane.
func NewStateResponse(cmd Command, state sim.LaneState) Response {
	return Response{
		Type:    RespStateResult,
		Lane:    cmd.Lane,
		Seq:     cmd.Seq,
		Success: true,
		State:   &state,
	}
}

// NewErrorResponse reports that a command could not be handled.
func NewErrorResponse(cmd Command, message string) Response {
	return Response{
		Type:    RespError,
		Lane:    cmd.Lane,
		Seq:     cmd.Seq,
		Success: false,
		Err: &ErrorPayload{
			Command: cmd.Type,
			Message: message,
		},
	}
}

// Validate checks that the response carries the payload of its type and no
// other.
func (r Response) Validate() error {
	if !r.Lane.Valid() {
		return fmt.Errorf("%w: response %s from unknown lane %q",
			ErrMalformedMessage, r.Type, r.Lane)
	}

	n := 0
	for _, set := range []bool{r.Dispatch != nil, r.State != nil, r.Err != nil} {
		if set {
			n++
		}
	}

	var ok bool
	switch r.Type {
	case RespAck:
		ok = n == 0 && r.Success
	case RespDispatchResult:
		ok = n == 1 && r.Dispatch != nil && r.Success &&
			len(r.Dispatch.VehicleIDs) == len(r.Dispatch.WaitSeconds)
	case RespStateResult:
		ok = n == 1 && r.State != nil && r.Success
	case RespError:
		ok = n == 1 && r.Err != nil && !r.Success
	default:
		return fmt.Errorf("%w: unknown response type %q",
			ErrMalformedMessage, r.Type)
	}

	if !ok {
		return fmt.Errorf("%w: response %s has the wrong payload",
			ErrMalformedMessage, r.Type)
	}

	return nil
}

// ErrorMessage returns the failure reason of an ERROR response.
func (r Response) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}

	return r.Err.Message
}
