package engines

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sarchlab/intersim/sim"
)

// A laneWorker owns one lane of the isolated engine. Nothing but the worker
// goroutine touches the lane; the coordinator talks to it through commands.
type laneWorker struct {
	lane      *sim.Lane
	inbound   <-chan Command
	outbound  chan<- Response
	poll      time.Duration
	logger    *zap.Logger
	domain    sim.Hookable
	invoke    func(ctx sim.HookCtx)
	idlePolls uint64
	now       func() time.Time
}

// run handles commands until STOP arrives or ctx is cancelled.
func (w *laneWorker) run(ctx context.Context) error {
	w.logger.Debug("lane worker started")

	timer := time.NewTimer(w.poll)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("lane worker cancelled",
				zap.Uint64("idle_polls", w.idlePolls))
			return nil
		case cmd := <-w.inbound:
			if cmd.Type == CmdStop {
				w.logger.Debug("lane worker stopped",
					zap.Uint64("idle_polls", w.idlePolls))
				return nil
			}

			rsp := w.handle(cmd)

			select {
			case w.outbound <- rsp:
			case <-ctx.Done():
				return nil
			}
		case <-timer.C:
			w.idlePolls++
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(w.poll)
	}
}

// handle turns a command into its response. A panic while handling becomes
// an ERROR response.
func (w *laneWorker) handle(cmd Command) (rsp Response) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("command handling panicked",
				zap.String("command", string(cmd.Type)),
				zap.Uint64("seq", cmd.Seq),
				zap.Any("panic", r),
			)

			rsp = NewErrorResponse(cmd, fmt.Sprintf("panic: %v", r))
		}
	}()

	w.invoke(sim.HookCtx{
		Domain: w.domain,
		Pos:    sim.HookPosBeforeCommand,
		Item:   cmd,
	})

	if err := cmd.Validate(); err != nil {
		return NewErrorResponse(cmd, err.Error())
	}

	if cmd.Lane != w.lane.ID() {
		return NewErrorResponse(cmd,
			fmt.Sprintf("command for lane %s sent to lane %s",
				cmd.Lane, w.lane.ID()))
	}

	switch cmd.Type {
	case CmdSetColor:
		w.lane.SetColor(cmd.SetColor.Color)
		return NewAckResponse(cmd)
	case CmdEnqueueVehicle:
		v := sim.NewVehicle(cmd.Enqueue.VehicleID, cmd.Enqueue.ArrivalTime)
		w.lane.Enqueue(v)
		return NewAckResponse(cmd)
	case CmdTick:
		return w.dispatch(cmd)
	case CmdGetState:
		return NewStateResponse(cmd, w.lane.State())
	}

	return NewErrorResponse(cmd, "unsupported command "+string(cmd.Type))
}

func (w *laneWorker) dispatch(cmd Command) Response {
	w.invoke(sim.HookCtx{
		Domain: w.domain,
		Pos:    sim.HookPosBeforeDispatch,
		Item:   w.lane.ID(),
	})

	vehicles := w.lane.DispatchTick()

	now := w.now()
	ids := make([]uint64, 0, len(vehicles))
	waits := make([]float64, 0, len(vehicles))
	for _, v := range vehicles {
		ids = append(ids, v.ID)
		waits = append(waits, v.WaitSeconds(now))
	}

	return NewDispatchResponse(cmd, ids, waits)
}
