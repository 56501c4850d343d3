package sim

import (
	"go.uber.org/zap"
)

// TickLogger is a hook that writes one line per tick and one line per lane
// that lost its result.
type TickLogger struct {
	logger *zap.Logger
}

var _ Hook = (*TickLogger)(nil)

// NewTickLogger returns a TickLogger that writes to a "tick" child of logger.
func NewTickLogger(logger *zap.Logger) *TickLogger {
	return &TickLogger{logger: logger.Named("tick")}
}

// Func writes the tick information into the logger
func (h *TickLogger) Func(ctx HookCtx) {
	switch ctx.Pos {
	case HookPosTickEnd:
		snapshot, ok := ctx.Item.(*TrafficSnapshot)
		if !ok {
			return
		}

		h.logger.Debug("tick completed",
			zap.Uint64("tick", snapshot.Tick),
			zap.Uint64("cycle", snapshot.Cycle),
			zap.String("phase", string(snapshot.Phase)),
			zap.Int("queued", snapshot.QueuedVehicles()),
			zap.Uint64("crossed", snapshot.Stats.TotalVehicles),
			zap.Int("events", len(snapshot.Events)),
		)
	case HookPosLaneDegraded:
		lane, _ := ctx.Item.(LaneID)
		reason, _ := ctx.Detail.(string)

		h.logger.Warn("lane produced no result this tick",
			zap.String("lane", string(lane)),
			zap.String("reason", reason),
		)
	}
}
