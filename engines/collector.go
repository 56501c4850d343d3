package engines

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sarchlab/intersim/sim"
)

// A collector reads the responses of one request round from the shared
// response channel.
type collector struct {
	responses <-chan Response
	logger    *zap.Logger

	// onUnclaimed is called with every well-formed response that no one
	// waits for: answers of earlier rounds and answers from lanes that were
	// given up in this round.
	onUnclaimed func(rsp Response)
}

// collect waits until every lane in lanes has answered the round seq, or until
// the timeout passes. Responses from other rounds or from lanes that are not
// waited on go to onUnclaimed. Responses of an unexpected type are dropped.
// A lane that answers with an ERROR, or not at all, appears in the failed map.
func (c *collector) collect(
	ctx context.Context,
	seq uint64,
	want ResponseType,
	lanes []sim.LaneID,
	timeout time.Duration,
) (got map[sim.LaneID]Response, failed map[sim.LaneID]string) {
	got = make(map[sim.LaneID]Response, len(lanes))
	failed = make(map[sim.LaneID]string)

	pending := make(map[sim.LaneID]bool, len(lanes))
	for _, lane := range lanes {
		pending[lane] = true
	}

	if len(pending) == 0 {
		return got, failed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for len(pending) > 0 {
		select {
		case rsp := <-c.responses:
			if !c.accept(rsp, seq, want, pending) {
				continue
			}

			delete(pending, rsp.Lane)

			if rsp.Type == RespError {
				failed[rsp.Lane] = rsp.ErrorMessage()
				continue
			}

			got[rsp.Lane] = rsp
		case <-timer.C:
			c.failPending(pending, failed, "no "+string(want)+" before timeout")
			return got, failed
		case <-ctx.Done():
			c.failPending(pending, failed, "engine stopping")
			return got, failed
		}
	}

	return got, failed
}

func (c *collector) accept(
	rsp Response,
	seq uint64,
	want ResponseType,
	pending map[sim.LaneID]bool,
) bool {
	if err := rsp.Validate(); err != nil {
		c.logger.Debug("dropping malformed response", zap.Error(err))
		return false
	}

	if rsp.Seq != seq {
		c.logger.Debug("dropping stale response",
			zap.String("lane", string(rsp.Lane)),
			zap.String("type", string(rsp.Type)),
			zap.Uint64("seq", rsp.Seq),
			zap.Uint64("want_seq", seq),
		)

		c.unclaimed(rsp)

		return false
	}

	if !pending[rsp.Lane] {
		c.logger.Debug("response from a lane not waited on",
			zap.String("lane", string(rsp.Lane)),
			zap.String("type", string(rsp.Type)),
		)

		c.unclaimed(rsp)

		return false
	}

	if rsp.Type != want && rsp.Type != RespError {
		c.logger.Debug("dropping response of the wrong type",
			zap.String("lane", string(rsp.Lane)),
			zap.String("type", string(rsp.Type)),
			zap.String("want", string(want)),
		)
		return false
	}

	return true
}

func (c *collector) unclaimed(rsp Response) {
	if c.onUnclaimed != nil {
		c.onUnclaimed(rsp)
	}
}

func (c *collector) failPending(
	pending map[sim.LaneID]bool,
	failed map[sim.LaneID]string,
	reason string,
) {
	for lane := range pending {
		failed[lane] = reason
	}
}
