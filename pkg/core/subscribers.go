// Copyright 2025 QNet Project

package core

import (
	"context"

	"github.com/qnet-project/qnet-core/pkg/lifecycle"
)

// consumeViolations is C4's subscriber side of the eventbus decoupling:
// it never imports pkg/consensus, it only reacts to the events C5 (or any
// future violation source) publishes.
func (c *Core) consumeViolations(ctx context.Context) {
	events, unsubscribe := c.bus.SubscribeViolations()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-events:
			if !ok {
				return
			}
			record, err := c.registry.ApplyViolation(v.NodeID, lifecycle.ViolationType(v.Type), v.Description)
			if err != nil {
				c.logger.Printf("core: applying violation %s for %s: %v", v.Type, v.NodeID, err)
				continue
			}
			c.metrics.ViolationsTotal.WithLabelValues(v.Type).Inc()
			recordActionMetric(c, record.ActionTaken)
		}
	}
}

func recordActionMetric(c *Core, action lifecycle.PenaltyAction) {
	switch action {
	case lifecycle.ActionNetworkExclusion:
		c.metrics.ExclusionsTotal.Inc()
	case lifecycle.ActionTemporaryBan, lifecycle.ActionConsensusBan, lifecycle.ActionPermanentBan:
		c.metrics.BansTotal.WithLabelValues(string(action)).Inc()
	}
}

// consumeRoundOutcomes records every completed round's outcome into
// telemetry, so microblock/round pacing is observable without the round
// driver itself depending on pkg/telemetry directly.
func (c *Core) consumeRoundOutcomes(ctx context.Context) {
	outcomes, unsubscribe := c.bus.SubscribeRoundOutcomes()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-outcomes:
			if !ok {
				return
			}
			c.metrics.RoundsTotal.WithLabelValues(sealedLabel(ev.Sealed)).Inc()
			if ev.Sealed {
				c.metrics.MicroblocksTotal.WithLabelValues("sealed").Inc()
			} else {
				c.metrics.MicroblocksTotal.WithLabelValues("failed").Inc()
				c.logger.Printf("core: round %d did not seal: %s", ev.Round, ev.Reason)
			}
		}
	}
}

func sealedLabel(sealed bool) string {
	if sealed {
		return "true"
	}
	return "false"
}
