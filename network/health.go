package network

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/consultnet/consultnet/types"
)

// recoveryProbeTimeout bounds the synthetic probe execution during
// automatic recovery.
const recoveryProbeTimeout = 5 * time.Second

func (c *Coordinator) healthLoop() {
	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.RunHealthTick()
		case <-c.stopCh:
			return
		}
	}
}

// RunHealthTick performs one health monitoring pass over all nodes. A node
// whose last health check is older than the stale threshold is marked
// unhealthy exactly once; a node that has sat in the error state for longer
// than the threshold gets a recovery probe.
func (c *Coordinator) RunHealthTick() {
	for _, node := range c.nodeList() {
		status := node.Status()
		stale := time.Since(node.LastHealthCheck()) > c.config.StaleThreshold

		switch {
		case status != NodeStatusError && stale:
			node.SetStatus(NodeStatusError)
			if c.collector != nil {
				c.collector.RecordStatusTransition(node.Name(), string(NodeStatusError))
			}
			c.bus.Publish(Event{
				Type:   EventAgentUnhealthy,
				Worker: node.Name(),
				Error:  "health check overdue",
			})
			c.logger.Warn("agent marked unhealthy",
				zap.String("worker", node.Name()),
				zap.Duration("since_last_check", time.Since(node.LastHealthCheck())),
			)

		case status == NodeStatusError && node.StatusAge() > c.config.StaleThreshold:
			c.attemptRecovery(node)
		}
	}
}

// attemptRecovery probes an errored node with a synthetic task. Success
// restores the node to active; failure leaves it in error so a later tick
// tries again.
func (c *Coordinator) attemptRecovery(node *AgentNode) {
	ctx, cancel := context.WithTimeout(context.Background(), recoveryProbeTimeout)
	defer cancel()

	desc := &types.TaskDescription{Question: "health_check"}
	res, err := node.Worker().Execute(ctx, desc)
	if err != nil || res == nil || !res.Success {
		c.logger.Warn("agent recovery probe failed",
			zap.String("worker", node.Name()),
			zap.Error(err),
		)
		return
	}

	node.SetStatus(NodeStatusActive)
	node.TouchHealth()
	if c.collector != nil {
		c.collector.RecordStatusTransition(node.Name(), string(NodeStatusActive))
	}
	c.bus.Publish(Event{Type: EventAgentRecovered, Worker: node.Name()})
	c.logger.Info("agent recovered", zap.String("worker", node.Name()))
}
