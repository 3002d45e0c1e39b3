package network

import (
	"time"

	"go.uber.org/zap"
)

// SendMessage queues a message for the periodic dispatcher. Broadcast and
// direct sends publish distinct events so observers can tell them apart.
func (c *Coordinator) SendMessage(msg *Message) {
	if msg == nil {
		return
	}
	c.enqueueMessage(msg)

	eventType := EventMessageSent
	if msg.IsBroadcast() {
		eventType = EventMessageBroadcast
	}
	c.bus.Publish(Event{
		Type:    eventType,
		Worker:  msg.From,
		Payload: map[string]any{"message_id": msg.ID, "to": msg.To, "message_type": string(msg.Type)},
	})
}

func (c *Coordinator) enqueueMessage(msg *Message) {
	c.msgMu.Lock()
	c.messages = append(c.messages, msg)
	pending := len(c.messages)
	c.msgMu.Unlock()

	if c.collector != nil {
		c.collector.SetPendingMessages(pending)
	}
}

// PendingMessages returns the number of undelivered messages.
func (c *Coordinator) PendingMessages() int {
	c.msgMu.Lock()
	defer c.msgMu.Unlock()
	return len(c.messages)
}

func (c *Coordinator) dispatchLoop() {
	ticker := time.NewTicker(c.config.DispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.DispatchNext()
		case <-c.stopCh:
			return
		}
	}
}

// DispatchNext delivers at most one queued message, oldest first. Returns
// false when the queue is empty.
func (c *Coordinator) DispatchNext() bool {
	c.msgMu.Lock()
	if len(c.messages) == 0 {
		c.msgMu.Unlock()
		return false
	}
	msg := c.messages[0]
	c.messages = c.messages[1:]
	pending := len(c.messages)
	c.msgMu.Unlock()

	if c.collector != nil {
		c.collector.SetPendingMessages(pending)
	}

	switch msg.Type {
	case MessageTypeHealth:
		if node, ok := c.Node(msg.From); ok {
			node.TouchHealth()
			if status, ok := msg.Payload["status"].(string); ok && status != "" {
				// Busy is derived from load and never a settable base status;
				// anything outside the base set would wedge the node.
				switch s := NodeStatus(status); s {
				case NodeStatusActive, NodeStatusInactive, NodeStatusError:
					node.SetStatus(s)
				default:
					c.logger.Warn("ignoring invalid status in health message",
						zap.String("from", msg.From),
						zap.String("status", status),
					)
				}
			}
		}

	case MessageTypeDiscovery:
		c.bus.Publish(Event{
			Type:    EventDiscovery,
			Worker:  msg.From,
			Payload: msg.Payload,
		})
		c.logger.Debug("discovery message dispatched",
			zap.String("from", msg.From),
			zap.String("message_id", msg.ID),
		)

	default:
		c.bus.Publish(Event{
			Type:   EventMessageReceived,
			Worker: msg.To,
			Payload: map[string]any{
				"message_id":   msg.ID,
				"from":         msg.From,
				"to":           msg.To,
				"message_type": string(msg.Type),
				"payload":      msg.Payload,
			},
		})
	}

	return true
}
