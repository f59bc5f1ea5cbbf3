package mqtt

import (
	"fmt"
)

// Subscribe registers a handler for a destination under the root topic.
//
// Subscriptions are tracked and restored on every Connect, so Subscribe
// may be called before the first connect. A second Subscribe for the same
// destination replaces the handler.
//
// Returns:
//   - error: nil on success, or wrapped ErrSubscribeFailed
func (c *Client) Subscribe(destination string, handler MessageHandler) error {
	if destination == "" {
		return ErrInvalidTopic
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	topic := c.topics.Join(destination)

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{topic: topic, handler: handler}
	c.subMu.Unlock()

	if !c.IsConnected() {
		return nil
	}

	token := c.current().Subscribe(topic, c.qos(), c.wrapHandler(handler))
	if !token.WaitTimeout(c.ack) {
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, c.ack)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	return nil
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription checks if a subscription exists for the given destination.
func (c *Client) HasSubscription(destination string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, exists := c.subscriptions[c.topics.Join(destination)]
	return exists
}
