package mqtt

import (
	"fmt"
)

// Maximum payload size for MQTT messages (1MB).
const maxPayloadSize = 1 << 20

// Publish sends a payload to a destination under the root topic.
//
// The configured QoS is used. The call waits for the broker's
// acknowledgement for at most the ack timeout.
//
// Retained Messages:
//   - When true, broker stores the last message for each topic
//   - Use for state and status destinations, never for commands
//
// Returns:
//   - ErrNotConnected if there is no session
//   - ErrTimeout (wrapped) if the broker does not acknowledge in time
//   - ErrPublishFailed (wrapped) if the broker rejects the publish
func (c *Client) Publish(destination string, payload []byte, retained bool) error {
	if destination == "" {
		return ErrInvalidTopic
	}
	return c.publishTopic(c.topics.Join(destination), payload, retained)
}

func (c *Client) publishTopic(topic string, payload []byte, retained bool) error {
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.current().Publish(topic, c.qos(), retained, payload)
	if !token.WaitTimeout(c.ack) {
		return fmt.Errorf("%w: publish to %s not acknowledged after %v", ErrTimeout, topic, c.ack)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}
