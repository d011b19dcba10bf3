package mqtt

import "fmt"

// Subscribe registers a handler for a topic pattern (wildcards allowed).
//
// The subscription is remembered and re-applied on every connect, so it
// may be made while the broker is unreachable; in that case nil is
// returned and the broker sees it on the next connect.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{topic: topic, qos: qos, handler: handler}
	c.subMu.Unlock()

	if !c.IsConnected() {
		return nil
	}
	if err := await(c.client.Subscribe(topic, qos, c.wrapHandler(handler))); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	return nil
}

// Unsubscribe forgets a subscription and removes it from the broker when
// connected.
func (c *Client) Unsubscribe(topic string) {
	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()

	if c.IsConnected() {
		c.client.Unsubscribe(topic).WaitTimeout(defaultPublishTimeout)
	}
}

// SubscriptionCount returns the number of remembered subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}
