package mqtt

import "errors"

var (
	// ErrNotConnected means the broker link is down. Subscriptions are still
	// accepted while offline; publishes are not.
	ErrNotConnected = errors.New("mqtt: broker not connected")

	// ErrConnectionFailed wraps the cause when Connect gives up.
	ErrConnectionFailed = errors.New("mqtt: connect failed")

	ErrPublishFailed   = errors.New("mqtt: publish failed")
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidTopic and ErrInvalidQoS reject arguments before any network
	// activity.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")
	ErrInvalidQoS   = errors.New("mqtt: qos must be 0, 1 or 2")
)
