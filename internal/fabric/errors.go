package fabric

import "errors"

var (
	// ErrNotConnected is returned by publish operations while the broker
	// connection is down. Callers treat it as a transient failure.
	ErrNotConnected = errors.New("fabric: not connected to broker")

	// ErrClientClosed is returned by operations on a shut-down client.
	ErrClientClosed = errors.New("fabric: client is closed")

	// ErrNoHandler is returned when a delivery's routing key matches no
	// registered handler; the message is rejected without requeue.
	ErrNoHandler = errors.New("fabric: no handler for routing key")
)
