package pubsub

import "errors"

// ErrClosed is returned when publishing or subscribing after Close.
var ErrClosed = errors.New("pubsub closed")
