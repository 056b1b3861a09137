package queue

import "errors"

// ErrInvalidState is returned when an operator action is not allowed from
// the message's current status, e.g. cancelling an email that already went
// out or requeueing one that was delivered.
var ErrInvalidState = errors.New("queue: operation not allowed in current status")
