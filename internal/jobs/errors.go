package jobs

import "errors"

// ErrOutOfOrderUpdate is returned when an attempt is made to rewind a
// recovery cursor. Cursors only move forward; a rewind attempt is a bug
// signal in the caller, not a recoverable condition.
var ErrOutOfOrderUpdate = errors.New("recovery cursor update out of order")

// ErrInvalidTransition is returned when a job run status change violates the
// transition table.
var ErrInvalidTransition = errors.New("invalid job run status transition")

// ErrRunNotFound is returned when a job run id does not exist.
var ErrRunNotFound = errors.New("job run not found")

// ErrRunInFlight is returned when another attempt for the same family and
// date is still active. Callers that merely want the date covered treat it
// as a retry-later signal, not a failure.
var ErrRunInFlight = errors.New("run already in flight")
