package deepdive

import "errors"

// ErrDuplicateTask is returned when a task with the same
// (symbol, date, session) key already exists. Callers treat it as a benign
// skip, never as a failure.
var ErrDuplicateTask = errors.New("deep-dive task already exists")

// ErrBudgetExceeded is returned when an admission attempt finds no remaining
// budget. The candidate is deferred to a later session or day, not failed.
var ErrBudgetExceeded = errors.New("deep-dive budget exceeded")

// ErrInvalidTransition is returned when a task status change violates the
// transition table.
var ErrInvalidTransition = errors.New("invalid deep-dive task status transition")

// ErrTaskNotFound is returned when a task key does not exist.
var ErrTaskNotFound = errors.New("deep-dive task not found")
