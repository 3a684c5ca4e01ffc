package recovery

import "errors"

// ErrCatchUpBlocked indicates a catch-up pass stopped because a day's run
// failed. Later dates of the same family and all later families stay pending
// until the next activation succeeds.
var ErrCatchUpBlocked = errors.New("catch-up blocked by failed run")
