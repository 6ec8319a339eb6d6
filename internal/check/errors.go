package check

import "errors"

// ErrEmptyRequest is returned when a child request neither changes the day type nor lifts a ban.
var ErrEmptyRequest = errors.New("request: nothing to ask for")

// errStale marks work whose generation was superseded; it never reaches callers.
var errStale = errors.New("check: superseded")
