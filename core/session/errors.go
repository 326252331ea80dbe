package session

import "errors"

// ErrNoStationFound is returned when the resolver exhausted its retries
// without finding a candidate station near the plug-in coordinate.
var ErrNoStationFound = errors.New("session: no station found near plug-in location")

// ErrSessionNotFound is returned when a stop or status request references a
// session id with no persisted record.
var ErrSessionNotFound = errors.New("session: session not found")
