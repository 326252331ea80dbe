package cloudwise

import "errors"

// ErrCommandRejected is returned when the network accepted the request but
// did not assign a command id.
var ErrCommandRejected = errors.New("cloudwise: command rejected, no command id returned")

// ErrNotFound is returned when a referenced session or location does not
// exist on the vendor side.
var ErrNotFound = errors.New("cloudwise: not found")
