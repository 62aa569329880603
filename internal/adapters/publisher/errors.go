package publisher

import "errors"

// ErrEmptyID is returned for an envelope without an id; ids are what makes a
// publish idempotent.
var ErrEmptyID = errors.New("envelope id is empty")
