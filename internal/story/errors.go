package story

import "errors"

// ErrNotFound is returned by the store when an entity does not exist or is
// not visible to the requesting owner.
var ErrNotFound = errors.New("not found")
