package sentinel

import "errors"

// ErrNotFound is returned, optionally wrapped, by stores when an entity does
// not exist. Services translate it into a domain error at the boundary so
// storage packages stay free of HTTP-facing concerns.
var ErrNotFound = errors.New("not found")
