package docstore

import "errors"

var (
	// ErrPITNotFound is returned when a search or close names a point in
	// time the store does not know, typically after its keep-alive lapsed.
	ErrPITNotFound = errors.New("point in time not found")
)
