package admin

import "errors"

var (
	ErrInvalidCapacity = errors.New("capacity must be positive")
	ErrInvalidFare     = errors.New("fare must be positive")
	ErrEmptyRoute      = errors.New("route must not be empty")
	ErrDepartsInPast   = errors.New("departure must be in the future")
)
