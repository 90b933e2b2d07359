package game

import "errors"

// ErrGameNotFound is returned when no game row matches the given id.
var ErrGameNotFound = errors.New("game not found")
