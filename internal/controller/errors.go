package controller

import "errors"

// Domain errors for the controller package.
var (
	// ErrControllerNotFound is returned when a controller ID does not exist.
	ErrControllerNotFound = errors.New("controller: not found")

	// ErrControllerExists is returned when the ID or host:port is already registered.
	ErrControllerExists = errors.New("controller: already exists")

	// ErrInvalidController is returned when validation fails.
	ErrInvalidController = errors.New("controller: invalid")

	// ErrDecrypt is returned when a stored secret cannot be opened with the
	// configured key.
	ErrDecrypt = errors.New("controller: cannot decrypt stored secret")
)
