package repository

import "errors"

var (
	// ErrRunNotFound indicates no run with the requested id is stored
	ErrRunNotFound = errors.New("run not found")

	// ErrInvalidRun indicates a record without an id
	ErrInvalidRun = errors.New("run has no id")
)
