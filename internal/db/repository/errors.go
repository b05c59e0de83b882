package repository

import "errors"

var (
	// ErrNotFound is returned when the requested row does not exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyActive is returned when an activation loses against an active record
	ErrAlreadyActive = errors.New("credential already active")
	// ErrNotActive is returned when a revocation finds no active record
	ErrNotActive = errors.New("credential not active")
)
