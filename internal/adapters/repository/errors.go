package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrInvalidLimit = errors.New("invalid result limit")
	ErrCorrupt      = errors.New("stored record cannot be decoded")
)
