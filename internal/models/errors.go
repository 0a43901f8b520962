package models

import "errors"

// Engine error taxonomy. Check with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidReward    = errors.New("invalid reward")
	ErrNothingToClaim   = errors.New("nothing to claim")
	ErrStoreUnavailable = errors.New("store unavailable")
)
