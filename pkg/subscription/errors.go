package subscription

import "errors"

var (
	// ErrRecordNotFound is returned when a user has no subscription record
	ErrRecordNotFound = errors.New("subscription record not found")

	// ErrQuotaExceeded is returned when the proposal quota for the period is used up
	ErrQuotaExceeded = errors.New("proposal quota exceeded")

	// ErrInvalidRecord is returned for records missing required fields
	ErrInvalidRecord = errors.New("invalid subscription record")
)
