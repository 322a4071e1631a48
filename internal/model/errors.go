package model

import "errors"

var (
	// ErrJobNotFound is returned for ids that were never issued or have been evicted
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when a state change would move a job backwards
	// or out of a terminal state
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrJobNotCompleted is returned when a result is requested before the job completed
	ErrJobNotCompleted = errors.New("job not completed")
)
