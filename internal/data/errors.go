package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// ErrJobNotFound is returned when a job is not found.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotDead is returned when an operator requeues a job outside the dead set.
	ErrJobNotDead = errors.New("job is not in the dead set")

	// ErrTenantNotFound is returned when no tenant row matches.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrResultNotFound is returned when a job has no stored result.
	ErrResultNotFound = errors.New("enhancement result not found")
	ErrJobIDRequired  = errors.New("job_id is required")
)
