package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the store
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExists is returned when creating a job whose id is already taken
	ErrJobExists = errors.New("job already exists")

	// ErrJobTerminal is returned when a status change targets a job that already finished
	ErrJobTerminal = errors.New("job already in a terminal state")

	// ErrJobNotFinished is returned when a result is requested before the job finished
	ErrJobNotFinished = errors.New("job not finished")

	// ErrArtefactNotFound is returned when a job has no artefact with the requested name
	ErrArtefactNotFound = errors.New("artefact not found")

	// ErrInvalidPayload is returned when a queue message payload cannot be processed
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrUnavailable wraps backend failures (store or queue unreachable)
	ErrUnavailable = errors.New("service unavailable")
)
