package interfaces

import "screenfill/domain/entities"

// RunStore keeps the history of task runs.
type RunStore interface {
	// SaveRun appends a finished run
	SaveRun(run entities.TaskResult) error

	// LoadRuns returns all stored runs, oldest first
	LoadRuns() ([]entities.TaskResult, error)
}
