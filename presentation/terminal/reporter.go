package terminal

import (
	"screenfill/domain/entities"
	"screenfill/domain/interfaces"

	"github.com/sirupsen/logrus"
)

// LogReporter is the status surface of a terminal session.
type LogReporter struct {
	logger *logrus.Logger
}

// NewLogReporter returns a reporter writing to logger.
func NewLogReporter(logger *logrus.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

var _ interfaces.StatusReporter = (*LogReporter)(nil)

// SetState implements interfaces.StatusReporter.
func (r *LogReporter) SetState(state entities.OverlayState) {
	entry := r.logger.WithField("state", state)
	if state == entities.OverlayFailed {
		entry.Warn("Status changed")
		return
	}
	entry.Info("Status changed")
}

// Update implements interfaces.StatusReporter.
func (r *LogReporter) Update(message string) {
	r.logger.WithField("status", message).Debug("Progress")
}
