package interfaces

import "screenfill/domain/entities"

// StatusReporter is the user-visible status surface.
type StatusReporter interface {
	SetState(state entities.OverlayState)
	Update(message string)
}
