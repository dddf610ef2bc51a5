package interfaces

import "screenfill/domain/entities"

// SiteConfig is the read-only description of the target application.
type SiteConfig interface {
	// HomeLandmarks are tried in order to get back to the home page
	HomeLandmarks() []string

	// TaskRoute is the landmark sequence leading from home to a task
	TaskRoute(task string) ([]string, error)

	// TaskPages is the ordered page sequence of a task
	TaskPages(task string) ([]string, error)

	// TransitionLandmark names the landmark moving from one page to another
	TransitionLandmark(from, to string) string

	// FooterLandmark names the template marking the end of a page
	FooterLandmark() string

	// Recipes returns every field recipe of a page
	Recipes(page string) (map[string]entities.Recipe, error)

	// SelectionOptions returns the dropdown dictionary of a field
	SelectionOptions(page, field string) (entities.SelectionOptions, error)

	// Template loads a page template; page "" means the general landmarks
	Template(page, name string) (*entities.ReferenceTemplate, error)
}
