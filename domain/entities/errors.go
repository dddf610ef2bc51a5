package entities

import (
	"errors"
	"fmt"
)

var (
	ErrTemplateNotFound = errors.New("template never appeared")
	ErrUnknownAction    = errors.New("unknown action")
	ErrMissingRecipe    = errors.New("no recipe for field")
	ErrSelectionLookup  = errors.New("value not in selection dictionary")
	ErrInvalidRecipe    = errors.New("invalid recipe")
	ErrUnsafeStep       = errors.New("unsafe step")
	ErrBinding          = errors.New("cannot bind field value")
	ErrNavigation       = errors.New("navigation landmark not found")
	ErrMissingFields    = errors.New("required fields not found on page")
	ErrMissingValue     = errors.New("record has no value for field")
	ErrPlatform         = errors.New("platform input/capture failure")
	ErrUnreadableImage  = errors.New("unreadable image")
)

// StepError attaches the field and step that failed.
type StepError struct {
	Field     string
	StepIndex int
	Action    ActionName
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("field %s step %d (%s): %v", e.Field, e.StepIndex, e.Action, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// PageError attaches the page (and field, when known) of a failed page run.
type PageError struct {
	Page  string
	Field string
	Err   error
}

func (e *PageError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("page %s, field %s: %v", e.Page, e.Field, e.Err)
	}
	return fmt.Sprintf("page %s: %v", e.Page, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }
