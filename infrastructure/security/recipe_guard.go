package security

import (
	"fmt"
	"strings"

	"screenfill/domain/entities"
	"screenfill/domain/interfaces"

	"github.com/sirupsen/logrus"
)

// Risk levels.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

var modifierKeys = map[string]bool{
	"ctrl":    true,
	"control": true,
	"command": true,
	"cmd":     true,
	strings.ToLower(entities.ModifierKeyPlaceholder): true,
}

// Chords that close the target window or steal focus from the page. The
// first element is a modifier class, matched against modifierKeys.
var destructiveChords = [][]string{
	{"<mod>", "w"},
	{"<mod>", "q"},
	{"<mod>", "l"},
	{"alt", "f4"},
}

// RecipeGuard rejects broken or unsafe recipes before any input is sent.
type RecipeGuard struct {
	allowUnsafe bool
	logger      *logrus.Logger
}

// NewRecipeGuard creates a guard. allowUnsafe lets destructive chords through
// with a warning.
func NewRecipeGuard(allowUnsafe bool, logger *logrus.Logger) *RecipeGuard {
	return &RecipeGuard{
		allowUnsafe: allowUnsafe,
		logger:      logger,
	}
}

var _ interfaces.RecipeGuard = (*RecipeGuard)(nil)

// Validate checks every step of a field recipe.
func (g *RecipeGuard) Validate(field string, recipe entities.Recipe) error {
	if len(recipe) == 0 {
		return fmt.Errorf("%w: %s", entities.ErrMissingRecipe, field)
	}
	return g.validateSteps(field, recipe, false)
}

func (g *RecipeGuard) validateSteps(field string, steps []entities.ActionStep, inLoop bool) error {
	for i, step := range steps {
		if err := g.validateStep(step, inLoop); err != nil {
			return &entities.StepError{Field: field, StepIndex: i, Action: step.Action, Err: err}
		}
		if level := g.RiskLevel(step); level != RiskLow && !step.Action.IsLoop() {
			g.logger.WithFields(logrus.Fields{
				"field": field,
				"step":  i,
				"risk":  level,
			}).Debugf("Step %s sends input", step.Action)
		}
		if step.Action == entities.ActionCheckSelection {
			if i+1 >= len(steps) || steps[i+1].Action != entities.ActionPress {
				return &entities.StepError{Field: field, StepIndex: i, Action: step.Action,
					Err: fmt.Errorf("%w: selection marker must be followed by press", entities.ErrInvalidRecipe)}
			}
		}
		if step.Action.IsLoop() {
			if err := g.validateSteps(field, step.Steps, true); err != nil {
				return fmt.Errorf("loop at step %d: %w", i, err)
			}
		}
	}
	return nil
}

func (g *RecipeGuard) validateStep(step entities.ActionStep, inLoop bool) error {
	if !step.Action.IsKnown() {
		return fmt.Errorf("%w: %q", entities.ErrUnknownAction, step.Action)
	}
	switch step.Action {
	case entities.ActionHotkey:
		if len(step.Strings("keys")) == 0 {
			return fmt.Errorf("%w: hotkey without keys", entities.ErrInvalidRecipe)
		}
		if g.isDestructiveChord(step) {
			if !g.allowUnsafe {
				return fmt.Errorf("%w: chord %v", entities.ErrUnsafeStep, step.Strings("keys"))
			}
			g.logger.Warnf("Allowing destructive chord %v", step.Strings("keys"))
		}
	case entities.ActionWaitForTemplate:
		if step.String("template_name", "") == "" {
			return fmt.Errorf("%w: wait_for_template without template_name", entities.ErrInvalidRecipe)
		}
	case entities.ActionLoopArray, entities.ActionLoopTupleArray:
		if inLoop {
			return fmt.Errorf("%w: nested loops are not supported", entities.ErrInvalidRecipe)
		}
		if len(step.Steps) == 0 {
			return fmt.Errorf("%w: %s without steps", entities.ErrInvalidRecipe, step.Action)
		}
		if step.Int("skip_in_last_loop", 0) < 0 {
			return fmt.Errorf("%w: negative skip_in_last_loop", entities.ErrInvalidRecipe)
		}
	case entities.ActionWait:
		if step.Float("seconds", 1) < 0 {
			return fmt.Errorf("%w: negative wait", entities.ErrInvalidRecipe)
		}
	case entities.ActionType:
		if step.Has("tuple_index") && step.Int("tuple_index", 0) < 0 {
			return fmt.Errorf("%w: negative tuple_index", entities.ErrInvalidRecipe)
		}
	}
	return nil
}

// RiskLevel rates a step. Destructive chords are high, anything that writes
// into the page is medium.
func (g *RecipeGuard) RiskLevel(step entities.ActionStep) string {
	switch step.Action {
	case entities.ActionHotkey:
		if g.isDestructiveChord(step) {
			return RiskHigh
		}
		return RiskMedium
	case entities.ActionClick, entities.ActionType, entities.ActionPress:
		return RiskMedium
	case entities.ActionLoopArray, entities.ActionLoopTupleArray:
		level := RiskLow
		for _, sub := range step.Steps {
			switch g.RiskLevel(sub) {
			case RiskHigh:
				return RiskHigh
			case RiskMedium:
				level = RiskMedium
			}
		}
		return level
	}
	return RiskLow
}

func (g *RecipeGuard) isDestructiveChord(step entities.ActionStep) bool {
	keys := step.Strings("keys")
	pressed := make(map[string]bool, len(keys))
	hasMod := false
	for _, k := range keys {
		k = strings.ToLower(strings.TrimSpace(k))
		pressed[k] = true
		if modifierKeys[k] {
			hasMod = true
		}
	}
	for _, chord := range destructiveChords {
		match := true
		for _, k := range chord {
			if k == "<mod>" {
				match = match && hasMod
				continue
			}
			match = match && pressed[k]
		}
		if match {
			return true
		}
	}
	return false
}
