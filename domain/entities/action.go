package entities

import (
	"fmt"
	"strconv"
	"time"
)

// ActionName is the tag of a recipe step
type ActionName string

const (
	ActionMove             ActionName = "move"
	ActionClick            ActionName = "click"
	ActionScroll           ActionName = "scroll"
	ActionType             ActionName = "type"
	ActionPress            ActionName = "press"
	ActionHotkey           ActionName = "hotkey"
	ActionReleaseModifiers ActionName = "release_modifiers"
	ActionWaitForTemplate  ActionName = "wait_for_template"
	ActionWait             ActionName = "wait"
	ActionLoopArray        ActionName = "loop_array"
	ActionLoopTupleArray   ActionName = "loop_tuple_array"

	// ActionCheckSelection is a marker: the press step right after it takes
	// its key and repeat count from the field's selection dictionary.
	ActionCheckSelection ActionName = "check_selection_options"
)

// KnownActions lists every tag the interpreter dispatches on.
var KnownActions = []ActionName{
	ActionMove, ActionClick, ActionScroll, ActionType, ActionPress, ActionHotkey,
	ActionReleaseModifiers, ActionWaitForTemplate, ActionWait, ActionLoopArray,
	ActionLoopTupleArray, ActionCheckSelection,
}

// IsKnown reports whether the tag is part of the recipe vocabulary.
func (a ActionName) IsKnown() bool {
	for _, k := range KnownActions {
		if k == a {
			return true
		}
	}
	return false
}

// IsLoop reports whether the step carries sub-steps.
func (a ActionName) IsLoop() bool {
	return a == ActionLoopArray || a == ActionLoopTupleArray
}

// ModifierKeyPlaceholder in a hotkey list is replaced by the platform modifier.
const ModifierKeyPlaceholder = "<MODIFIER_KEY>"

// ActionStep is one step of a recipe
type ActionStep struct {
	Action ActionName             `json:"action"`
	Params map[string]interface{} `json:"params,omitempty"`
	Steps  []ActionStep           `json:"steps,omitempty"` // loop body
}

// Recipe is the ordered step list bound to one field.
type Recipe []ActionStep

// Has reports whether the parameter is present.
func (s ActionStep) Has(key string) bool {
	_, ok := s.Params[key]
	return ok
}

// String returns a string parameter or def.
func (s ActionStep) String(key, def string) string {
	v, ok := s.Params[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// Int returns an integer parameter or def.
func (s ActionStep) Int(key string, def int) int {
	v, ok := s.Params[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n
		}
	}
	return def
}

// Float returns a float parameter or def.
func (s ActionStep) Float(key string, def float64) float64 {
	v, ok := s.Params[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f
		}
	}
	return def
}

// Bool returns a boolean parameter or def.
func (s ActionStep) Bool(key string, def bool) bool {
	v, ok := s.Params[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		if b, err := strconv.ParseBool(t); err == nil {
			return b
		}
	}
	return def
}

// Seconds reads a duration expressed in (fractional) seconds.
func (s ActionStep) Seconds(key string, def time.Duration) time.Duration {
	if !s.Has(key) {
		return def
	}
	return time.Duration(s.Float(key, def.Seconds()) * float64(time.Second))
}

// Strings returns a list parameter.
func (s ActionStep) Strings(key string) []string {
	v, ok := s.Params[key]
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case []string:
		return t
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		return []string{t}
	}
	return nil
}

// SelectionOption is how a dropdown option is reached from the first item:
// press Key Repeat times.
type SelectionOption struct {
	Key    string `json:"key"`
	Repeat int    `json:"repeat"`
}

// SelectionOptions maps option labels to key presses.
type SelectionOptions map[string]SelectionOption

// Lookup resolves a label.
func (o SelectionOptions) Lookup(label string) (SelectionOption, error) {
	opt, ok := o[label]
	if !ok {
		return SelectionOption{}, fmt.Errorf("%w: %q", ErrSelectionLookup, label)
	}
	return opt, nil
}

// BuildSelectionOptions derives a dictionary for dropdowns that jump by first
// letter: the nth label starting with a letter needs n presses of it.
func BuildSelectionOptions(labels []string) SelectionOptions {
	out := make(SelectionOptions, len(labels))
	counts := make(map[string]int)
	for _, label := range labels {
		if label == "" {
			continue
		}
		first := string([]rune(label)[0])
		counts[first]++
		out[label] = SelectionOption{Key: first, Repeat: counts[first]}
	}
	return out
}
