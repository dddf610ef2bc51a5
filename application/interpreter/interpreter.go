// Package interpreter runs field recipes: ordered action steps bound to one
// field value and dispatched to the input controller.
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"runtime"
	"strings"
	"time"

	"screenfill/application/locator"
	"screenfill/domain/entities"
	"screenfill/domain/interfaces"

	"github.com/sirupsen/logrus"
)

// Site is the part of the site configuration recipes need.
type Site interface {
	Template(page, name string) (*entities.ReferenceTemplate, error)
	SelectionOptions(page, field string) (entities.SelectionOptions, error)
}

// Settings tune the primitive defaults.
type Settings struct {
	Modifier     string // replaces <MODIFIER_KEY>
	PollInterval time.Duration
	PollRetries  int
	Threshold    float64
}

// PlatformModifier returns the chord modifier for an OS name.
func PlatformModifier(goos string) string {
	if goos == "darwin" {
		return "command"
	}
	return "ctrl"
}

// DefaultSettings poll every half second for ten seconds.
var DefaultSettings = Settings{
	Modifier:     PlatformModifier(runtime.GOOS),
	PollInterval: 500 * time.Millisecond,
	PollRetries:  20,
	Threshold:    entities.DefaultMatchThreshold,
}

// Job is one field to fill.
type Job struct {
	Page   string
	Field  string
	Value  entities.FieldValue
	Target *entities.Position // resolved field anchor, nil when the field has none
	Recipe entities.Recipe
}

// Outcome reports what a recipe did besides input.
type Outcome struct {
	Steps    int // primitive steps executed, loop bodies included
	Scrolled int // net wheel clicks sent, positive toward the top
}

type handler func(ctx context.Context, r *run, step entities.ActionStep) error

// Interpreter executes recipes one step at a time.
type Interpreter struct {
	input    interfaces.InputController
	locator  *locator.Locator
	site     Site
	status   interfaces.StatusReporter
	settings Settings
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *logrus.Logger
	handlers map[entities.ActionName]handler
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithSleep replaces the wait implementation.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(i *Interpreter) { i.sleep = fn }
}

// WithStatus reports the current field and action.
func WithStatus(s interfaces.StatusReporter) Option {
	return func(i *Interpreter) { i.status = s }
}

// New creates an interpreter.
func New(input interfaces.InputController, loc *locator.Locator, site Site, settings Settings, logger *logrus.Logger, opts ...Option) *Interpreter {
	if settings.Modifier == "" {
		settings.Modifier = DefaultSettings.Modifier
	}
	if settings.PollInterval <= 0 {
		settings.PollInterval = DefaultSettings.PollInterval
	}
	if settings.Threshold <= 0 {
		settings.Threshold = DefaultSettings.Threshold
	}
	i := &Interpreter{
		input:    input,
		locator:  loc,
		site:     site,
		settings: settings,
		sleep:    sleepContext,
		logger:   logger,
	}
	i.handlers = map[entities.ActionName]handler{
		entities.ActionMove:             i.move,
		entities.ActionClick:            i.click,
		entities.ActionScroll:           i.scroll,
		entities.ActionType:             i.typeText,
		entities.ActionPress:            i.press,
		entities.ActionHotkey:           i.hotkey,
		entities.ActionReleaseModifiers: i.releaseModifiers,
		entities.ActionWaitForTemplate:  i.waitForTemplate,
		entities.ActionWait:             i.wait,
		entities.ActionLoopArray:        i.loopArray,
		entities.ActionLoopTupleArray:   i.loopTupleArray,
		entities.ActionCheckSelection:   i.checkSelection,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// run is the per-field program state.
type run struct {
	job       Job
	target    *entities.Position
	element   *element // current loop element
	options   entities.SelectionOptions
	selecting bool
	inLoop    bool
	outcome   Outcome
}

// element is one loop pass: a scalar or a tuple.
type element struct {
	scalar string
	tuple  []string
}

// at is the element's text for a step: the scalar, or the tuple_index'th
// member of a tuple.
func (e *element) at(step entities.ActionStep) (string, error) {
	if e.tuple == nil {
		return e.scalar, nil
	}
	idx := step.Int("tuple_index", 0)
	if idx < 0 || idx >= len(e.tuple) {
		return "", fmt.Errorf("%w: tuple index %d out of range (%d items)", entities.ErrBinding, idx, len(e.tuple))
	}
	return e.tuple[idx], nil
}

// Execute runs a recipe front to back. The first failing step aborts the
// field; steps already performed are not undone.
func (i *Interpreter) Execute(ctx context.Context, job Job) (Outcome, error) {
	if len(job.Recipe) == 0 {
		return Outcome{}, fmt.Errorf("%w: %s", entities.ErrMissingRecipe, job.Field)
	}
	r := &run{job: job, target: job.Target}
	for idx, step := range job.Recipe {
		if err := i.step(ctx, r, step); err != nil {
			return r.outcome, &entities.StepError{Field: job.Field, StepIndex: idx, Action: step.Action, Err: err}
		}
	}
	if r.selecting {
		return r.outcome, &entities.StepError{Field: job.Field, StepIndex: len(job.Recipe) - 1, Action: entities.ActionCheckSelection,
			Err: fmt.Errorf("%w: selection marker is not followed by a press step", entities.ErrInvalidRecipe)}
	}
	return r.outcome, nil
}

func (i *Interpreter) step(ctx context.Context, r *run, step entities.ActionStep) error {
	h, ok := i.handlers[step.Action]
	if !ok {
		return fmt.Errorf("%w: %q", entities.ErrUnknownAction, step.Action)
	}
	if r.selecting && step.Action != entities.ActionPress {
		return fmt.Errorf("%w: selection marker must be followed by press, got %s", entities.ErrInvalidRecipe, step.Action)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	i.logger.WithFields(logrus.Fields{"field": r.job.Field, "action": step.Action}).Debug("Executing step")
	if i.status != nil && step.Action != entities.ActionCheckSelection {
		i.status.Update(fmt.Sprintf("%s: %s", r.job.Field, step.Action))
	}
	if err := h(ctx, r, step); err != nil {
		return err
	}
	if !step.Action.IsLoop() && step.Action != entities.ActionCheckSelection {
		r.outcome.Steps++
	}
	return nil
}

func (i *Interpreter) move(ctx context.Context, r *run, step entities.ActionStep) error {
	smooth := step.Bool("smooth", true)
	var x, y int
	switch {
	case r.target != nil:
		x, y = r.target.X, r.target.Y
	case step.Has("x") && step.Has("y"):
		x, y = step.Int("x", 0), step.Int("y", 0)
	default:
		return fmt.Errorf("%w: move has no target", entities.ErrBinding)
	}
	return platform(i.input.MovePointer(ctx, x, y, smooth))
}

func (i *Interpreter) click(ctx context.Context, r *run, step entities.ActionStep) error {
	return platform(i.input.Click(ctx,
		step.String("button", "left"),
		step.Int("clicks", 1),
		step.Seconds("interval", 100*time.Millisecond)))
}

func (i *Interpreter) scroll(ctx context.Context, r *run, step entities.ActionStep) error {
	clicks := step.Int("clicks", 0)
	if clicks == 0 {
		return nil
	}
	if err := platform(i.input.Scroll(ctx, clicks)); err != nil {
		return err
	}
	r.outcome.Scrolled += clicks
	return nil
}

func (i *Interpreter) typeText(ctx context.Context, r *run, step entities.ActionStep) error {
	text, err := bindText(r, step)
	if err != nil {
		return err
	}
	return platform(i.input.TypeText(ctx, text,
		step.Seconds("interval", 10*time.Millisecond),
		step.Bool("can_paste", true)))
}

// bindText resolves the text of a type step. Inside a loop the current
// element always wins. Otherwise: a literal, then a mapping key, then a
// tuple index, then the scalar value itself.
func bindText(r *run, step entities.ActionStep) (string, error) {
	if r.element != nil {
		return r.element.at(step)
	}
	if step.Has("text") {
		return step.String("text", ""), nil
	}
	v := r.job.Value
	if key := step.String("text_key", ""); key != "" && v.Kind == entities.KindMapping {
		s, ok := v.Key(key)
		if !ok {
			return "", fmt.Errorf("%w: no key %q in %s", entities.ErrBinding, key, r.job.Field)
		}
		return s, nil
	}
	if v.Kind == entities.KindList {
		idx := step.Int("tuple_index", 0)
		if idx < 0 || idx >= len(v.List) {
			return "", fmt.Errorf("%w: tuple index %d out of range (%d items)", entities.ErrBinding, idx, len(v.List))
		}
		return v.List[idx], nil
	}
	if v.Kind == entities.KindScalar {
		return v.Scalar, nil
	}
	return "", fmt.Errorf("%w: cannot type a %s value", entities.ErrBinding, v.Kind)
}

func (i *Interpreter) press(ctx context.Context, r *run, step entities.ActionStep) error {
	key := step.String("key", "")
	presses := step.Int("presses", 1)
	if r.selecting {
		r.selecting = false
		label := r.job.Value.Scalar
		if r.element != nil {
			var err error
			if label, err = r.element.at(step); err != nil {
				return err
			}
		}
		opt, err := r.options.Lookup(label)
		if err != nil {
			return err
		}
		key, presses = opt.Key, opt.Repeat
	}
	if key == "" {
		return fmt.Errorf("%w: press without key", entities.ErrInvalidRecipe)
	}
	return platform(i.input.PressKey(ctx, key, presses, step.Seconds("interval", 100*time.Millisecond)))
}

func (i *Interpreter) hotkey(ctx context.Context, r *run, step entities.ActionStep) error {
	keys := step.Strings("keys")
	if len(keys) == 0 {
		return fmt.Errorf("%w: hotkey without keys", entities.ErrInvalidRecipe)
	}
	chord := make([]string, len(keys))
	for n, k := range keys {
		if k == entities.ModifierKeyPlaceholder {
			k = i.settings.Modifier
		}
		chord[n] = strings.ToLower(k)
	}
	return platform(i.input.PressChord(ctx, chord, step.Seconds("interval", 100*time.Millisecond)))
}

func (i *Interpreter) releaseModifiers(ctx context.Context, r *run, step entities.ActionStep) error {
	return platform(i.input.ReleaseAllModifiers(ctx))
}

// waitForTemplate blocks until the named template shows and makes its
// centre the target of later move steps.
func (i *Interpreter) waitForTemplate(ctx context.Context, r *run, step entities.ActionStep) error {
	name := step.String("template_name", "")
	if name == "" {
		return fmt.Errorf("%w: wait_for_template without template_name", entities.ErrInvalidRecipe)
	}
	tmpl, err := i.site.Template(r.job.Page, name)
	if errors.Is(err, fs.ErrNotExist) {
		tmpl, err = i.site.Template("", name)
	}
	if err != nil {
		return fmt.Errorf("load template %s: %w", name, err)
	}
	res, err := i.locator.WaitFor(ctx, tmpl,
		step.Float("threshold", i.settings.Threshold),
		step.Seconds("interval", i.settings.PollInterval),
		step.Int("retries", i.settings.PollRetries))
	if err != nil {
		return err
	}
	r.target = &entities.Position{X: res.X, Y: res.Y}
	return nil
}

func (i *Interpreter) wait(ctx context.Context, r *run, step entities.ActionStep) error {
	return i.sleep(ctx, step.Seconds("seconds", time.Second))
}

func (i *Interpreter) checkSelection(ctx context.Context, r *run, step entities.ActionStep) error {
	opts, err := i.site.SelectionOptions(r.job.Page, r.job.Field)
	if err != nil {
		return fmt.Errorf("%w: %v", entities.ErrSelectionLookup, err)
	}
	r.options = opts
	r.selecting = true
	return nil
}

func (i *Interpreter) loopArray(ctx context.Context, r *run, step entities.ActionStep) error {
	v := r.job.Value
	var items []element
	switch v.Kind {
	case entities.KindList:
		for _, s := range v.List {
			items = append(items, element{scalar: s})
		}
	case entities.KindScalar:
		items = append(items, element{scalar: v.Scalar})
	default:
		return fmt.Errorf("%w: loop_array over a %s value", entities.ErrBinding, v.Kind)
	}
	return i.loop(ctx, r, step, items)
}

func (i *Interpreter) loopTupleArray(ctx context.Context, r *run, step entities.ActionStep) error {
	v := r.job.Value
	if v.Kind != entities.KindTuples {
		return fmt.Errorf("%w: loop_tuple_array over a %s value", entities.ErrBinding, v.Kind)
	}
	items := make([]element, 0, len(v.Tuples))
	for _, t := range v.Tuples {
		items = append(items, element{tuple: t})
	}
	return i.loop(ctx, r, step, items)
}

// loop runs the body once per element. skip_in_last_loop drops that many
// trailing body steps on the final pass.
func (i *Interpreter) loop(ctx context.Context, r *run, step entities.ActionStep, items []element) error {
	if r.inLoop {
		return fmt.Errorf("%w: nested loops are not supported", entities.ErrInvalidRecipe)
	}
	r.inLoop = true
	defer func() {
		r.inLoop = false
		r.element = nil
	}()

	skip := step.Int("skip_in_last_loop", 0)
	for n := range items {
		r.element = &items[n]
		body := step.Steps
		if n == len(items)-1 && skip > 0 {
			body = body[:max(0, len(body)-skip)]
		}
		for k, sub := range body {
			if err := i.step(ctx, r, sub); err != nil {
				return fmt.Errorf("element %d step %d (%s): %w", n, k, sub.Action, err)
			}
		}
	}
	if r.selecting {
		return fmt.Errorf("%w: selection marker is not followed by a press step", entities.ErrInvalidRecipe)
	}
	return nil
}

func platform(err error) error {
	if err == nil || errors.Is(err, entities.ErrPlatform) {
		return err
	}
	return fmt.Errorf("%w: %v", entities.ErrPlatform, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
