// Package orchestrator sequences tasks over pages: navigation by landmark,
// scroll measurement, field discovery and recipe execution.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"screenfill/application/associator"
	"screenfill/application/fieldcache"
	"screenfill/application/interpreter"
	"screenfill/application/locator"
	"screenfill/domain/entities"
	"screenfill/domain/interfaces"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrBusy is returned when a run is started while another owns the desktop.
var ErrBusy = errors.New("another run is using the desktop")

// Missing-field policies.
const (
	MissingSkip = "skip"
	MissingFail = "fail"
)

// Settings tune the orchestrator.
type Settings struct {
	MissingFields string        // skip or fail
	Settle        time.Duration // pause after a navigation click
	Threshold     float64
	Thresholds    associator.Thresholds
}

// Deps are the collaborators of an Orchestrator. Detector, Store and Status
// are optional.
type Deps struct {
	Input       interfaces.InputController
	Site        interfaces.SiteConfig
	Locator     *locator.Locator
	Cache       *fieldcache.Cache
	Interpreter *interpreter.Interpreter
	Guard       interfaces.RecipeGuard
	Detector    interfaces.Detector
	Store       interfaces.RunStore
	Status      interfaces.StatusReporter
}

// Orchestrator drives one desktop. Runs are serialized.
type Orchestrator struct {
	Deps
	settings Settings
	logger   *logrus.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	lock     chan struct{}
	state    *entities.PageState
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSleep replaces the settle wait.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

// New creates an orchestrator.
func New(deps Deps, settings Settings, logger *logrus.Logger, opts ...Option) *Orchestrator {
	if settings.MissingFields == "" {
		settings.MissingFields = MissingSkip
	}
	if settings.Thresholds == (associator.Thresholds{}) {
		settings.Thresholds = associator.DefaultThresholds
	}
	if deps.Status == nil {
		deps.Status = nopStatus{}
	}
	o := &Orchestrator{
		Deps:     deps,
		settings: settings,
		logger:   logger,
		sleep:    sleepContext,
		lock:     make(chan struct{}, 1),
		state:    entities.NewPageState(""),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State exposes the page state of the current or last run.
func (o *Orchestrator) State() *entities.PageState {
	return o.state
}

func (o *Orchestrator) acquire() error {
	select {
	case o.lock <- struct{}{}:
		return nil
	default:
		return ErrBusy
	}
}

func (o *Orchestrator) release() { <-o.lock }

// RunTask routes to the task from the home page and fills its pages in order.
// The run is stored whatever the outcome.
func (o *Orchestrator) RunTask(ctx context.Context, task string, rec interfaces.Record) (entities.TaskResult, error) {
	if err := o.acquire(); err != nil {
		return entities.TaskResult{}, err
	}
	defer o.release()

	result := entities.TaskResult{
		ID:        uuid.NewString(),
		Task:      task,
		Status:    entities.TaskStatusInProgress,
		StartedAt: time.Now(),
	}
	log := o.logger.WithFields(logrus.Fields{"task": task, "run": result.ID})
	log.Info("Task started")
	o.Status.SetState(entities.OverlayRunning)
	o.Status.Update("Starting task " + task)

	err := o.runTask(ctx, task, rec, &result)
	result.FinishedAt = time.Now()
	if err != nil {
		err = fmt.Errorf("task %s (%s): %w", task, result.ID, err)
		result.Status = entities.TaskStatusFailed
		result.Error = err.Error()
		o.Status.Update("Task failed: " + err.Error())
		o.Status.SetState(entities.OverlayFailed)
		log.WithError(err).Error("Task failed")
	} else {
		result.Status = entities.TaskStatusCompleted
		o.Status.Update("Task completed")
		o.Status.SetState(entities.OverlayReady)
		log.WithField("duration", result.FinishedAt.Sub(result.StartedAt)).Info("Task completed")
	}

	if o.Store != nil {
		if serr := o.Store.SaveRun(result); serr != nil {
			log.WithError(serr).Warn("Failed to save run")
		}
	}
	return result, err
}

func (o *Orchestrator) runTask(ctx context.Context, task string, rec interfaces.Record, result *entities.TaskResult) error {
	pages, err := o.Site.TaskPages(task)
	if err != nil {
		return err
	}
	if err := o.navigateToTask(ctx, task); err != nil {
		return err
	}
	o.state.Reset(pages[0])

	for i, page := range pages {
		if i > 0 {
			if err := o.changePage(ctx, page); err != nil {
				return err
			}
		}
		pr, err := o.runPage(ctx, page, rec.Fields(page), rec)
		result.Pages = append(result.Pages, pr)
		if err != nil {
			return err
		}
	}
	return nil
}

// navigateToTask returns to the home page through the first home landmark
// that is visible, then clicks every landmark of the task route.
func (o *Orchestrator) navigateToTask(ctx context.Context, task string) error {
	route, err := o.Site.TaskRoute(task)
	if err != nil {
		return err
	}
	o.Status.Update("Navigating to " + task)
	if err := o.Cache.ResetToTop(ctx, o.state); err != nil {
		return err
	}

	for _, name := range o.Site.HomeLandmarks() {
		found, err := o.clickLandmark(ctx, "", name)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if found {
			break
		}
	}
	for _, name := range route {
		found, err := o.clickLandmark(ctx, "", name)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: route step %s", entities.ErrNavigation, name)
		}
	}
	return nil
}

// clickLandmark double clicks a landmark if it is on screen.
func (o *Orchestrator) clickLandmark(ctx context.Context, page, name string) (bool, error) {
	tmpl, err := o.Site.Template(page, name)
	if err != nil {
		return false, err
	}
	res, err := o.Locator.LocateOnScreen(ctx, tmpl, o.settings.Threshold)
	if err != nil || !res.Matched {
		return false, err
	}
	o.logger.WithFields(logrus.Fields{"landmark": name, "x": res.X, "y": res.Y}).Debug("Clicking landmark")
	if err := o.Input.MovePointer(ctx, res.X, res.Y, true); err != nil {
		return false, fmt.Errorf("%w: %v", entities.ErrPlatform, err)
	}
	if err := o.Input.Click(ctx, "left", 2, 100*time.Millisecond); err != nil {
		return false, fmt.Errorf("%w: %v", entities.ErrPlatform, err)
	}
	return true, o.sleep(ctx, o.settings.Settle)
}

// ChangePage moves from the current page to another through the transition
// landmark and forgets the old page's anchors.
func (o *Orchestrator) ChangePage(ctx context.Context, to string) error {
	if err := o.acquire(); err != nil {
		return err
	}
	defer o.release()
	return o.changePage(ctx, to)
}

func (o *Orchestrator) changePage(ctx context.Context, to string) error {
	from := o.state.CurrentPage
	name := o.Site.TransitionLandmark(from, to)
	o.Status.Update(fmt.Sprintf("Changing page %s -> %s", from, to))
	found, err := o.clickLandmark(ctx, from, name)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if !found {
		return &entities.PageError{Page: from, Err: fmt.Errorf("%w: %s", entities.ErrNavigation, name)}
	}
	o.state.Reset(to)
	return nil
}

// RunPage fills the given fields on the page currently shown.
func (o *Orchestrator) RunPage(ctx context.Context, page string, required []string, rec interfaces.Record) (entities.PageResult, error) {
	if err := o.acquire(); err != nil {
		return entities.PageResult{Page: page}, err
	}
	defer o.release()
	return o.runPage(ctx, page, required, rec)
}

func (o *Orchestrator) runPage(ctx context.Context, page string, required []string, rec interfaces.Record) (entities.PageResult, error) {
	result := entities.PageResult{Page: page}
	fail := func(field string, err error) (entities.PageResult, error) {
		var pe *entities.PageError
		if !errors.As(err, &pe) {
			err = &entities.PageError{Page: page, Field: field, Err: err}
		}
		result.Error = err.Error()
		o.Status.Update("Page failed: " + err.Error())
		o.Status.SetState(entities.OverlayFailed)
		return result, err
	}
	if o.state.CurrentPage != page {
		o.state.Reset(page)
	}
	o.Status.SetState(entities.OverlayRunning)
	log := o.logger.WithField("page", page)

	// Recipes and record values are checked up front so a config error
	// sends no input.
	all, err := o.Site.Recipes(page)
	if err != nil {
		return fail("", err)
	}
	recipes := make(map[string]entities.Recipe, len(required))
	for _, id := range required {
		recipe, ok := all[id]
		if !ok {
			return fail(id, fmt.Errorf("%w: %s", entities.ErrMissingRecipe, id))
		}
		if _, ok := rec.Get(id); !ok {
			return fail(id, fmt.Errorf("%w: %s/%s", entities.ErrMissingValue, page, id))
		}
		if o.Guard != nil {
			if err := o.Guard.Validate(id, recipe); err != nil {
				return fail(id, err)
			}
		}
		recipes[id] = recipe
	}

	o.Status.Update("Initializing scrolling parameters...")
	if err := o.Cache.ResetToTop(ctx, o.state); err != nil {
		return fail("", err)
	}
	if result.Extent, err = o.Cache.MeasureScrollExtent(ctx, o.state); err != nil {
		return fail("", err)
	}

	o.Status.Update("Detecting page elements...")
	found, missing, err := o.Cache.Discover(ctx, o.state, required)
	if err != nil {
		return fail("", err)
	}
	result.Missing = missing
	if len(missing) > 0 {
		if o.settings.MissingFields == MissingFail {
			return fail("", fmt.Errorf("%w: %v", entities.ErrMissingFields, missing))
		}
		log.WithField("missing", missing).Warn("Skipping fields not found on page")
	}

	order := make([]string, 0, len(found))
	for _, id := range o.state.DiscoveryOrder() {
		if _, ok := found[id]; ok {
			order = append(order, id)
		}
	}
	for n, id := range order {
		o.Status.Update(fmt.Sprintf("Processing field (%d/%d): %s", n+1, len(order), id))
		fr, err := o.runField(ctx, page, id, recipes[id], rec)
		result.Fields = append(result.Fields, fr)
		if err != nil {
			return fail(id, err)
		}
	}

	if err := o.Cache.ResetToTop(ctx, o.state); err != nil {
		return fail("", err)
	}
	result.OK = true
	o.Status.Update("Page completed successfully")
	o.Status.SetState(entities.OverlayReady)
	log.WithFields(logrus.Fields{"fields": len(result.Fields), "extent": result.Extent}).Info("Page completed")
	return result, nil
}

func (o *Orchestrator) runField(ctx context.Context, page, id string, recipe entities.Recipe, rec interfaces.Record) (entities.FieldResult, error) {
	fr := entities.FieldResult{Field: id}
	value, ok := rec.Get(id)
	if !ok {
		err := fmt.Errorf("%w: %s/%s", entities.ErrMissingValue, page, id)
		fr.Error = err.Error()
		return fr, err
	}

	pos, ok, err := o.Cache.Resolve(ctx, o.state, id)
	if err != nil {
		fr.Error = err.Error()
		return fr, err
	}
	job := interpreter.Job{Page: page, Field: id, Value: value, Recipe: recipe}
	if ok {
		job.Target = &pos
	}

	out, err := o.Interpreter.Execute(ctx, job)
	fr.Steps = out.Steps
	// Wheel clicks in a recipe move the page; positive is toward the top.
	o.state.ScrollOffset = max(0, o.state.ScrollOffset-out.Scrolled)
	if err != nil {
		fr.Error = err.Error()
		return fr, err
	}
	fr.OK = true
	return fr, nil
}

// InferLayout detects labels and input boxes on the current screen and pairs
// them. Coordinates are logical.
func (o *Orchestrator) InferLayout(ctx context.Context) ([]entities.Association, error) {
	if o.Detector == nil {
		return nil, errors.New("no detector configured")
	}
	capture, err := o.Locator.Capture(ctx)
	if err != nil {
		return nil, err
	}
	boxes, err := o.Detector.DetectBoundingBoxes(ctx, capture.Image)
	if err != nil {
		return nil, fmt.Errorf("detect boxes: %w", err)
	}
	texts, err := o.Detector.DetectTextRegions(ctx, capture.Image)
	if err != nil {
		return nil, fmt.Errorf("detect text: %w", err)
	}

	labels := make([]entities.LabelCandidate, 0, len(texts))
	for _, t := range texts {
		x, y := capture.ToLogical(t.X, t.Y)
		labels = append(labels, entities.LabelCandidate{Text: t.Text, X: x, Y: y})
	}
	fields := make([]entities.FieldAnchor, 0, len(boxes))
	for _, b := range boxes {
		x, y := capture.ToLogical(b.X, b.Y)
		fields = append(fields, entities.FieldAnchor{Type: b.Type, X: x, Y: y})
	}
	assoc := associator.Associate(labels, fields, o.settings.Thresholds)
	o.logger.WithFields(logrus.Fields{"labels": len(labels), "fields": len(fields), "pairs": len(assoc)}).Info("Layout inferred")
	return assoc, nil
}

type nopStatus struct{}

func (nopStatus) SetState(entities.OverlayState) {}
func (nopStatus) Update(string)                  {}

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
