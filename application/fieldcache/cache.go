// Package fieldcache maps field templates to scroll-indexed anchors.
//
// Only a viewport-sized slice of a page is visible at a time, but a field
// always shows at the same screen position once the same scroll offset is
// restored. Discovery sweeps the page once and records (offset, x, y) per
// field; Resolve brings the page back to a field's offset before handing out
// its coordinates.
package fieldcache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"screenfill/application/locator"
	"screenfill/domain/entities"
	"screenfill/domain/interfaces"

	"github.com/sirupsen/logrus"
)

// TemplateSource loads reference templates by page and name.
type TemplateSource interface {
	Template(page, name string) (*entities.ReferenceTemplate, error)
}

// Settings are the scroll model parameters.
type Settings struct {
	ExtentStep     int           // clicks per step while looking for the footer
	DiscoveryStep  int           // clicks per step while sweeping for fields
	MaxScroll      int           // give up looking for the footer past this
	TopReset       int           // clicks scrolled up to be sure to reach the top
	Threshold      float64       // match threshold
	Settle         time.Duration // pause after each scroll
	FooterLandmark string
}

// DefaultSettings mirror the target application's page lengths.
var DefaultSettings = Settings{
	ExtentStep:     10,
	DiscoveryStep:  5,
	MaxScroll:      300,
	TopReset:       100,
	Threshold:      entities.DefaultMatchThreshold,
	Settle:         100 * time.Millisecond,
	FooterLandmark: "footer",
}

// Cache discovers and replays field anchors. All mutable state lives in the
// *entities.PageState passed to each call.
type Cache struct {
	locator   *locator.Locator
	input     interfaces.InputController
	templates TemplateSource
	settings  Settings
	logger    *logrus.Logger
}

// New creates a cache.
func New(loc *locator.Locator, input interfaces.InputController, templates TemplateSource, settings Settings, logger *logrus.Logger) *Cache {
	if settings.ExtentStep <= 0 {
		settings.ExtentStep = DefaultSettings.ExtentStep
	}
	if settings.DiscoveryStep <= 0 {
		settings.DiscoveryStep = DefaultSettings.DiscoveryStep
	}
	if settings.MaxScroll <= 0 {
		settings.MaxScroll = DefaultSettings.MaxScroll
	}
	if settings.TopReset <= 0 {
		settings.TopReset = DefaultSettings.TopReset
	}
	if settings.FooterLandmark == "" {
		settings.FooterLandmark = DefaultSettings.FooterLandmark
	}
	return &Cache{
		locator:   loc,
		input:     input,
		templates: templates,
		settings:  settings,
		logger:    logger,
	}
}

// Settings returns the effective settings.
func (c *Cache) Settings() Settings {
	return c.settings
}

// ResetToTop parks the pointer over the page and scrolls up far enough to be
// at the top whatever the previous position was.
func (c *Cache) ResetToTop(ctx context.Context, state *entities.PageState) error {
	if err := c.parkPointer(ctx); err != nil {
		return err
	}
	if err := c.scroll(ctx, c.settings.TopReset); err != nil {
		return err
	}
	state.ScrollOffset = 0
	return nil
}

// MeasureScrollExtent scrolls down in ExtentStep increments until the footer
// landmark is visible and returns the clicks that took. The page is left at
// the top. A footer that never shows within MaxScroll yields MaxScroll.
func (c *Cache) MeasureScrollExtent(ctx context.Context, state *entities.PageState) (int, error) {
	footer, err := c.templates.Template(state.CurrentPage, c.settings.FooterLandmark)
	if errors.Is(err, fs.ErrNotExist) {
		footer, err = c.templates.Template("", c.settings.FooterLandmark)
	}
	if err != nil {
		return 0, fmt.Errorf("load footer landmark: %w", err)
	}
	if err := c.toTop(ctx, state); err != nil {
		return 0, err
	}
	if err := c.parkPointer(ctx); err != nil {
		return 0, err
	}

	total := 0
	for {
		res, err := c.locator.LocateOnScreen(ctx, footer, c.settings.Threshold)
		if err != nil {
			return 0, err
		}
		if res.Matched {
			break
		}
		if total >= c.settings.MaxScroll {
			c.logger.Warnf("Footer %q not seen within %d clicks on page %s", footer.Name, total, state.CurrentPage)
			break
		}
		if err := c.down(ctx, state, c.settings.ExtentStep); err != nil {
			return 0, err
		}
		total += c.settings.ExtentStep
	}

	if err := c.toTop(ctx, state); err != nil {
		return 0, err
	}
	state.ScrollExtent = total
	c.logger.WithFields(logrus.Fields{"page": state.CurrentPage, "extent": total}).Info("Measured scroll extent")
	return total, nil
}

// Discover sweeps the page from the top in DiscoveryStep increments, recording
// an anchor for each required field the first time its template matches.
// It stops once every field is found or the measured extent is covered, and
// returns to the top. Fields never seen are returned as missing.
func (c *Cache) Discover(ctx context.Context, state *entities.PageState, required []string) (map[string]entities.ScrollAnchor, []string, error) {
	found := make(map[string]entities.ScrollAnchor)
	if len(required) == 0 {
		return found, nil, nil
	}

	pending := make([]string, 0, len(required))
	templates := make(map[string]*entities.ReferenceTemplate, len(required))
	seen := make(map[string]bool)
	var missing []string
	for _, id := range required {
		if seen[id] {
			continue
		}
		seen[id] = true
		if state.Has(id) {
			continue
		}
		t, err := c.templates.Template(state.CurrentPage, id)
		if errors.Is(err, fs.ErrNotExist) {
			c.logger.Warnf("No template for field %s on page %s", id, state.CurrentPage)
			missing = append(missing, id)
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("load template %s: %w", id, err)
		}
		templates[id] = t
		pending = append(pending, id)
	}

	if len(pending) > 0 {
		if err := c.toTop(ctx, state); err != nil {
			return nil, nil, err
		}
		for {
			capture, err := c.locator.Capture(ctx)
			if err != nil {
				return nil, nil, err
			}
			rest := pending[:0]
			for _, id := range pending {
				res, err := c.locator.Locate(templates[id], capture, c.settings.Threshold)
				if err != nil {
					return nil, nil, err
				}
				if !res.Matched {
					rest = append(rest, id)
					continue
				}
				state.Record(entities.ScrollAnchor{FieldID: id, ScrollOffset: state.ScrollOffset, X: res.X, Y: res.Y})
				c.logger.WithFields(logrus.Fields{"field": id, "offset": state.ScrollOffset, "x": res.X, "y": res.Y}).Debug("Field located")
			}
			pending = rest

			if len(pending) == 0 || state.ScrollOffset >= state.ScrollExtent {
				break
			}
			step := c.settings.DiscoveryStep
			if left := state.ScrollExtent - state.ScrollOffset; step > left {
				step = left
			}
			if err := c.down(ctx, state, step); err != nil {
				return nil, nil, err
			}
		}
		if err := c.toTop(ctx, state); err != nil {
			return nil, nil, err
		}
	}
	missing = append(missing, pending...)

	for _, id := range required {
		if a, ok := state.Anchor(id); ok {
			found[id] = a
		}
	}
	if len(missing) > 0 {
		c.logger.WithFields(logrus.Fields{"page": state.CurrentPage, "missing": missing}).Warn("Discovery finished without all fields")
	}
	return found, missing, nil
}

// GotoAnchor scrolls so the anchor's coordinates are valid again. It always
// returns to the top first and then applies the anchor offset, rather than
// scrolling by the difference, so per-click drift cannot accumulate.
func (c *Cache) GotoAnchor(ctx context.Context, state *entities.PageState, anchor entities.ScrollAnchor) (int, error) {
	if state.ScrollOffset == anchor.ScrollOffset {
		return state.ScrollOffset, nil
	}
	if err := c.toTop(ctx, state); err != nil {
		return state.ScrollOffset, err
	}
	if err := c.down(ctx, state, anchor.ScrollOffset); err != nil {
		return state.ScrollOffset, err
	}
	return state.ScrollOffset, nil
}

// Resolve is the only way to get a field's coordinates: it restores the
// field's scroll offset first.
func (c *Cache) Resolve(ctx context.Context, state *entities.PageState, fieldID string) (entities.Position, bool, error) {
	anchor, ok := state.Anchor(fieldID)
	if !ok {
		return entities.Position{}, false, nil
	}
	if _, err := c.GotoAnchor(ctx, state, anchor); err != nil {
		return entities.Position{}, true, err
	}
	return entities.Position{X: anchor.X, Y: anchor.Y}, true, nil
}

// toTop undoes the current offset exactly.
func (c *Cache) toTop(ctx context.Context, state *entities.PageState) error {
	if state.ScrollOffset == 0 {
		return nil
	}
	if err := c.scroll(ctx, state.ScrollOffset); err != nil {
		return err
	}
	state.ScrollOffset = 0
	return nil
}

func (c *Cache) down(ctx context.Context, state *entities.PageState, clicks int) error {
	if clicks <= 0 {
		return nil
	}
	if err := c.scroll(ctx, -clicks); err != nil {
		return err
	}
	state.ScrollOffset += clicks
	return nil
}

// scroll sends wheel clicks (positive = up) and waits for the page to settle.
func (c *Cache) scroll(ctx context.Context, clicks int) error {
	if err := c.input.Scroll(ctx, clicks); err != nil {
		return fmt.Errorf("%w: scroll %d: %v", entities.ErrPlatform, clicks, err)
	}
	if c.settings.Settle <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.settings.Settle):
		return nil
	}
}

func (c *Cache) parkPointer(ctx context.Context) error {
	x, y, err := c.locator.ScreenCenter(ctx)
	if err != nil {
		return err
	}
	if err := c.input.MovePointer(ctx, x, y, false); err != nil {
		return fmt.Errorf("%w: move pointer: %v", entities.ErrPlatform, err)
	}
	return nil
}
