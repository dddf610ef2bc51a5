package locator

import (
	"context"
	"fmt"
	"image"
	"math"
	"time"

	"screenfill/domain/entities"
	"screenfill/domain/interfaces"

	"github.com/nfnt/resize"
	"github.com/sirupsen/logrus"
)

// Locator finds reference templates on the screen and reports their centre
// in logical screen coordinates.
type Locator struct {
	capturer interfaces.ScreenCapturer
	matcher  Matcher
	scales   []float64
	logger   *logrus.Logger
}

// Option configures a Locator.
type Option func(*Locator)

// WithMatcher replaces the pure Go matcher.
func WithMatcher(m Matcher) Option {
	return func(l *Locator) { l.matcher = m }
}

// WithScales makes the locator also try the template resized by each factor,
// for templates cut at a different display scaling than the live screen.
func WithScales(scales ...float64) Option {
	return func(l *Locator) {
		l.scales = nil
		for _, s := range scales {
			if s > 0 {
				l.scales = append(l.scales, s)
			}
		}
		if len(l.scales) == 0 {
			l.scales = []float64{1}
		}
	}
}

// New creates a locator reading from capturer
func New(capturer interfaces.ScreenCapturer, logger *logrus.Logger, opts ...Option) *Locator {
	l := &Locator{
		capturer: capturer,
		matcher:  NewNCCMatcher(1),
		scales:   []float64{1},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Capture takes a fresh screenshot and pairs it with the logical screen size
// queried at the same moment, so the scale ratio always matches the capture.
func (l *Locator) Capture(ctx context.Context) (*entities.ScreenImage, error) {
	img, err := l.capturer.CapturePhysicalScreen(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: capture screen: %v", entities.ErrPlatform, err)
	}
	w, h, err := l.capturer.LogicalScreenSize(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: logical screen size: %v", entities.ErrPlatform, err)
	}
	return entities.NewScreenImage(img, w, h), nil
}

// Locate matches tmpl against capture. A best score below threshold is a
// plain miss (Matched=false), never an error.
func (l *Locator) Locate(tmpl *entities.ReferenceTemplate, capture *entities.ScreenImage, threshold float64) (entities.MatchResult, error) {
	res, _, err := l.locate(tmpl, capture, threshold)
	return res, err
}

// locate also returns the matched region in capture pixels, sized by the
// template scale that won.
func (l *Locator) locate(tmpl *entities.ReferenceTemplate, capture *entities.ScreenImage, threshold float64) (entities.MatchResult, image.Rectangle, error) {
	if threshold <= 0 {
		threshold = entities.DefaultMatchThreshold
	}
	if err := checkImage(tmpl, capture); err != nil {
		return entities.MatchResult{}, image.Rectangle{}, err
	}

	best := math.Inf(-1)
	var bestLoc image.Point
	var bestSize image.Point
	for _, scale := range l.scales {
		t := tmpl.Image
		if scale != 1 {
			b := t.Bounds()
			w, h := uint(math.Round(float64(b.Dx())*scale)), uint(math.Round(float64(b.Dy())*scale))
			if w == 0 || h == 0 {
				continue
			}
			t = resize.Resize(w, h, t, resize.Bilinear)
		}
		score, loc, err := l.matcher.Match(capture.Image, t)
		if err != nil {
			return entities.MatchResult{}, image.Rectangle{}, fmt.Errorf("match %s: %w", tmpl.Name, err)
		}
		if score > best {
			best, bestLoc, bestSize = score, loc, t.Bounds().Size()
		}
	}

	result := entities.MatchResult{Score: clamp01(best)}
	if result.Score < threshold {
		if l.logger != nil {
			l.logger.Debugf("No match for %s (score %.3f < %.2f)", tmpl.Name, result.Score, threshold)
		}
		return result, image.Rectangle{}, nil
	}
	// Matcher locations are relative to the capture origin.
	result.Matched = true
	result.X, result.Y = capture.ToLogical(bestLoc.X+bestSize.X/2, bestLoc.Y+bestSize.Y/2)
	return result, image.Rectangle{Min: bestLoc, Max: bestLoc.Add(bestSize)}, nil
}

// LocateOnScreen captures the screen and locates tmpl on it.
func (l *Locator) LocateOnScreen(ctx context.Context, tmpl *entities.ReferenceTemplate, threshold float64) (entities.MatchResult, error) {
	capture, err := l.Capture(ctx)
	if err != nil {
		return entities.MatchResult{}, err
	}
	return l.Locate(tmpl, capture, threshold)
}

// WaitFor polls the screen until tmpl appears. retries <= 0 polls until ctx
// is done. Exhausting the budget returns ErrTemplateNotFound.
func (l *Locator) WaitFor(ctx context.Context, tmpl *entities.ReferenceTemplate, threshold float64, interval time.Duration, retries int) (entities.MatchResult, error) {
	var last entities.MatchResult
	for attempt := 1; retries <= 0 || attempt <= retries; attempt++ {
		res, err := l.LocateOnScreen(ctx, tmpl, threshold)
		if err != nil {
			return res, err
		}
		if res.Matched {
			return res, nil
		}
		last = res

		if retries > 0 && attempt == retries {
			break
		}
		select {
		case <-ctx.Done():
			return last, fmt.Errorf("waiting for %s: %w", tmpl.Name, ctx.Err())
		case <-time.After(interval):
		}
	}
	return last, fmt.Errorf("%w: %s after %d attempts (best score %.3f)", entities.ErrTemplateNotFound, tmpl.Name, retries, last.Score)
}

// Crop returns the capture region under the best match, for inspection.
func (l *Locator) Crop(tmpl *entities.ReferenceTemplate, capture *entities.ScreenImage, threshold float64) (image.Image, entities.MatchResult, error) {
	res, r, err := l.locate(tmpl, capture, threshold)
	if err != nil || !res.Matched {
		return nil, res, err
	}
	r = r.Add(capture.Image.Bounds().Min).Intersect(capture.Image.Bounds())

	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}
	if s, ok := capture.Image.(subImager); ok {
		return s.SubImage(r), res, nil
	}
	g := toGray(capture.Image)
	return g.SubImage(r.Sub(capture.Image.Bounds().Min)), res, nil
}

func checkImage(tmpl *entities.ReferenceTemplate, capture *entities.ScreenImage) error {
	if tmpl == nil || tmpl.Image == nil || tmpl.Image.Bounds().Empty() {
		return fmt.Errorf("%w: empty template", entities.ErrUnreadableImage)
	}
	if capture == nil || capture.Image == nil || capture.Image.Bounds().Empty() {
		return fmt.Errorf("%w: empty capture", entities.ErrUnreadableImage)
	}
	return nil
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ScreenCenter returns the middle of the logical screen.
func (l *Locator) ScreenCenter(ctx context.Context) (int, int, error) {
	w, h, err := l.capturer.LogicalScreenSize(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: logical screen size: %v", entities.ErrPlatform, err)
	}
	return w / 2, h / 2, nil
}
