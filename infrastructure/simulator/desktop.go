// Package simulator is a virtual desktop: a page taller than the viewport,
// a wheel that scrolls it in fixed click steps, a display scale between
// capture pixels and logical coordinates, and a log of every input event.
package simulator

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"
	"time"

	"screenfill/domain/entities"
	"screenfill/domain/interfaces"

	"github.com/sirupsen/logrus"
)

// Event is one recorded input call.
type Event struct {
	Kind   string   `json:"kind"` // move, click, scroll, type, press, chord, release, navigate
	X      int      `json:"x,omitempty"`
	Y      int      `json:"y,omitempty"`
	Button string   `json:"button,omitempty"`
	Count  int      `json:"count,omitempty"`
	Text   string   `json:"text,omitempty"`
	Keys   []string `json:"keys,omitempty"`
}

func (e Event) String() string {
	switch e.Kind {
	case "move":
		return fmt.Sprintf("move(%d,%d)", e.X, e.Y)
	case "click":
		return fmt.Sprintf("click(%s,%d)", e.Button, e.Count)
	case "scroll":
		return fmt.Sprintf("scroll(%d)", e.Count)
	case "type":
		return fmt.Sprintf("type(%s)", e.Text)
	case "press":
		return fmt.Sprintf("press(%s,%d)", strings.Join(e.Keys, "+"), e.Count)
	case "chord":
		return fmt.Sprintf("chord(%s)", strings.Join(e.Keys, "+"))
	}
	return e.Kind
}

// Options configures a Desktop.
type Options struct {
	Scale          int // capture pixels per logical pixel
	PixelsPerClick int // logical pixels scrolled per wheel click
}

type overlay struct {
	img   image.Image
	at    image.Point
	after int // captures to wait before showing
}

// Desktop implements interfaces.Desktop over an in-memory page.
type Desktop struct {
	mu sync.Mutex

	page           *image.Gray
	viewW, viewH   int
	scale          int
	pixelsPerClick int
	offsetPx       int
	pointer        image.Point
	captures       int
	overlays       []*overlay
	events         []Event
	failOn         map[string]error
	logger         *logrus.Logger
}

// New creates a desktop showing the top of page through a viewW×viewH
// logical viewport.
func New(page image.Image, viewW, viewH int, opts Options, logger *logrus.Logger) *Desktop {
	if opts.Scale <= 0 {
		opts.Scale = 1
	}
	if opts.PixelsPerClick <= 0 {
		opts.PixelsPerClick = 10
	}
	b := page.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), page, b.Min, draw.Src)
	if viewW > g.Bounds().Dx() {
		viewW = g.Bounds().Dx()
	}
	if viewH > g.Bounds().Dy() {
		viewH = g.Bounds().Dy()
	}
	return &Desktop{
		page:           g,
		viewW:          viewW,
		viewH:          viewH,
		scale:          opts.Scale,
		pixelsPerClick: opts.PixelsPerClick,
		failOn:         make(map[string]error),
		logger:         logger,
	}
}

var _ interfaces.Desktop = (*Desktop)(nil)

func (d *Desktop) maxOffset() int {
	return d.page.Bounds().Dy() - d.viewH
}

// CapturePhysicalScreen renders the viewport at capture scale.
func (d *Desktop) CapturePhysicalScreen(ctx context.Context) (image.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failOn["capture"]; err != nil {
		return nil, err
	}
	d.captures++

	view := image.NewGray(image.Rect(0, 0, d.viewW, d.viewH))
	draw.Draw(view, view.Bounds(), d.page, image.Pt(0, d.offsetPx), draw.Src)
	for _, o := range d.overlays {
		if d.captures > o.after {
			r := o.img.Bounds().Sub(o.img.Bounds().Min).Add(o.at)
			draw.Draw(view, r, o.img, o.img.Bounds().Min, draw.Src)
		}
	}
	return Upscale(view, d.scale), nil
}

// LogicalScreenSize reports the viewport in logical pixels.
func (d *Desktop) LogicalScreenSize(ctx context.Context) (int, int, error) {
	return d.viewW, d.viewH, nil
}

func (d *Desktop) record(e Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failOn[e.Kind]; err != nil {
		return err
	}
	d.events = append(d.events, e)
	if d.logger != nil {
		d.logger.Debugf("sim: %s", e)
	}
	return nil
}

// MovePointer implements interfaces.InputController.
func (d *Desktop) MovePointer(ctx context.Context, x, y int, smooth bool) error {
	if err := d.record(Event{Kind: "move", X: x, Y: y}); err != nil {
		return err
	}
	d.mu.Lock()
	d.pointer = image.Pt(x, y)
	d.mu.Unlock()
	return nil
}

// Click implements interfaces.InputController.
func (d *Desktop) Click(ctx context.Context, button string, count int, interval time.Duration) error {
	d.mu.Lock()
	p := d.pointer
	d.mu.Unlock()
	return d.record(Event{Kind: "click", X: p.X, Y: p.Y, Button: button, Count: count})
}

// Scroll moves the page; positive clicks scroll toward the top. The page
// stops at both ends like a real document.
func (d *Desktop) Scroll(ctx context.Context, clicks int) error {
	if err := d.record(Event{Kind: "scroll", Count: clicks}); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.offsetPx -= clicks * d.pixelsPerClick
	if d.offsetPx < 0 {
		d.offsetPx = 0
	}
	if m := d.maxOffset(); d.offsetPx > m {
		d.offsetPx = m
	}
	return nil
}

// TypeText implements interfaces.InputController.
func (d *Desktop) TypeText(ctx context.Context, text string, interval time.Duration, viaClipboard bool) error {
	return d.record(Event{Kind: "type", Text: text})
}

// PressKey implements interfaces.InputController.
func (d *Desktop) PressKey(ctx context.Context, key string, repeat int, interval time.Duration) error {
	return d.record(Event{Kind: "press", Keys: []string{key}, Count: repeat})
}

// PressChord implements interfaces.InputController.
func (d *Desktop) PressChord(ctx context.Context, keys []string, interval time.Duration) error {
	return d.record(Event{Kind: "chord", Keys: append([]string(nil), keys...)})
}

// ReleaseAllModifiers implements interfaces.InputController.
func (d *Desktop) ReleaseAllModifiers(ctx context.Context) error {
	return d.record(Event{Kind: "release"})
}

// Navigate implements interfaces.Desktop.
func (d *Desktop) Navigate(ctx context.Context, url string) error {
	return d.record(Event{Kind: "navigate", Text: url})
}

// Close implements interfaces.Desktop.
func (d *Desktop) Close() error { return nil }

// Events returns a copy of the input log.
func (d *Desktop) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Event(nil), d.events...)
}

// EventsOf filters the input log by kind.
func (d *Desktop) EventsOf(kind string) []Event {
	var out []Event
	for _, e := range d.Events() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// ResetEvents clears the input log.
func (d *Desktop) ResetEvents() {
	d.mu.Lock()
	d.events = nil
	d.mu.Unlock()
}

// OffsetClicks is the current scroll position in clicks from the top.
func (d *Desktop) OffsetClicks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.offsetPx / d.pixelsPerClick
}

// Pointer is the last pointer position.
func (d *Desktop) Pointer() image.Point {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pointer
}

// Captures counts screenshots taken so far.
func (d *Desktop) Captures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.captures
}

// FailOn makes every later event of kind fail with err ("capture" fails
// screenshots).
func (d *Desktop) FailOn(kind string, err error) {
	d.mu.Lock()
	d.failOn[kind] = err
	d.mu.Unlock()
}

// ShowOverlay paints img (logical pixels) at a fixed viewport position once
// after captures have been taken, like a popup finishing its load.
func (d *Desktop) ShowOverlay(img image.Image, at image.Point, after int) {
	d.mu.Lock()
	d.overlays = append(d.overlays, &overlay{img: img, at: at, after: d.captures + after})
	d.mu.Unlock()
}

// Template cuts a page region (logical pixels) and returns it at capture
// scale, the way a reference snippet would be cut from a real screenshot.
func (d *Desktop) Template(name string, r image.Rectangle) *entities.ReferenceTemplate {
	sub := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(sub, sub.Bounds(), d.page, r.Min, draw.Src)
	return &entities.ReferenceTemplate{Name: name, Image: Upscale(sub, d.scale)}
}

// Upscale enlarges img by an integer factor with nearest-neighbour sampling.
func Upscale(img *image.Gray, factor int) *image.Gray {
	if factor <= 1 {
		return img
	}
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx()*factor, b.Dy()*factor))
	for y := 0; y < out.Bounds().Dy(); y++ {
		for x := 0; x < out.Bounds().Dx(); x++ {
			out.SetGray(x, y, img.GrayAt(b.Min.X+x/factor, b.Min.Y+y/factor))
		}
	}
	return out
}

// Fill paints a solid rectangle onto a page.
func Fill(page draw.Image, r image.Rectangle, level uint8) {
	draw.Draw(page, r, &image.Uniform{C: color.Gray{Y: level}}, image.Point{}, draw.Src)
}
