package browser

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"screenfill/domain/interfaces"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"
)

var cdpModifiers = map[string]input.Modifier{
	"Alt":     input.ModifierAlt,
	"Control": input.ModifierCtrl,
	"Meta":    input.ModifierMeta,
	"Shift":   input.ModifierShift,
}

type cdpDesktop struct {
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc

	mu             sync.Mutex
	x, y           float64
	held           input.Modifier
	pixelsPerClick int
	logger         *logrus.Logger
}

// NewCDPDesktop talks the DevTools protocol directly. A RemoteURL attaches
// to a running browser (ws://host:9222); otherwise Chrome is launched.
func NewCDPDesktop(ctx context.Context, opts Options, logger *logrus.Logger) (interfaces.Desktop, error) {
	opts.defaults()

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), opts.RemoteURL)
	} else {
		base, err := stateDirectory(opts.StateDir)
		if err != nil {
			return nil, err
		}
		flags := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", opts.Headless),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
			chromedp.WindowSize(opts.Width, opts.Height),
			chromedp.UserDataDir(filepath.Join(base, "cdp_profile")),
		)
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), flags...)
	}

	bctx, cancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(logger.Debugf))
	err := chromedp.Run(bctx, chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height),
		chromedp.EmulateScale(opts.DeviceScale)))
	if err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	if err := ctx.Err(); err != nil {
		cancel()
		allocCancel()
		return nil, err
	}

	logger.Infof("cdp desktop ready (%dx%d @%.1fx)", opts.Width, opts.Height, opts.DeviceScale)
	return &cdpDesktop{
		allocCancel:    allocCancel,
		ctx:            bctx,
		cancel:         cancel,
		pixelsPerClick: opts.PixelsPerClick,
		logger:         logger,
	}, nil
}

func (d *cdpDesktop) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return chromedp.Run(d.ctx, actions...)
}

func (d *cdpDesktop) pointer() (float64, float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.x, d.y
}

func (d *cdpDesktop) modifiers() input.Modifier {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.held
}

// CapturePhysicalScreen implements interfaces.ScreenCapturer.
func (d *cdpDesktop) CapturePhysicalScreen(ctx context.Context) (image.Image, error) {
	var buf []byte
	if err := d.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return decodeCapture(buf)
}

// LogicalScreenSize implements interfaces.ScreenCapturer.
func (d *cdpDesktop) LogicalScreenSize(ctx context.Context) (int, int, error) {
	var dims []int
	if err := d.run(ctx, chromedp.Evaluate(`[window.innerWidth, window.innerHeight]`, &dims)); err != nil {
		return 0, 0, err
	}
	if len(dims) != 2 {
		return 0, 0, fmt.Errorf("unexpected viewport result %v", dims)
	}
	return dims[0], dims[1], nil
}

// MovePointer interpolates ten intermediate events when smooth.
func (d *cdpDesktop) MovePointer(ctx context.Context, x, y int, smooth bool) error {
	fromX, fromY := d.pointer()
	toX, toY := float64(x), float64(y)
	steps := 1
	if smooth {
		steps = 10
	}
	err := d.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for i := 1; i <= steps; i++ {
			f := float64(i) / float64(steps)
			px := fromX + (toX-fromX)*f
			py := fromY + (toY-fromY)*f
			if err := input.DispatchMouseEvent(input.MouseMoved, px, py).
				WithModifiers(d.modifiers()).Do(ctx); err != nil {
				return err
			}
		}
		return nil
	}))
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.x, d.y = toX, toY
	d.mu.Unlock()
	return nil
}

func cdpButton(name string) input.MouseButton {
	switch strings.ToLower(name) {
	case "right":
		return input.Right
	case "middle":
		return input.Middle
	}
	return input.Left
}

// Click implements interfaces.InputController.
func (d *cdpDesktop) Click(ctx context.Context, button string, count int, interval time.Duration) error {
	x, y := d.pointer()
	btn := cdpButton(button)
	for i := 1; i <= count; i++ {
		if i > 1 {
			if err := sleepContext(ctx, interval); err != nil {
				return err
			}
		}
		n := int64(i)
		err := d.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			if err := input.DispatchMouseEvent(input.MousePressed, x, y).
				WithButton(btn).WithClickCount(n).WithModifiers(d.modifiers()).Do(ctx); err != nil {
				return err
			}
			return input.DispatchMouseEvent(input.MouseReleased, x, y).
				WithButton(btn).WithClickCount(n).WithModifiers(d.modifiers()).Do(ctx)
		}))
		if err != nil {
			return err
		}
	}
	return nil
}

// Scroll sends a wheel event at the pointer; positive clicks scroll up.
func (d *cdpDesktop) Scroll(ctx context.Context, clicks int) error {
	x, y := d.pointer()
	return d.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return input.DispatchMouseEvent(input.MouseWheel, x, y).
			WithDeltaX(0).
			WithDeltaY(float64(-clicks * d.pixelsPerClick)).
			Do(ctx)
	}))
}

// TypeText implements interfaces.InputController.
func (d *cdpDesktop) TypeText(ctx context.Context, text string, interval time.Duration, viaClipboard bool) error {
	if viaClipboard {
		return d.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			return input.InsertText(text).Do(ctx)
		}))
	}
	for i, r := range text {
		if i > 0 {
			if err := sleepContext(ctx, interval); err != nil {
				return err
			}
		}
		ch := string(r)
		if err := d.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			return input.DispatchKeyEvent(input.KeyChar).WithText(ch).Do(ctx)
		})); err != nil {
			return err
		}
	}
	return nil
}

func (d *cdpDesktop) keyDown(spec keySpec) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if m, ok := cdpModifiers[spec.key]; ok {
			d.mu.Lock()
			d.held |= m
			d.mu.Unlock()
		}
		ev := input.DispatchKeyEvent(input.KeyRawDown)
		text := printable(spec)
		if text != "" && d.modifiers()&^input.ModifierShift == 0 {
			ev = input.DispatchKeyEvent(input.KeyDown).WithText(text)
		}
		return ev.WithKey(spec.key).
			WithCode(spec.code).
			WithWindowsVirtualKeyCode(spec.vk).
			WithModifiers(d.modifiers()).
			Do(ctx)
	})
}

func (d *cdpDesktop) keyUp(spec keySpec) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if m, ok := cdpModifiers[spec.key]; ok {
			d.mu.Lock()
			d.held &^= m
			d.mu.Unlock()
		}
		return input.DispatchKeyEvent(input.KeyUp).
			WithKey(spec.key).
			WithCode(spec.code).
			WithWindowsVirtualKeyCode(spec.vk).
			WithModifiers(d.modifiers()).
			Do(ctx)
	})
}

// printable is the text a key inserts on its own, if any.
func printable(spec keySpec) string {
	switch spec.key {
	case "Enter":
		return "\r"
	case "Tab":
		return "\t"
	}
	if len([]rune(spec.key)) == 1 {
		return spec.key
	}
	return ""
}

// PressKey implements interfaces.InputController.
func (d *cdpDesktop) PressKey(ctx context.Context, key string, repeat int, interval time.Duration) error {
	spec, err := lookupKey(key)
	if err != nil {
		return err
	}
	for i := 0; i < repeat; i++ {
		if i > 0 {
			if err := sleepContext(ctx, interval); err != nil {
				return err
			}
		}
		if err := d.run(ctx, d.keyDown(spec), d.keyUp(spec)); err != nil {
			return err
		}
	}
	return nil
}

// PressChord implements interfaces.InputController.
func (d *cdpDesktop) PressChord(ctx context.Context, keys []string, interval time.Duration) error {
	specs := make([]keySpec, 0, len(keys))
	for _, k := range keys {
		spec, err := lookupKey(k)
		if err != nil {
			return err
		}
		specs = append(specs, spec)
	}
	var pressErr error
	pressed := 0
	for _, spec := range specs {
		if pressErr = d.run(ctx, d.keyDown(spec)); pressErr != nil {
			break
		}
		pressed++
		if pressErr = sleepContext(ctx, interval); pressErr != nil {
			break
		}
	}
	for i := pressed - 1; i >= 0; i-- {
		if err := chromedp.Run(d.ctx, d.keyUp(specs[i])); err != nil && pressErr == nil {
			pressErr = err
		}
	}
	return pressErr
}

// ReleaseAllModifiers implements interfaces.InputController.
func (d *cdpDesktop) ReleaseAllModifiers(ctx context.Context) error {
	var actions []chromedp.Action
	for _, m := range modifierKeys {
		spec, _ := lookupKey(m)
		actions = append(actions, d.keyUp(spec))
	}
	return d.run(ctx, actions...)
}

// Navigate implements interfaces.Desktop.
func (d *cdpDesktop) Navigate(ctx context.Context, url string) error {
	d.logger.Infof("Navigating to: %s", url)
	return d.run(ctx, chromedp.Navigate(url))
}

// Close implements interfaces.Desktop.
func (d *cdpDesktop) Close() error {
	d.cancel()
	d.allocCancel()
	return nil
}
