// Package browser drives a real Chromium window as an interfaces.Desktop.
// Every backend exposes the same screen-space surface: screenshots, pointer
// moves at viewport coordinates, wheel scrolling and raw keystrokes. None of
// them query the DOM.
package browser

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"time"

	"screenfill/domain/entities"
	"screenfill/domain/interfaces"

	"github.com/sirupsen/logrus"
)

// Backend names.
const (
	BackendPlaywright = "playwright"
	BackendSelenium   = "selenium"
	BackendCDP        = "cdp"
)

// Options configures a browser desktop.
type Options struct {
	Backend        string
	RemoteURL      string // selenium hub or CDP websocket; empty launches locally
	Headless       bool
	Width, Height  int
	DeviceScale    float64 // capture pixels per logical pixel
	PixelsPerClick int     // wheel delta per scroll click
	StateDir       string  // persisted cookies/profile; empty uses ~/.screenfill
}

func (o *Options) defaults() {
	if o.Width <= 0 {
		o.Width = 1280
	}
	if o.Height <= 0 {
		o.Height = 720
	}
	if o.DeviceScale <= 0 {
		o.DeviceScale = 1
	}
	if o.PixelsPerClick <= 0 {
		o.PixelsPerClick = 100
	}
}

// Open starts the configured backend.
func Open(ctx context.Context, opts Options, logger *logrus.Logger) (interfaces.Desktop, error) {
	opts.defaults()
	switch opts.Backend {
	case BackendPlaywright, "":
		return NewPlaywrightDesktop(opts, logger)
	case BackendSelenium:
		return NewSeleniumDesktop(opts, logger)
	case BackendCDP:
		return NewCDPDesktop(ctx, opts, logger)
	}
	return nil, fmt.Errorf("unknown browser backend %q", opts.Backend)
}

func decodeCapture(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: screenshot: %v", entities.ErrUnreadableImage, err)
	}
	return img, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
