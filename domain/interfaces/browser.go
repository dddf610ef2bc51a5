package interfaces

import (
	"context"
	"image"
	"time"
)

// ScreenCapturer reads the physical screen.
type ScreenCapturer interface {
	// CapturePhysicalScreen returns the raw capture (may be HiDPI)
	CapturePhysicalScreen(ctx context.Context) (image.Image, error)

	// LogicalScreenSize returns the input-event coordinate space size
	LogicalScreenSize(ctx context.Context) (int, int, error)
}

// InputController dispatches synthetic input. Scroll clicks are signed:
// positive scrolls toward the top of the page, negative toward the end.
type InputController interface {
	MovePointer(ctx context.Context, x, y int, smooth bool) error
	Click(ctx context.Context, button string, count int, interval time.Duration) error
	Scroll(ctx context.Context, clicks int) error
	TypeText(ctx context.Context, text string, interval time.Duration, viaClipboard bool) error
	PressKey(ctx context.Context, key string, repeat int, interval time.Duration) error
	PressChord(ctx context.Context, keys []string, interval time.Duration) error
	ReleaseAllModifiers(ctx context.Context) error
}

// Desktop is one exclusively owned screen plus its input devices.
type Desktop interface {
	ScreenCapturer
	InputController

	// Navigate opens the target application
	Navigate(ctx context.Context, url string) error

	// Close releases the backend
	Close() error
}
