package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"screenfill/domain/interfaces"

	"github.com/playwright-community/playwright-go"
	"github.com/sirupsen/logrus"
)

const browserStateFile = "state.json"

type playwrightDesktop struct {
	pw          *playwright.Playwright
	browser     playwright.Browser
	context     playwright.BrowserContext
	page        playwright.Page
	pages       []playwright.Page
	pagesMutex  sync.Mutex
	storagePath string

	pixelsPerClick int
	logger         *logrus.Logger
}

// NewPlaywrightDesktop launches Chromium through playwright. Cookies are
// restored from and saved to the state directory so a login survives runs.
func NewPlaywrightDesktop(opts Options, logger *logrus.Logger) (interfaces.Desktop, error) {
	opts.defaults()
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	stateDir, err := stateDirectory(opts.StateDir)
	if err != nil {
		return nil, err
	}
	storagePath := filepath.Join(stateDir, browserStateFile)

	contextOptions := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  opts.Width,
			Height: opts.Height,
		},
		DeviceScaleFactor: playwright.Float(opts.DeviceScale),
		IgnoreHttpsErrors: playwright.Bool(true),
		Permissions:       []string{"clipboard-read", "clipboard-write"},
	}
	if data, err := os.ReadFile(storagePath); err == nil {
		var storageState playwright.StorageState
		if err := json.Unmarshal(data, &storageState); err == nil {
			contextOptions.StorageState = storageState.ToOptionalStorageState()
		}
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args: []string{
			"--disable-popup-blocking",
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--disable-infobars",
			"--disable-notifications",
		},
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	bctx, err := browser.NewContext(contextOptions)
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	d := &playwrightDesktop{
		pw:             pw,
		browser:        browser,
		context:        bctx,
		page:           page,
		pages:          []playwright.Page{page},
		storagePath:    storagePath,
		pixelsPerClick: opts.PixelsPerClick,
		logger:         logger,
	}

	page.OnDialog(func(dialog playwright.Dialog) {
		dialog.Accept()
	})

	// Popups opened by the application take over the screen, like a real
	// window manager would focus them.
	bctx.OnPage(func(newPage playwright.Page) {
		d.pagesMutex.Lock()
		defer d.pagesMutex.Unlock()
		d.pages = append(d.pages, newPage)
		d.page = newPage

		newPage.OnDialog(func(dialog playwright.Dialog) {
			dialog.Accept()
		})
		newPage.OnClose(func(closedPage playwright.Page) {
			d.pagesMutex.Lock()
			defer d.pagesMutex.Unlock()
			for i, p := range d.pages {
				if p == closedPage {
					d.pages = append(d.pages[:i], d.pages[i+1:]...)
					break
				}
			}
			if d.page == closedPage && len(d.pages) > 0 {
				d.page = d.pages[len(d.pages)-1]
			}
		})
	})

	logger.Infof("playwright desktop ready (%dx%d @%.1fx)", opts.Width, opts.Height, opts.DeviceScale)
	return d, nil
}

func stateDirectory(dir string) (string, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = "."
		}
		dir = filepath.Join(homeDir, ".screenfill", "browser")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	return dir, nil
}

func (d *playwrightDesktop) current() playwright.Page {
	d.pagesMutex.Lock()
	defer d.pagesMutex.Unlock()
	return d.page
}

// CapturePhysicalScreen implements interfaces.ScreenCapturer.
func (d *playwrightDesktop) CapturePhysicalScreen(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := d.current().Screenshot()
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return decodeCapture(data)
}

// LogicalScreenSize is the viewport in CSS pixels.
func (d *playwrightDesktop) LogicalScreenSize(ctx context.Context) (int, int, error) {
	size := d.current().ViewportSize()
	if size == nil {
		return 0, 0, fmt.Errorf("viewport size unavailable")
	}
	return size.Width, size.Height, nil
}

// MovePointer implements interfaces.InputController.
func (d *playwrightDesktop) MovePointer(ctx context.Context, x, y int, smooth bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	opts := playwright.MouseMoveOptions{}
	if smooth {
		opts.Steps = playwright.Int(20)
	}
	return d.current().Mouse().Move(float64(x), float64(y), opts)
}

func mouseButton(name string) *playwright.MouseButton {
	switch strings.ToLower(name) {
	case "right":
		return playwright.MouseButtonRight
	case "middle":
		return playwright.MouseButtonMiddle
	}
	return playwright.MouseButtonLeft
}

// Click presses and releases at the pointer count times; the browser sees a
// double click when count is 2.
func (d *playwrightDesktop) Click(ctx context.Context, button string, count int, interval time.Duration) error {
	mouse := d.current().Mouse()
	btn := mouseButton(button)
	for i := 1; i <= count; i++ {
		if i > 1 {
			if err := sleepContext(ctx, interval); err != nil {
				return err
			}
		}
		if err := mouse.Down(playwright.MouseDownOptions{Button: btn, ClickCount: playwright.Int(i)}); err != nil {
			return err
		}
		if err := mouse.Up(playwright.MouseUpOptions{Button: btn, ClickCount: playwright.Int(i)}); err != nil {
			return err
		}
	}
	return nil
}

// Scroll turns the wheel; positive clicks scroll toward the top.
func (d *playwrightDesktop) Scroll(ctx context.Context, clicks int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.current().Mouse().Wheel(0, float64(-clicks*d.pixelsPerClick))
}

// TypeText implements interfaces.InputController.
func (d *playwrightDesktop) TypeText(ctx context.Context, text string, interval time.Duration, viaClipboard bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	kb := d.current().Keyboard()
	if viaClipboard {
		return kb.InsertText(text)
	}
	return kb.Type(text, playwright.KeyboardTypeOptions{
		Delay: playwright.Float(float64(interval.Milliseconds())),
	})
}

// PressKey implements interfaces.InputController.
func (d *playwrightDesktop) PressKey(ctx context.Context, key string, repeat int, interval time.Duration) error {
	spec, err := lookupKey(key)
	if err != nil {
		return err
	}
	kb := d.current().Keyboard()
	for i := 0; i < repeat; i++ {
		if i > 0 {
			if err := sleepContext(ctx, interval); err != nil {
				return err
			}
		}
		if err := kb.Press(spec.key); err != nil {
			return err
		}
	}
	return nil
}

// PressChord holds keys down in order and releases them in reverse.
func (d *playwrightDesktop) PressChord(ctx context.Context, keys []string, interval time.Duration) error {
	kb := d.current().Keyboard()
	var held []string
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			kb.Up(held[i])
		}
	}()
	for _, k := range keys {
		spec, err := lookupKey(k)
		if err != nil {
			return err
		}
		if err := kb.Down(spec.key); err != nil {
			return err
		}
		held = append(held, spec.key)
		if err := sleepContext(ctx, interval); err != nil {
			return err
		}
	}
	return nil
}

// ReleaseAllModifiers implements interfaces.InputController.
func (d *playwrightDesktop) ReleaseAllModifiers(ctx context.Context) error {
	kb := d.current().Keyboard()
	for _, m := range modifierKeys {
		if err := kb.Up(m); err != nil {
			return err
		}
	}
	return nil
}

// Navigate implements interfaces.Desktop.
func (d *playwrightDesktop) Navigate(ctx context.Context, url string) error {
	d.logger.Infof("Navigating to: %s", url)
	_, err := d.current().Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(30000),
	})
	return err
}

func (d *playwrightDesktop) saveState() error {
	if d.context == nil || d.storagePath == "" {
		return nil
	}
	if _, err := d.context.StorageState(d.storagePath); err != nil {
		return fmt.Errorf("failed to save browser state: %w", err)
	}
	return nil
}

func alreadyClosed(err error) bool {
	return strings.Contains(err.Error(), "closed")
}

// Close saves cookies and shuts the browser down. Errors from targets the
// user already closed are ignored.
func (d *playwrightDesktop) Close() error {
	var closeErr error
	if err := d.saveState(); err != nil && !alreadyClosed(err) {
		closeErr = err
	}
	if d.context != nil {
		if err := d.context.Close(); err != nil && !alreadyClosed(err) && closeErr == nil {
			closeErr = fmt.Errorf("failed to close context: %w", err)
		}
		d.context = nil
	}
	if d.browser != nil {
		if err := d.browser.Close(); err != nil && !alreadyClosed(err) && closeErr == nil {
			closeErr = fmt.Errorf("failed to close browser: %w", err)
		}
		d.browser = nil
	}
	if d.pw != nil {
		if err := d.pw.Stop(); err != nil && closeErr == nil {
			closeErr = fmt.Errorf("failed to stop playwright: %w", err)
		}
		d.pw = nil
	}
	return closeErr
}
