package browser

import (
	"context"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"screenfill/domain/interfaces"

	"github.com/sirupsen/logrus"
	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/chrome"
)

const (
	chromeDriverPort = 9515
	pointerID        = "pointer"
	keyboardID       = "keyboard"
)

// seleniumKeys maps DOM key names to WebDriver key codepoints.
var seleniumKeys = map[string]string{
	"Enter":      selenium.EnterKey,
	"Tab":        selenium.TabKey,
	"Escape":     selenium.EscapeKey,
	"Backspace":  selenium.BackspaceKey,
	"Delete":     selenium.DeleteKey,
	"Insert":     selenium.InsertKey,
	" ":          selenium.SpaceKey,
	"ArrowUp":    selenium.UpArrowKey,
	"ArrowDown":  selenium.DownArrowKey,
	"ArrowLeft":  selenium.LeftArrowKey,
	"ArrowRight": selenium.RightArrowKey,
	"Home":       selenium.HomeKey,
	"End":        selenium.EndKey,
	"PageUp":     selenium.PageUpKey,
	"PageDown":   selenium.PageDownKey,
	"Shift":      selenium.ShiftKey,
	"Control":    selenium.ControlKey,
	"Alt":        selenium.AltKey,
	"Meta":       selenium.MetaKey,
	"F1":         selenium.F1Key,
	"F2":         selenium.F2Key,
	"F3":         selenium.F3Key,
	"F4":         selenium.F4Key,
	"F5":         selenium.F5Key,
	"F6":         selenium.F6Key,
	"F7":         selenium.F7Key,
	"F8":         selenium.F8Key,
	"F9":         selenium.F9Key,
	"F10":        selenium.F10Key,
	"F11":        selenium.F11Key,
	"F12":        selenium.F12Key,
}

func webdriverKey(name string) (string, error) {
	spec, err := lookupKey(name)
	if err != nil {
		return "", err
	}
	if k, ok := seleniumKeys[spec.key]; ok {
		return k, nil
	}
	return spec.key, nil
}

type seleniumDesktop struct {
	wd             selenium.WebDriver
	service        *selenium.Service
	logger         *logrus.Logger
	pixelsPerClick int
}

// findChromeDriver - finds ChromeDriver executable path
func findChromeDriver() (string, error) {
	if path := os.Getenv("BROWSER_DRIVER_PATH"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	commonPaths := []string{
		"/usr/local/bin/chromedriver",
		"/usr/bin/chromedriver",
		"/opt/homebrew/bin/chromedriver",
		filepath.Join(os.Getenv("HOME"), "bin", "chromedriver"),
	}
	for _, path := range commonPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	if path, err := exec.LookPath("chromedriver"); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("chromedriver not found. Please install it or set BROWSER_DRIVER_PATH environment variable")
}

// findChromeBinary - finds Chrome/Chromium browser executable path
func findChromeBinary() string {
	if path := os.Getenv("CHROME_BINARY_PATH"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	chromePaths := []string{
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium",
		"/usr/bin/chromium-browser",
		`C:\Program Files\Google\Chrome\Application\chrome.exe`,
	}
	for _, path := range chromePaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}

// NewSeleniumDesktop drives Chrome over WebDriver. With a RemoteURL it
// attaches to that hub, otherwise it starts a local chromedriver.
func NewSeleniumDesktop(opts Options, logger *logrus.Logger) (interfaces.Desktop, error) {
	opts.defaults()
	d := &seleniumDesktop{logger: logger, pixelsPerClick: opts.PixelsPerClick}

	hub := opts.RemoteURL
	if hub == "" {
		driverPath, err := findChromeDriver()
		if err != nil {
			return nil, fmt.Errorf("failed to find chromedriver: %w", err)
		}
		logger.Infof("Using ChromeDriver at: %s", driverPath)
		service, err := selenium.NewChromeDriverService(driverPath, chromeDriverPort)
		if err != nil {
			return nil, fmt.Errorf("failed to start chromedriver: %w", err)
		}
		d.service = service
		hub = fmt.Sprintf("http://localhost:%d/wd/hub", chromeDriverPort)
	}

	base, err := stateDirectory(opts.StateDir)
	if err != nil {
		d.Close()
		return nil, err
	}
	profileDir := filepath.Join(base, "chrome_profile")

	args := []string{
		"--disable-blink-features=AutomationControlled",
		"--disable-dev-shm-usage",
		"--no-sandbox",
		fmt.Sprintf("--window-size=%d,%d", opts.Width, opts.Height),
		fmt.Sprintf("--force-device-scale-factor=%g", opts.DeviceScale),
		fmt.Sprintf("--user-data-dir=%s", profileDir),
	}
	if opts.Headless {
		args = append(args, "--headless=new")
	}
	chromeCaps := chrome.Capabilities{Args: args}
	if bin := findChromeBinary(); bin != "" {
		logger.Infof("Using Chrome binary at: %s", bin)
		chromeCaps.Path = bin
	}
	caps := selenium.Capabilities{"browserName": "chrome"}
	caps.AddChrome(chromeCaps)

	wd, err := selenium.NewRemote(caps, hub)
	if err != nil {
		d.Close()
		if strings.Contains(err.Error(), "cannot find Chrome binary") {
			return nil, fmt.Errorf("failed to create webdriver: Chrome browser not found. Please install Google Chrome or set CHROME_BINARY_PATH environment variable. Error: %w", err)
		}
		return nil, fmt.Errorf("failed to create webdriver: %w", err)
	}
	d.wd = wd
	return d, nil
}

// CapturePhysicalScreen implements interfaces.ScreenCapturer.
func (d *seleniumDesktop) CapturePhysicalScreen(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := d.wd.Screenshot()
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return decodeCapture(data)
}

// LogicalScreenSize reads the layout viewport from the page.
func (d *seleniumDesktop) LogicalScreenSize(ctx context.Context) (int, int, error) {
	res, err := d.wd.ExecuteScript("return [window.innerWidth, window.innerHeight];", nil)
	if err != nil {
		return 0, 0, err
	}
	dims, ok := res.([]interface{})
	if !ok || len(dims) != 2 {
		return 0, 0, fmt.Errorf("unexpected viewport result %v", res)
	}
	w, okW := dims[0].(float64)
	h, okH := dims[1].(float64)
	if !okW || !okH {
		return 0, 0, fmt.Errorf("unexpected viewport result %v", res)
	}
	return int(w), int(h), nil
}

func (d *seleniumDesktop) perform(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.wd.PerformActions()
}

// MovePointer implements interfaces.InputController.
func (d *seleniumDesktop) MovePointer(ctx context.Context, x, y int, smooth bool) error {
	var dur time.Duration
	if smooth {
		dur = 250 * time.Millisecond
	}
	d.wd.StorePointerActions(pointerID, selenium.MousePointer,
		selenium.PointerMoveAction(dur, selenium.Point{X: x, Y: y}, selenium.FromViewport))
	return d.perform(ctx)
}

func webdriverButton(name string) selenium.MouseButton {
	switch strings.ToLower(name) {
	case "right":
		return selenium.RightButton
	case "middle":
		return selenium.MiddleButton
	}
	return selenium.LeftButton
}

// Click implements interfaces.InputController.
func (d *seleniumDesktop) Click(ctx context.Context, button string, count int, interval time.Duration) error {
	btn := webdriverButton(button)
	var actions []selenium.PointerAction
	for i := 0; i < count; i++ {
		if i > 0 {
			actions = append(actions, selenium.PointerPauseAction(interval))
		}
		actions = append(actions, selenium.PointerDownAction(btn), selenium.PointerUpAction(btn))
	}
	d.wd.StorePointerActions(pointerID, selenium.MousePointer, actions...)
	return d.perform(ctx)
}

// Scroll scrolls the window; WebDriver has no wheel source here.
func (d *seleniumDesktop) Scroll(ctx context.Context, clicks int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := d.wd.ExecuteScript("window.scrollBy(0, arguments[0]);", []interface{}{-clicks * d.pixelsPerClick})
	return err
}

// TypeText implements interfaces.InputController.
func (d *seleniumDesktop) TypeText(ctx context.Context, text string, interval time.Duration, viaClipboard bool) error {
	if viaClipboard {
		_, err := d.wd.ExecuteScript("document.execCommand('insertText', false, arguments[0]);", []interface{}{text})
		return err
	}
	var actions []selenium.KeyAction
	for i, r := range text {
		if i > 0 && interval > 0 {
			actions = append(actions, selenium.KeyPauseAction(interval))
		}
		actions = append(actions, selenium.KeyDownAction(string(r)), selenium.KeyUpAction(string(r)))
	}
	d.wd.StoreKeyActions(keyboardID, actions...)
	return d.perform(ctx)
}

// PressKey implements interfaces.InputController.
func (d *seleniumDesktop) PressKey(ctx context.Context, key string, repeat int, interval time.Duration) error {
	k, err := webdriverKey(key)
	if err != nil {
		return err
	}
	var actions []selenium.KeyAction
	for i := 0; i < repeat; i++ {
		if i > 0 {
			actions = append(actions, selenium.KeyPauseAction(interval))
		}
		actions = append(actions, selenium.KeyDownAction(k), selenium.KeyUpAction(k))
	}
	d.wd.StoreKeyActions(keyboardID, actions...)
	return d.perform(ctx)
}

// PressChord implements interfaces.InputController.
func (d *seleniumDesktop) PressChord(ctx context.Context, keys []string, interval time.Duration) error {
	codes := make([]string, 0, len(keys))
	for _, name := range keys {
		k, err := webdriverKey(name)
		if err != nil {
			return err
		}
		codes = append(codes, k)
	}
	var actions []selenium.KeyAction
	for _, k := range codes {
		actions = append(actions, selenium.KeyDownAction(k), selenium.KeyPauseAction(interval))
	}
	for i := len(codes) - 1; i >= 0; i-- {
		actions = append(actions, selenium.KeyUpAction(codes[i]))
	}
	d.wd.StoreKeyActions(keyboardID, actions...)
	return d.perform(ctx)
}

// ReleaseAllModifiers implements interfaces.InputController.
func (d *seleniumDesktop) ReleaseAllModifiers(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.wd.ReleaseActions()
}

// Navigate implements interfaces.Desktop.
func (d *seleniumDesktop) Navigate(ctx context.Context, url string) error {
	d.logger.Infof("Navigating to: %s", url)
	return d.wd.Get(url)
}

// Close - closes browser and stops ChromeDriver service
func (d *seleniumDesktop) Close() error {
	if d.wd != nil {
		d.wd.Quit()
		d.wd = nil
	}
	if d.service != nil {
		d.service.Stop()
		d.service = nil
	}
	return nil
}
