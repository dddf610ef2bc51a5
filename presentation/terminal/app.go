// Package terminal is the command line front end: it wires the engine to a
// desktop backend and exposes tasks, pages and debugging aids as commands.
package terminal

import (
	"context"
	"fmt"
	"image"

	"screenfill/application/associator"
	"screenfill/application/fieldcache"
	"screenfill/application/interpreter"
	"screenfill/application/locator"
	"screenfill/application/orchestrator"
	"screenfill/domain/interfaces"
	"screenfill/infrastructure/ai"
	"screenfill/infrastructure/browser"
	"screenfill/infrastructure/config"
	"screenfill/infrastructure/security"
	"screenfill/infrastructure/simulator"
	"screenfill/infrastructure/storage"
	"screenfill/presentation/statusapi"

	"github.com/sirupsen/logrus"
)

// App is one wired engine bound to one desktop.
type App struct {
	Settings     config.Settings
	Site         *config.FileSiteConfig
	Desktop      interfaces.Desktop
	Locator      *locator.Locator
	Orchestrator *orchestrator.Orchestrator
	Store        interfaces.RunStore

	logger     *logrus.Logger
	stopStatus context.CancelFunc
}

// Build loads the site description, opens the desktop backend and wires the
// engine around it.
func Build(ctx context.Context, s config.Settings, logger *logrus.Logger) (*App, error) {
	site, err := config.LoadSiteConfig(s.ConfigPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load site config: %w", err)
	}

	store, err := storage.NewRunHistory(s.HistoryDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open run history: %w", err)
	}

	desktop, err := openDesktop(ctx, s, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize desktop: %w", err)
	}

	app := &App{
		Settings: s,
		Site:     site,
		Desktop:  desktop,
		Store:    store,
		logger:   logger,
	}

	var status interfaces.StatusReporter = NewLogReporter(logger)
	if s.StatusAddr != "" {
		srv := statusapi.New(store, status, logger)
		statusCtx, cancel := context.WithCancel(context.Background())
		app.stopStatus = cancel
		go func() {
			if err := srv.ListenAndServe(statusCtx, s.StatusAddr); err != nil {
				logger.WithError(err).Error("Status API stopped")
			}
		}()
		status = srv
	}

	var detector interfaces.Detector
	if s.OpenAIKey != "" {
		vc, err := ai.NewVisionClient(s.OpenAIKey, s.OpenAIBaseURL, s.OpenAIModel, logger)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to initialize vision client: %w", err)
		}
		detector = vc
	} else {
		logger.Debug("OPENAI_API_KEY not set, layout inference disabled")
	}

	app.Locator = locator.New(desktop, logger,
		locator.WithMatcher(newMatcher(s)),
		locator.WithScales(s.TemplateScales...))
	cache := fieldcache.New(app.Locator, desktop, site, s.CacheSettings(site.FooterLandmark()), logger)
	interp := interpreter.New(desktop, app.Locator, site, s.InterpreterSettings(), logger,
		interpreter.WithStatus(status))

	app.Orchestrator = orchestrator.New(orchestrator.Deps{
		Input:       desktop,
		Site:        site,
		Locator:     app.Locator,
		Cache:       cache,
		Interpreter: interp,
		Guard:       security.NewRecipeGuard(s.AllowUnsafeChords, logger),
		Detector:    detector,
		Store:       store,
		Status:      status,
	}, orchestrator.Settings{
		MissingFields: s.MissingFields,
		Settle:        s.Settle,
		Threshold:     s.MatchThreshold,
		Thresholds:    associator.DefaultThresholds,
	}, logger)

	return app, nil
}

func openDesktop(ctx context.Context, s config.Settings, logger *logrus.Logger) (interfaces.Desktop, error) {
	if s.Backend == "sim" {
		return newSimDesktop(s, logger), nil
	}
	d, err := browser.Open(ctx, browser.Options{
		Backend:   s.Backend,
		RemoteURL: s.RemoteURL,
		Headless:  s.Headless,
	}, logger)
	if err != nil {
		return nil, err
	}
	if s.TargetURL != "" {
		if err := d.Navigate(ctx, s.TargetURL); err != nil {
			d.Close()
			return nil, fmt.Errorf("failed to open %s: %w", s.TargetURL, err)
		}
	}
	return d, nil
}

// newSimDesktop shows the image at TargetURL when it is a readable file, a
// synthetic page otherwise. Useful for dry runs of a site description.
func newSimDesktop(s config.Settings, logger *logrus.Logger) interfaces.Desktop {
	var page image.Image = simulator.Texture(1280, 2400, 8, 1)
	if tmpl, err := config.LoadTemplate("page", s.TargetURL); err == nil {
		page = tmpl.Image
		logger.Infof("Simulating %s", s.TargetURL)
	} else {
		logger.Info("Simulating a synthetic page")
	}
	return simulator.New(page, 1280, 720, simulator.Options{Scale: 1, PixelsPerClick: 10}, logger)
}

// Close stops the status server and releases the desktop.
func (a *App) Close() error {
	if a.stopStatus != nil {
		a.stopStatus()
	}
	if a.Desktop != nil {
		return a.Desktop.Close()
	}
	return nil
}
