// Package config loads runtime settings from the environment and the site
// description (tasks, pages, recipes, templates) from disk.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"screenfill/application/fieldcache"
	"screenfill/application/interpreter"
	"screenfill/application/orchestrator"
	"screenfill/domain/entities"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Settings are the runtime knobs. Every field has an environment variable.
type Settings struct {
	ConfigPath        string
	Backend           string // playwright, selenium, cdp, sim
	TargetURL         string
	RemoteURL         string // selenium hub or CDP websocket
	Headless          bool
	MatchThreshold    float64
	ExtentStep        int
	DiscoveryStep     int
	MaxScroll         int
	TopReset          int
	PollInterval      time.Duration
	PollRetries       int
	Settle            time.Duration
	MissingFields     string
	LocatorDownscale  int
	TemplateScales    []float64
	AllowUnsafeChords bool
	OpenAIKey         string
	OpenAIModel       string
	OpenAIBaseURL     string
	StatusAddr        string
	HistoryDir        string
	LogLevel          string
}

// LoadEnv reads .env when present. A missing file is not an error.
func LoadEnv(logger *logrus.Logger, files ...string) {
	if err := godotenv.Load(files...); err != nil {
		logger.Debug(".env file not found, using environment variables")
	}
}

// FromEnv builds Settings from the process environment.
func FromEnv() (Settings, error) {
	s := Settings{
		ConfigPath:    env("SCREENFILL_CONFIG", "./emr_templates/officeAlly/config.yaml"),
		Backend:       env("SCREENFILL_BACKEND", "playwright"),
		TargetURL:     env("SCREENFILL_TARGET_URL", "https://www.officeally.com"),
		RemoteURL:     env("SCREENFILL_REMOTE_URL", ""),
		MissingFields: strings.ToLower(env("SCREENFILL_MISSING_FIELDS", orchestrator.MissingSkip)),
		OpenAIKey:     env("OPENAI_API_KEY", ""),
		OpenAIModel:   env("OPENAI_MODEL", "gpt-4o"),
		OpenAIBaseURL: env("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		StatusAddr:    env("SCREENFILL_STATUS_ADDR", ""),
		HistoryDir:    env("SCREENFILL_HISTORY_DIR", ""),
		LogLevel:      env("SCREENFILL_LOG_LEVEL", "info"),
	}

	var err error
	if s.Headless, err = envBool("SCREENFILL_HEADLESS", false); err != nil {
		return s, err
	}
	if s.AllowUnsafeChords, err = envBool("SCREENFILL_ALLOW_UNSAFE_CHORDS", false); err != nil {
		return s, err
	}
	if s.MatchThreshold, err = envFloat("SCREENFILL_MATCH_THRESHOLD", entities.DefaultMatchThreshold); err != nil {
		return s, err
	}
	ints := []struct {
		key string
		dst *int
		def int
	}{
		{"SCREENFILL_EXTENT_STEP", &s.ExtentStep, fieldcache.DefaultSettings.ExtentStep},
		{"SCREENFILL_DISCOVERY_STEP", &s.DiscoveryStep, fieldcache.DefaultSettings.DiscoveryStep},
		{"SCREENFILL_MAX_SCROLL", &s.MaxScroll, fieldcache.DefaultSettings.MaxScroll},
		{"SCREENFILL_TOP_RESET", &s.TopReset, fieldcache.DefaultSettings.TopReset},
		{"SCREENFILL_POLL_RETRIES", &s.PollRetries, interpreter.DefaultSettings.PollRetries},
		{"SCREENFILL_LOCATOR_DOWNSCALE", &s.LocatorDownscale, 2},
	}
	for _, i := range ints {
		if *i.dst, err = envInt(i.key, i.def); err != nil {
			return s, err
		}
	}
	if s.PollInterval, err = envDuration("SCREENFILL_POLL_INTERVAL", interpreter.DefaultSettings.PollInterval); err != nil {
		return s, err
	}
	if s.Settle, err = envDuration("SCREENFILL_SETTLE", 3*time.Second); err != nil {
		return s, err
	}
	if s.TemplateScales, err = parseScales(env("SCREENFILL_TEMPLATE_SCALES", "1.0")); err != nil {
		return s, err
	}
	return s, s.Validate()
}

// Validate checks value ranges.
func (s Settings) Validate() error {
	switch s.MissingFields {
	case orchestrator.MissingSkip, orchestrator.MissingFail:
	default:
		return fmt.Errorf("SCREENFILL_MISSING_FIELDS must be %q or %q, got %q", orchestrator.MissingSkip, orchestrator.MissingFail, s.MissingFields)
	}
	switch s.Backend {
	case "playwright", "selenium", "cdp", "sim":
	default:
		return fmt.Errorf("unknown backend %q", s.Backend)
	}
	if s.MatchThreshold <= 0 || s.MatchThreshold > 1 {
		return fmt.Errorf("match threshold %.2f out of (0, 1]", s.MatchThreshold)
	}
	return nil
}

// CacheSettings returns the scroll model parameters. The footer landmark is
// filled in from the site config.
func (s Settings) CacheSettings(footer string) fieldcache.Settings {
	return fieldcache.Settings{
		ExtentStep:     s.ExtentStep,
		DiscoveryStep:  s.DiscoveryStep,
		MaxScroll:      s.MaxScroll,
		TopReset:       s.TopReset,
		Threshold:      s.MatchThreshold,
		Settle:         fieldcache.DefaultSettings.Settle,
		FooterLandmark: footer,
	}
}

// InterpreterSettings returns the recipe primitive defaults.
func (s Settings) InterpreterSettings() interpreter.Settings {
	return interpreter.Settings{
		Modifier:     interpreter.DefaultSettings.Modifier,
		PollInterval: s.PollInterval,
		PollRetries:  s.PollRetries,
		Threshold:    s.MatchThreshold,
	}
}

func env(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := env(key, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := env(key, "")
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func envBool(key string, def bool) (bool, error) {
	v := env(key, "")
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

// envDuration accepts Go durations ("500ms") or plain seconds ("0.5").
func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := env(key, "")
	if v == "" {
		return def, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: not a duration: %q", key, v)
	}
	return time.Duration(f * float64(time.Second)), nil
}

func parseScales(v string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		f, err := strconv.ParseFloat(part, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("SCREENFILL_TEMPLATE_SCALES: bad scale %q", part)
		}
		out = append(out, f)
	}
	if len(out) == 0 {
		out = []float64{1}
	}
	return out, nil
}
