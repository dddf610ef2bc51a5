//go:build !gocv

package terminal

import (
	"screenfill/application/locator"
	"screenfill/infrastructure/config"
)

func newMatcher(s config.Settings) locator.Matcher {
	return locator.NewNCCMatcher(s.LocatorDownscale)
}
