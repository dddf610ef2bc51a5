//go:build gocv

package terminal

import (
	"screenfill/application/locator"
	"screenfill/infrastructure/config"
	"screenfill/infrastructure/opencv"
)

func newMatcher(config.Settings) locator.Matcher {
	return opencv.NewMatcher()
}
