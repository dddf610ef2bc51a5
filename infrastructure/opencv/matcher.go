//go:build gocv

// Package opencv provides a template matcher backed by OpenCV. It needs cgo
// and an OpenCV install, so it is only built with -tags gocv.
package opencv

import (
	"fmt"
	"image"
	"image/draw"

	"screenfill/application/locator"

	"gocv.io/x/gocv"
)

// Matcher runs TM_CCOEFF_NORMED over grayscale copies of both images.
type Matcher struct{}

// NewMatcher returns an OpenCV matcher.
func NewMatcher() *Matcher { return &Matcher{} }

var _ locator.Matcher = (*Matcher)(nil)

// Match implements locator.Matcher.
func (m *Matcher) Match(img, tmpl image.Image) (float64, image.Point, error) {
	ib, tb := img.Bounds(), tmpl.Bounds()
	if tb.Dx() > ib.Dx() || tb.Dy() > ib.Dy() {
		return -1, image.Point{}, nil
	}

	src, err := gocv.ImageGrayToMatGray(gray(img))
	if err != nil {
		return 0, image.Point{}, fmt.Errorf("capture to mat: %w", err)
	}
	defer src.Close()
	t, err := gocv.ImageGrayToMatGray(gray(tmpl))
	if err != nil {
		return 0, image.Point{}, fmt.Errorf("template to mat: %w", err)
	}
	defer t.Close()

	result := gocv.NewMat()
	defer result.Close()
	mask := gocv.NewMat()
	defer mask.Close()

	gocv.MatchTemplate(src, t, &result, gocv.TmCcoeffNormed, mask)
	_, maxVal, _, maxLoc := gocv.MinMaxLoc(result)
	return float64(maxVal), maxLoc, nil
}

func gray(img image.Image) *image.Gray {
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g
}
