package entities

import "image"

// ScreenImage is one physical capture together with the logical screen size
// that was current when it was taken.
type ScreenImage struct {
	Image         image.Image
	Width         int // capture pixels
	Height        int
	LogicalWidth  int // input-event coordinates
	LogicalHeight int
}

// NewScreenImage wraps a capture. A zero logical size means the capture is
// already in logical space.
func NewScreenImage(img image.Image, logicalWidth, logicalHeight int) *ScreenImage {
	b := img.Bounds()
	if logicalWidth <= 0 || logicalHeight <= 0 {
		logicalWidth, logicalHeight = b.Dx(), b.Dy()
	}
	return &ScreenImage{
		Image:         img,
		Width:         b.Dx(),
		Height:        b.Dy(),
		LogicalWidth:  logicalWidth,
		LogicalHeight: logicalHeight,
	}
}

// Scale returns the capture-to-logical ratio on each axis.
func (s *ScreenImage) Scale() (float64, float64) {
	if s.LogicalWidth == 0 || s.LogicalHeight == 0 {
		return 1, 1
	}
	return float64(s.Width) / float64(s.LogicalWidth), float64(s.Height) / float64(s.LogicalHeight)
}

// ToLogical converts a capture pixel position into logical screen space.
func (s *ScreenImage) ToLogical(x, y int) (int, int) {
	sx, sy := s.Scale()
	return int(float64(x) / sx), int(float64(y) / sy)
}

// ReferenceTemplate is a named snippet of one UI element's appearance.
type ReferenceTemplate struct {
	Name  string
	Image image.Image
}

// MatchResult is the outcome of one locate call. X and Y are logical screen
// coordinates of the match centre and are only meaningful when Matched.
type MatchResult struct {
	Matched bool    `json:"matched"`
	Score   float64 `json:"score"`
	X       int     `json:"x"`
	Y       int     `json:"y"`
}

// DefaultMatchThreshold is the minimum correlation accepted as a match.
const DefaultMatchThreshold = 0.85
