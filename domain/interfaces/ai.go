package interfaces

import (
	"context"
	"image"

	"screenfill/domain/entities"
)

// Detector is the perception model. Coordinates are capture pixels.
type Detector interface {
	// DetectBoundingBoxes finds input widgets (top-left corners)
	DetectBoundingBoxes(ctx context.Context, img image.Image) ([]entities.BoundingBox, error)

	// DetectTextRegions finds text with its bounding box
	DetectTextRegions(ctx context.Context, img image.Image) ([]entities.TextRegion, error)
}
