package simulator

import (
	"image"
	"image/color"
	"math/rand"
)

// Texture builds a page of random gray blocks. Every region larger than a
// few blocks is unique, so any cut of it makes an unambiguous template.
func Texture(w, h, block int, seed int64) *image.Gray {
	if block <= 0 {
		block = 3
	}
	rng := rand.New(rand.NewSource(seed))
	img := image.NewGray(image.Rect(0, 0, w, h))
	for by := 0; by < h; by += block {
		for bx := 0; bx < w; bx += block {
			c := color.Gray{Y: uint8(rng.Intn(256))}
			for y := by; y < by+block && y < h; y++ {
				for x := bx; x < bx+block && x < w; x++ {
					img.SetGray(x, y, c)
				}
			}
		}
	}
	return img
}
