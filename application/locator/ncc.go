package locator

import (
	"image"
	"image/draw"
	"math"

	"github.com/nfnt/resize"
)

// Matcher finds the best placement of a template inside an image. The score
// is the zero-mean normalized cross-correlation in [-1, 1]; loc is the
// top-left corner of the placement in image pixels.
type Matcher interface {
	Match(img, tmpl image.Image) (score float64, loc image.Point, err error)
}

// plane is a luminance raster with summed-area tables for fast window
// statistics.
type plane struct {
	w, h int
	pix  []float64
	sum  []float64 // (w+1)*(h+1)
	sq   []float64
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g
}

func newPlane(img image.Image) *plane {
	g := toGray(img)
	b := g.Bounds()
	p := &plane{w: b.Dx(), h: b.Dy()}
	p.pix = make([]float64, p.w*p.h)
	for y := 0; y < p.h; y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+p.w]
		for x, v := range row {
			p.pix[y*p.w+x] = float64(v)
		}
	}
	return p
}

func (p *plane) integrate() {
	stride := p.w + 1
	p.sum = make([]float64, stride*(p.h+1))
	p.sq = make([]float64, stride*(p.h+1))
	for y := 0; y < p.h; y++ {
		var rowSum, rowSq float64
		for x := 0; x < p.w; x++ {
			v := p.pix[y*p.w+x]
			rowSum += v
			rowSq += v * v
			p.sum[(y+1)*stride+x+1] = p.sum[y*stride+x+1] + rowSum
			p.sq[(y+1)*stride+x+1] = p.sq[y*stride+x+1] + rowSq
		}
	}
}

// window returns the sum and sum of squares of the w×h window at (x, y).
func (p *plane) window(x, y, w, h int) (float64, float64) {
	stride := p.w + 1
	a, b := y*stride+x, y*stride+x+w
	c, d := (y+h)*stride+x, (y+h)*stride+x+w
	return p.sum[d] - p.sum[b] - p.sum[c] + p.sum[a], p.sq[d] - p.sq[b] - p.sq[c] + p.sq[a]
}

// kernel is a template reduced to its zero-mean form.
type kernel struct {
	w, h int
	dev  []float64
	norm float64 // sum of squared deviations
}

func newKernel(t *plane) *kernel {
	k := &kernel{w: t.w, h: t.h, dev: make([]float64, len(t.pix))}
	var mean float64
	for _, v := range t.pix {
		mean += v
	}
	mean /= float64(len(t.pix))
	for i, v := range t.pix {
		d := v - mean
		k.dev[i] = d
		k.norm += d * d
	}
	return k
}

// scoreAt correlates the kernel with the window at (x, y).
func (k *kernel) scoreAt(img *plane, x, y int) float64 {
	n := float64(k.w * k.h)
	s, sq := img.window(x, y, k.w, k.h)
	variance := sq - s*s/n
	if variance <= 1e-9 || k.norm <= 1e-9 {
		return 0
	}
	var cross float64
	for ty := 0; ty < k.h; ty++ {
		row := img.pix[(y+ty)*img.w+x : (y+ty)*img.w+x+k.w]
		dev := k.dev[ty*k.w : (ty+1)*k.w]
		for i, v := range row {
			cross += dev[i] * v
		}
	}
	return cross / math.Sqrt(k.norm*variance)
}

// scan evaluates every placement whose top-left lies in r and returns the
// best one. Earlier placements win ties.
func (k *kernel) scan(img *plane, r image.Rectangle) (float64, image.Point) {
	r = r.Intersect(image.Rect(0, 0, img.w-k.w+1, img.h-k.h+1))
	best, loc := math.Inf(-1), image.Point{}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if s := k.scoreAt(img, x, y); s > best {
				best, loc = s, image.Pt(x, y)
			}
		}
	}
	return best, loc
}

// NCCMatcher is the pure Go matcher. With Downscale > 1 and a large enough
// image it searches a reduced copy first and refines the strongest coarse
// peaks at full resolution.
type NCCMatcher struct {
	Downscale     int
	CoarseMinArea int // image area below which the search is exhaustive
	Peaks         int
}

// NewNCCMatcher returns a matcher with coarse-to-fine search enabled for
// captures of at least 640×480.
func NewNCCMatcher(downscale int) *NCCMatcher {
	return &NCCMatcher{Downscale: downscale, CoarseMinArea: 640 * 480, Peaks: 3}
}

const minCoarseSide = 8

// Match implements Matcher.
func (m *NCCMatcher) Match(img, tmpl image.Image) (float64, image.Point, error) {
	ib, tb := img.Bounds(), tmpl.Bounds()
	if tb.Dx() > ib.Dx() || tb.Dy() > ib.Dy() {
		return 0, image.Point{}, nil
	}
	full := newPlane(img)
	full.integrate()
	k := newKernel(newPlane(tmpl))

	f := m.Downscale
	if f <= 1 || ib.Dx()*ib.Dy() < m.CoarseMinArea || tb.Dx()/f < minCoarseSide || tb.Dy()/f < minCoarseSide {
		score, loc := k.scan(full, image.Rect(0, 0, ib.Dx(), ib.Dy()))
		return score, loc, nil
	}

	small := newPlane(resize.Resize(uint(ib.Dx()/f), uint(ib.Dy()/f), toGray(img), resize.Bilinear))
	small.integrate()
	sk := newKernel(newPlane(resize.Resize(uint(tb.Dx()/f), uint(tb.Dy()/f), toGray(tmpl), resize.Bilinear)))

	best, bestLoc := math.Inf(-1), image.Point{}
	for _, peak := range coarsePeaks(sk, small, m.Peaks) {
		around := image.Rect(peak.X*f-2*f, peak.Y*f-2*f, peak.X*f+2*f+1, peak.Y*f+2*f+1)
		if s, loc := k.scan(full, around); s > best {
			best, bestLoc = s, loc
		}
	}
	return best, bestLoc, nil
}

// coarsePeaks returns up to n local maxima of the score map, suppressing a
// half-template neighbourhood around each pick.
func coarsePeaks(k *kernel, img *plane, n int) []image.Point {
	cols, rows := img.w-k.w+1, img.h-k.h+1
	if cols <= 0 || rows <= 0 {
		return nil
	}
	scores := make([]float64, cols*rows)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			scores[y*cols+x] = k.scoreAt(img, x, y)
		}
	}
	rx, ry := k.w/2+1, k.h/2+1
	var peaks []image.Point
	for len(peaks) < n {
		best, at := math.Inf(-1), -1
		for i, s := range scores {
			if s > best {
				best, at = s, i
			}
		}
		if at < 0 || math.IsInf(best, -1) {
			break
		}
		px, py := at%cols, at/cols
		peaks = append(peaks, image.Pt(px, py))
		for y := max(0, py-ry); y < min(rows, py+ry+1); y++ {
			for x := max(0, px-rx); x < min(cols, px+rx+1); x++ {
				scores[y*cols+x] = math.Inf(-1)
			}
		}
	}
	return peaks
}
