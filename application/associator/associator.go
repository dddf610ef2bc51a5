// Package associator pairs OCR text labels with detected input widgets.
//
// A label belongs to a field when it sits to the left of the field on the
// same row, or directly above it in the same column. Labels right of or below
// a field are never considered. Among qualifying labels the one nearest to
// the field (top-left to top-left) wins; fields without one are left out.
package associator

import (
	"math"
	"sort"

	"screenfill/domain/entities"
)

// Thresholds bound the label search around a field, in pixels.
type Thresholds struct {
	Horizontal float64
	Vertical   float64
	Distance   float64
}

// DefaultThresholds suit a typical form at 100% zoom.
var DefaultThresholds = Thresholds{Horizontal: 150, Vertical: 20, Distance: 200}

// gridMinimum is the input size from which labels are bucketed into a grid
// instead of being scanned linearly for every field.
const gridMinimum = 256

// Associate returns at most one association per field, in field order.
// When two labels are equally close the first in label order wins; callers
// must not rely on which one that is.
func Associate(labels []entities.LabelCandidate, fields []entities.FieldAnchor, th Thresholds) []entities.Association {
	candidates := func(entities.FieldAnchor) []int { return allIndexes(len(labels)) }
	if len(labels)*len(fields) >= gridMinimum*gridMinimum/4 && th.Horizontal > 0 && th.Vertical > 0 {
		g := newGrid(labels, th)
		candidates = g.near
	}

	var out []entities.Association
	for _, f := range fields {
		best, bestDist := -1, math.Inf(1)
		for _, i := range candidates(f) {
			d, ok := qualifies(labels[i], f, th)
			if ok && d < bestDist {
				best, bestDist = i, d
			}
		}
		if best < 0 {
			continue
		}
		out = append(out, entities.Association{
			Label:     labels[best].Text,
			FieldType: f.Type,
			X:         f.X,
			Y:         f.Y,
		})
	}
	return out
}

// qualifies applies the directional gates and the distance cap.
func qualifies(l entities.LabelCandidate, f entities.FieldAnchor, th Thresholds) (float64, bool) {
	dx := float64(f.X - l.X)
	dy := float64(f.Y - l.Y)

	leftOf := dx >= 0 && dx <= th.Horizontal && math.Abs(dy) <= th.Vertical
	above := dy >= 0 && dy <= th.Vertical && math.Abs(dx) <= th.Horizontal
	if !leftOf && !above {
		return 0, false
	}
	d := math.Hypot(dx, dy)
	if d > th.Distance {
		return 0, false
	}
	return d, true
}

func allIndexes(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// grid buckets labels by cells of Horizontal×Vertical pixels. Every label
// that can pass the gates for a field lies in the 3×3 cells around it.
type grid struct {
	cw, ch float64
	cells  map[[2]int][]int
}

func newGrid(labels []entities.LabelCandidate, th Thresholds) *grid {
	g := &grid{cw: th.Horizontal, ch: th.Vertical, cells: make(map[[2]int][]int)}
	for i, l := range labels {
		k := g.key(l.X, l.Y)
		g.cells[k] = append(g.cells[k], i)
	}
	return g
}

func (g *grid) key(x, y int) [2]int {
	return [2]int{int(math.Floor(float64(x) / g.cw)), int(math.Floor(float64(y) / g.ch))}
}

// near returns label indexes around f in ascending order, so tie-breaking
// matches the linear scan.
func (g *grid) near(f entities.FieldAnchor) []int {
	k := g.key(f.X, f.Y)
	var out []int
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			out = append(out, g.cells[[2]int{k[0] + dx, k[1] + dy}]...)
		}
	}
	sort.Ints(out)
	return out
}
