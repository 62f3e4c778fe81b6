// Package overlay turns normalized landmark coordinates into drawn skeleton
// geometry on a transparent surface layered over the video.
package overlay

import (
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/wellness/vigil/internal/types"
)

// Point is a resolved landmark in surface pixel coordinates.
type Point struct {
	X float64
	Y float64
}

// Segment is one stroked line of the skeleton.
type Segment struct {
	From Point
	To   Point
}

// Skeleton resolves the landmark set against a surface of the given size and
// returns the segments to stroke: spine (shoulder midpoint to hip midpoint),
// shoulder line, hip line, and the neck (left ear to shoulder midpoint) when
// the ear resolves. Returns nil unless both shoulders and both hips resolve;
// a partial skeleton is never drawn.
func Skeleton(landmarks types.LandmarkSet, width, height int) []Segment {
	resolve := func(idx int) (Point, bool) {
		lm, ok := landmarks.Point(idx)
		if !ok {
			return Point{}, false
		}
		return Point{X: lm.X * float64(width), Y: lm.Y * float64(height)}, true
	}

	leftShoulder, okLS := resolve(types.PointLeftShoulder)
	rightShoulder, okRS := resolve(types.PointRightShoulder)
	leftHip, okLH := resolve(types.PointLeftHip)
	rightHip, okRH := resolve(types.PointRightHip)
	if !okLS || !okRS || !okLH || !okRH {
		return nil
	}

	shoulderMid := midpoint(leftShoulder, rightShoulder)
	hipMid := midpoint(leftHip, rightHip)

	segments := []Segment{
		{From: shoulderMid, To: hipMid},      // spine
		{From: leftShoulder, To: rightShoulder},
		{From: leftHip, To: rightHip},
	}

	if leftEar, ok := resolve(types.PointLeftEar); ok {
		segments = append(segments, Segment{From: leftEar, To: shoulderMid}) // neck
	}

	return segments
}

func midpoint(a, b Point) Point {
	return Point{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2}
}

// Status stroke colors, matching the monitor's traffic-light scheme.
var (
	colorGood      = color.RGBA{R: 0x22, G: 0xc5, B: 0x5e, A: 0xff}
	colorSlouching = color.RGBA{R: 0xea, G: 0xb3, B: 0x08, A: 0xff}
	colorBad       = color.RGBA{R: 0xef, G: 0x44, B: 0x44, A: 0xff}
	colorDot       = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	colorDotRing   = color.RGBA{A: 0xff}
)

// StrokeColor picks the skeleton color for a posture status.
func StrokeColor(status types.PostureStatus) color.RGBA {
	switch status {
	case types.StatusGood:
		return colorGood
	case types.StatusSlouching:
		return colorSlouching
	default:
		return colorBad
	}
}

// Renderer draws the skeleton for the most recent posture update onto a
// transparent RGBA surface. Every Render is a full redraw from the latest
// snapshot; no geometry is retained between calls, so the surface can never
// blend two generations of landmarks.
type Renderer struct {
	mu        sync.Mutex
	surface   *image.RGBA
	lineWidth float64
	dotRadius float64
}

// NewRenderer creates a renderer with a transparent surface of the given size.
func NewRenderer(width, height int) *Renderer {
	return &Renderer{
		surface:   image.NewRGBA(image.Rect(0, 0, width, height)),
		lineWidth: 4,
		dotRadius: 5,
	}
}

// Render clears the surface and draws the skeleton for the given landmark
// set. If too few points resolve, the surface is left cleared — stale
// geometry from an earlier update must never survive.
func (r *Renderer) Render(landmarks types.LandmarkSet, status types.PostureStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clearLocked()

	bounds := r.surface.Bounds()
	segments := Skeleton(landmarks, bounds.Dx(), bounds.Dy())
	if segments == nil {
		return
	}

	stroke := StrokeColor(status)
	for _, seg := range segments {
		r.strokeLine(seg.From, seg.To, stroke, r.lineWidth)
	}

	// Landmark dots on top of the lines
	for key := range landmarks {
		lm := landmarks[key]
		if lm.Presence <= types.PresenceThreshold {
			continue
		}
		p := Point{X: lm.X * float64(bounds.Dx()), Y: lm.Y * float64(bounds.Dy())}
		r.fillDisc(p, r.dotRadius+1, colorDotRing)
		r.fillDisc(p, r.dotRadius, colorDot)
	}
}

// Clear erases the surface. Used when a posture update carries no landmarks,
// so an outdated pose is not left on screen.
func (r *Renderer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearLocked()
}

// Surface returns a snapshot of the drawing surface. A copy, so readers on
// other goroutines never observe a half-drawn skeleton.
func (r *Renderer) Surface() *image.RGBA {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := image.NewRGBA(r.surface.Rect)
	copy(snapshot.Pix, r.surface.Pix)
	return snapshot
}

func (r *Renderer) clearLocked() {
	pix := r.surface.Pix
	for i := range pix {
		pix[i] = 0
	}
}

// strokeLine stamps discs along the segment, giving round caps for free.
func (r *Renderer) strokeLine(from, to Point, c color.RGBA, width float64) {
	dx := to.X - from.X
	dy := to.Y - from.Y
	length := math.Hypot(dx, dy)

	steps := int(length) + 1
	radius := width / 2
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		r.fillDisc(Point{X: from.X + t*dx, Y: from.Y + t*dy}, radius, c)
	}
}

func (r *Renderer) fillDisc(center Point, radius float64, c color.RGBA) {
	bounds := r.surface.Bounds()
	minX := int(math.Floor(center.X - radius))
	maxX := int(math.Ceil(center.X + radius))
	minY := int(math.Floor(center.Y - radius))
	maxY := int(math.Ceil(center.Y + radius))

	for y := minY; y <= maxY; y++ {
		if y < bounds.Min.Y || y >= bounds.Max.Y {
			continue
		}
		for x := minX; x <= maxX; x++ {
			if x < bounds.Min.X || x >= bounds.Max.X {
				continue
			}
			ddx := float64(x) - center.X
			ddy := float64(y) - center.Y
			if ddx*ddx+ddy*ddy <= radius*radius {
				r.surface.SetRGBA(x, y, c)
			}
		}
	}
}
