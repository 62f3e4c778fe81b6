package overlay

import (
	"image"
	"image/color"
	"strconv"
	"sync"
	"testing"

	"github.com/wellness/vigil/internal/types"
)

func landmarks(points map[int]types.Landmark) types.LandmarkSet {
	set := make(types.LandmarkSet, len(points))
	for idx, lm := range points {
		set[strconv.Itoa(idx)] = lm
	}
	return set
}

func fullBody(presence float64) map[int]types.Landmark {
	return map[int]types.Landmark{
		types.PointLeftShoulder:  {X: 0.4, Y: 0.3, Presence: presence},
		types.PointRightShoulder: {X: 0.6, Y: 0.3, Presence: presence},
		types.PointLeftHip:       {X: 0.4, Y: 0.7, Presence: presence},
		types.PointRightHip:      {X: 0.6, Y: 0.7, Presence: presence},
	}
}

// TestSkeletonGeometry verifies the reference pose: spine from the shoulder
// midpoint to the hip midpoint, cross-lines at shoulder and hip height.
func TestSkeletonGeometry(t *testing.T) {
	segments := Skeleton(landmarks(fullBody(0.9)), 100, 100)
	if len(segments) != 3 {
		t.Fatalf("expected 3 segments without an ear, got %d", len(segments))
	}

	spine := segments[0]
	if spine.From.X != 50 || spine.From.Y != 30 || spine.To.X != 50 || spine.To.Y != 70 {
		t.Errorf("spine expected (50,30)-(50,70), got (%v,%v)-(%v,%v)",
			spine.From.X, spine.From.Y, spine.To.X, spine.To.Y)
	}

	shoulders := segments[1]
	if shoulders.From.Y != 30 || shoulders.To.Y != 30 {
		t.Errorf("shoulder line expected at y=30, got y=%v and y=%v", shoulders.From.Y, shoulders.To.Y)
	}

	hips := segments[2]
	if hips.From.Y != 70 || hips.To.Y != 70 {
		t.Errorf("hip line expected at y=70, got y=%v and y=%v", hips.From.Y, hips.To.Y)
	}
}

// TestSkeletonNeck verifies the neck segment is drawn only when the left ear
// resolves, from the ear to the shoulder midpoint.
func TestSkeletonNeck(t *testing.T) {
	points := fullBody(0.9)
	points[types.PointLeftEar] = types.Landmark{X: 0.5, Y: 0.1, Presence: 0.8}

	segments := Skeleton(landmarks(points), 100, 100)
	if len(segments) != 4 {
		t.Fatalf("expected 4 segments with an ear, got %d", len(segments))
	}

	neck := segments[3]
	if neck.From.X != 50 || neck.From.Y != 10 {
		t.Errorf("neck expected to start at ear (50,10), got (%v,%v)", neck.From.X, neck.From.Y)
	}
	if neck.To.X != 50 || neck.To.Y != 30 {
		t.Errorf("neck expected to end at shoulder midpoint (50,30), got (%v,%v)", neck.To.X, neck.To.Y)
	}
}

// TestSkeletonMissingCorePoint verifies that dropping any of the four core
// points yields no geometry at all — a partial skeleton is never drawn.
func TestSkeletonMissingCorePoint(t *testing.T) {
	core := []int{
		types.PointLeftShoulder,
		types.PointRightShoulder,
		types.PointLeftHip,
		types.PointRightHip,
	}

	for _, missing := range core {
		t.Run(strconv.Itoa(missing), func(t *testing.T) {
			points := fullBody(0.9)
			delete(points, missing)

			if segments := Skeleton(landmarks(points), 100, 100); segments != nil {
				t.Errorf("expected no segments with point %d missing, got %d", missing, len(segments))
			}
		})
	}
}

// TestSkeletonPresenceThreshold verifies that a core point at or below the
// presence threshold is excluded, collapsing to the no-draw branch.
func TestSkeletonPresenceThreshold(t *testing.T) {
	core := []int{
		types.PointLeftShoulder,
		types.PointRightShoulder,
		types.PointLeftHip,
		types.PointRightHip,
	}

	for _, weak := range core {
		t.Run(strconv.Itoa(weak), func(t *testing.T) {
			points := fullBody(0.9)
			lm := points[weak]
			lm.Presence = 0.5 // at the threshold, not above it
			points[weak] = lm

			if segments := Skeleton(landmarks(points), 100, 100); segments != nil {
				t.Errorf("expected no segments with point %d at threshold presence, got %d", weak, len(segments))
			}
		})
	}
}

// TestSkeletonEmpty verifies an empty or nil set draws nothing.
func TestSkeletonEmpty(t *testing.T) {
	if segments := Skeleton(nil, 100, 100); segments != nil {
		t.Errorf("expected nil segments for nil landmarks, got %d", len(segments))
	}
	if segments := Skeleton(types.LandmarkSet{}, 100, 100); segments != nil {
		t.Errorf("expected nil segments for empty landmarks, got %d", len(segments))
	}
}

func TestStrokeColor(t *testing.T) {
	cases := []struct {
		status types.PostureStatus
		want   color.RGBA
	}{
		{types.StatusGood, colorGood},
		{types.StatusSlouching, colorSlouching},
		{types.StatusTooClose, colorBad},
		{types.StatusNoPerson, colorBad},
		{types.StatusWaiting, colorBad},
	}

	for _, tc := range cases {
		if got := StrokeColor(tc.status); got != tc.want {
			t.Errorf("StrokeColor(%s) = %v, want %v", tc.status, got, tc.want)
		}
	}
}

// TestRenderFullRedraw verifies every Render starts from a cleared surface:
// geometry from a previous update never survives into the next frame.
func TestRenderFullRedraw(t *testing.T) {
	r := NewRenderer(100, 100)

	r.Render(landmarks(fullBody(0.9)), types.StatusGood)
	if countOpaque(r.Surface()) == 0 {
		t.Fatal("expected skeleton pixels after rendering a full body")
	}

	// Second update has too few points: the old skeleton must vanish
	r.Render(landmarks(map[int]types.Landmark{
		types.PointLeftShoulder: {X: 0.4, Y: 0.3, Presence: 0.9},
	}), types.StatusGood)

	if n := countOpaque(r.Surface()); n != 0 {
		t.Errorf("expected a blank surface after an insufficient update, found %d drawn pixels", n)
	}
}

// TestRenderClear verifies Clear erases the surface.
func TestRenderClear(t *testing.T) {
	r := NewRenderer(100, 100)

	r.Render(landmarks(fullBody(0.9)), types.StatusSlouching)
	r.Clear()

	if n := countOpaque(r.Surface()); n != 0 {
		t.Errorf("expected a blank surface after Clear, found %d drawn pixels", n)
	}
}

// TestSurfaceSnapshot verifies Surface hands out a copy: mutating the
// renderer afterwards must not reach through into an already-taken snapshot.
func TestSurfaceSnapshot(t *testing.T) {
	r := NewRenderer(100, 100)

	r.Render(landmarks(fullBody(0.9)), types.StatusGood)
	snapshot := r.Surface()
	r.Clear()

	if countOpaque(snapshot) == 0 {
		t.Error("snapshot shares storage with the live surface")
	}
	if n := countOpaque(r.Surface()); n != 0 {
		t.Errorf("live surface not cleared: %d drawn pixels", n)
	}
}

// TestSurfaceConcurrentWithRender reads snapshots while renders are in
// flight. Exercised under the race detector.
func TestSurfaceConcurrentWithRender(t *testing.T) {
	r := NewRenderer(100, 100)
	set := landmarks(fullBody(0.9))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			r.Render(set, types.StatusGood)
			r.Clear()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_ = countOpaque(r.Surface())
		}
	}()
	wg.Wait()
}

// TestRenderStatusColor verifies the stroke color tracks the status.
func TestRenderStatusColor(t *testing.T) {
	r := NewRenderer(100, 100)
	r.Render(landmarks(fullBody(0.9)), types.StatusGood)

	// The spine midpoint (50,50) is stroked in the status color
	if got := r.Surface().RGBAAt(50, 50); got != colorGood {
		t.Errorf("expected spine pixel %v, got %v", colorGood, got)
	}
}

func countOpaque(surface *image.RGBA) int {
	n := 0
	for i := 3; i < len(surface.Pix); i += 4 {
		if surface.Pix[i] != 0 {
			n++
		}
	}
	return n
}
