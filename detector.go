package ptrace

import (
	"math"

	"golang.org/x/image/math/f32"
)

// ViewState is the camera and light state compared frame to frame.
type ViewState struct {
	CameraToWorld     f32.Mat4
	InverseProjection f32.Mat4
	FieldOfView       float32
	Light             f32.Vec4
}

// ViewFromScene captures the view state of s at the given aspect ratio.
func ViewFromScene(s *Scene, aspect float32) ViewState {
	var v ViewState
	if c := s.Camera; c != nil {
		v.CameraToWorld = c.CameraToWorld()
		v.InverseProjection = c.InverseProjection(aspect)
		v.FieldOfView = c.FieldOfView
	} else {
		v.CameraToWorld = identity4()
		v.InverseProjection = identity4()
	}
	if l := s.Light; l != nil {
		v.Light = l.Vector()
	}
	return v
}

// ViewChanged reports whether any component of cur differs from prev by
// more than eps.
func ViewChanged(prev, cur ViewState, eps float64) bool {
	if differs(prev.FieldOfView, cur.FieldOfView, eps) {
		return true
	}
	for i := range prev.CameraToWorld {
		if differs(prev.CameraToWorld[i], cur.CameraToWorld[i], eps) ||
			differs(prev.InverseProjection[i], cur.InverseProjection[i], eps) {
			return true
		}
	}
	for i := range prev.Light {
		if differs(prev.Light[i], cur.Light[i], eps) {
			return true
		}
	}
	return false
}

func differs(a, b float32, eps float64) bool {
	return math.Abs(float64(a)-float64(b)) > eps
}

// Changes is the outcome of one ChangeDetector.Check.
type Changes struct {
	// View is set when the camera, field of view or light moved.
	View bool

	// Content is set when a watched object's version changed.
	Content bool
}

// Reset reports whether accumulation must restart.
func (c Changes) Reset() bool { return c.View || c.Content }

// ChangeDetector compares the current frame against its own snapshot of
// the previous one. It holds no engine state: motion is derived from the
// view state and from object versions.
//
// The first Check after creation or Forget only records a snapshot.
type ChangeDetector struct {
	eps     float64
	primed  bool
	view    ViewState
	watched map[ObjectID]watchEntry
}

type watchEntry struct {
	obj     SceneObject
	version uint64
}

// NewChangeDetector returns a detector using eps as the view threshold.
func NewChangeDetector(eps float64) *ChangeDetector {
	if eps <= 0 {
		eps = DefaultEpsilon
	}
	return &ChangeDetector{eps: eps, watched: make(map[ObjectID]watchEntry)}
}

// Watch adds obj to the watch list under id at its current version.
// Watching an id twice keeps the first recorded version.
func (d *ChangeDetector) Watch(id ObjectID, obj SceneObject) {
	if _, ok := d.watched[id]; !ok {
		d.watched[id] = watchEntry{obj: obj, version: obj.Version()}
	}
}

// Unwatch removes id from the watch list.
func (d *ChangeDetector) Unwatch(id ObjectID) {
	delete(d.watched, id)
}

// SetWatched replaces the watch list with entries. IDs already watched
// keep their recorded version; new ones are recorded at their current
// version.
func (d *ChangeDetector) SetWatched(entries []SceneEntry) {
	keep := make(map[ObjectID]watchEntry, len(entries))
	for _, e := range entries {
		if w, ok := d.watched[e.ID]; ok {
			w.obj = e.Object
			keep[e.ID] = w
		} else {
			keep[e.ID] = watchEntry{obj: e.Object, version: e.Object.Version()}
		}
	}
	d.watched = keep
}

// Watched returns the number of watched objects.
func (d *ChangeDetector) Watched() int { return len(d.watched) }

// Check compares view and the watched objects against the previous call
// and records the new state.
func (d *ChangeDetector) Check(view ViewState) Changes {
	var ch Changes
	if d.primed {
		ch.View = ViewChanged(d.view, view, d.eps)
	}
	if ch.View || !d.primed {
		d.view = view
	}
	for id, w := range d.watched {
		if v := w.obj.Version(); v != w.version {
			w.version = v
			d.watched[id] = w
			ch.Content = ch.Content || d.primed
		}
	}
	d.primed = true
	return ch
}

// Forget drops the recorded state so the next Check primes again.
func (d *ChangeDetector) Forget() {
	d.primed = false
	d.view = ViewState{}
	clear(d.watched)
}
