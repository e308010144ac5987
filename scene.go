package ptrace

import (
	"reflect"
	"sync"

	"golang.org/x/image/math/f32"
)

// Skybox is an equirectangular environment image in linear RGBA.
//
// Set records the edit in the skybox version, so the next frame uploads it
// and restarts accumulation. Code that writes Pix directly must call
// MarkChanged afterwards.
type Skybox struct {
	Width, Height int
	Pix           []f32.Vec4

	version uint64
}

// NewSkybox returns a black skybox of the given size.
func NewSkybox(width, height int) *Skybox {
	if width < 0 || height < 0 {
		width, height = 0, 0
	}
	return &Skybox{Width: width, Height: height, Pix: make([]f32.Vec4, width*height)}
}

// Set stores the color at (x, y). Out-of-range coordinates are ignored.
func (s *Skybox) Set(x, y int, c f32.Vec4) {
	if x < 0 || y < 0 || x >= s.Width || y >= s.Height {
		return
	}
	s.Pix[y*s.Width+x] = c
	s.version++
}

// MarkChanged records an edit made directly to Pix.
func (s *Skybox) MarkChanged() { s.version++ }

// Version changes whenever Set or MarkChanged is called.
func (s *Skybox) Version() uint64 { return s.version }

// At returns the color at (x, y), or zero outside the image.
func (s *Skybox) At(x, y int) f32.Vec4 {
	if x < 0 || y < 0 || x >= s.Width || y >= s.Height {
		return f32.Vec4{}
	}
	return s.Pix[y*s.Width+x]
}

// Scene is the set of objects traced each frame, plus the camera, the
// directional light and an optional skybox.
//
// Membership changes are recorded and reported once by HasSceneChanged.
// Changes to the objects themselves are observed through their versions.
//
// Objects are tracked by the ObjectID issued by Add, so any SceneObject
// implementation may be added, including value types that are not
// comparable. Such values cannot be matched by Remove; use RemoveID.
type Scene struct {
	Camera *Camera
	Light  *DirectionalLight

	mu         sync.Mutex
	entries    []SceneEntry
	nextID     ObjectID
	skybox     *Skybox
	skyVersion uint64
	changed    bool
}

// NewScene returns an empty scene with a default camera and light.
func NewScene() *Scene {
	return &Scene{
		Camera: NewCamera(),
		Light:  NewDirectionalLight(1),
	}
}

// Add appends obj to the scene and returns its ID. Adding the same
// comparable object twice is a no-op that returns the existing ID.
func (s *Scene) Add(obj SceneObject) ObjectID {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if sameObject(e.Object, obj) {
			return e.ID
		}
	}
	s.nextID++
	s.entries = append(s.entries, SceneEntry{ID: s.nextID, Object: obj})
	s.changed = true
	return s.nextID
}

// Remove deletes obj from the scene and reports whether it was present.
// Objects of non-comparable types are never matched.
func (s *Scene) Remove(obj SceneObject) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if sameObject(e.Object, obj) {
			s.removeLocked(i)
			return true
		}
	}
	return false
}

// RemoveID deletes the object added under id and reports whether it was
// present.
func (s *Scene) RemoveID(id ObjectID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.ID == id {
			s.removeLocked(i)
			return true
		}
	}
	return false
}

func (s *Scene) removeLocked(i int) {
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	s.changed = true
}

// Entries returns the objects and their IDs in insertion order.
func (s *Scene) Entries() []SceneEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SceneEntry(nil), s.entries...)
}

// Objects returns the objects in insertion order.
func (s *Scene) Objects() []SceneObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SceneObject, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Object
	}
	return out
}

// Len returns the number of objects.
func (s *Scene) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// sameObject compares a and b with == only when their dynamic type is
// comparable. A comparable struct can still hold a non-comparable value in
// an interface field; such objects never match.
func sameObject(a, b SceneObject) (same bool) {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || ta == nil || !ta.Comparable() {
		return false
	}
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}

// SetSkybox replaces the skybox. Pass nil to remove it.
func (s *Scene) SetSkybox(sky *Skybox) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.skybox != sky {
		s.skybox = sky
		s.skyVersion = skyVersion(sky)
		s.changed = true
	}
}

func (s *Scene) Skybox() *Skybox {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skybox
}

// HasSceneChanged reports whether objects were added or removed, or the
// skybox replaced or edited, since the previous call, and clears the flag.
func (s *Scene) HasSceneChanged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.changed
	if v := skyVersion(s.skybox); v != s.skyVersion {
		s.skyVersion = v
		c = true
	}
	s.changed = false
	return c
}

func skyVersion(sky *Skybox) uint64 {
	if sky == nil {
		return 0
	}
	return sky.Version()
}

// Snapshots returns the current snapshot of every object.
func (s *Scene) Snapshots() []SceneObjectInfo {
	objs := s.Objects()
	out := make([]SceneObjectInfo, 0, len(objs))
	for _, o := range objs {
		out = append(out, o.Snapshot())
	}
	return out
}
