package ptrace

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/gogpu/ptrace/gpucore"
	"golang.org/x/image/math/f32"
)

// live tracers, for SetLogger propagation.
var (
	tracersMu sync.Mutex
	tracers   = make(map[*Tracer]struct{})
)

// Stats counts Tracer activity since creation.
type Stats struct {
	Frames  uint64 // frames dispatched and composited
	Skipped uint64 // degenerate frames
	Failed  uint64 // frames that returned an error
	Resets  uint64 // frames that discarded accumulated samples
	Syncs   uint64 // scene buffer synchronizations

	SampleCount       uint32
	TargetAllocations uint64
	Buffers           gpucore.SyncStats
}

// Tracer drives progressive path tracing, one sample per frame.
//
// Each OnFrameTick runs, in order: change detection, scene buffer
// synchronization, accumulation reset or advance, kernel dispatch and
// composite. A Tracer serializes its frames; calls from several goroutines
// are safe but never interleave.
type Tracer struct {
	mu sync.Mutex

	adapter    gpucore.GPUAdapter
	kernel     Kernel
	scene      *Scene
	compositor Compositor
	opts       options

	buffers  *gpucore.BufferSync
	detector *ChangeDetector
	accum    *Accumulator
	rng      *rand.Rand

	enabled bool
	synced  bool // scene buffers reflect the scene
	dirty   bool // accumulated target may hold a partial frame

	stats Stats
}

// New creates a tracer rendering scene with kernel on adapter.
func New(adapter gpucore.GPUAdapter, kernel Kernel, scene *Scene, opts ...Option) (*Tracer, error) {
	if adapter == nil {
		return nil, ErrNilAdapter
	}
	if kernel == nil {
		return nil, ErrNilKernel
	}
	if scene == nil {
		return nil, ErrNilScene
	}
	if err := CheckLayout(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	c := o.compositor
	if c == nil {
		c = NewCPUCompositor(adapter)
	}
	return &Tracer{
		adapter:    adapter,
		kernel:     kernel,
		scene:      scene,
		compositor: c,
		opts:       o,
		buffers:    gpucore.NewBufferSync(adapter),
		detector:   NewChangeDetector(o.epsilon),
		accum:      NewAccumulator(adapter),
		rng:        o.rng(),
	}, nil
}

// OnEnable starts a session. Render targets are allocated by the first
// frame, at its resolution. Enabling twice is a no-op.
func (t *Tracer) OnEnable() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.enabled {
		return nil
	}
	t.enabled = true
	t.synced = false
	t.dirty = false
	t.detector.Forget()

	tracersMu.Lock()
	tracers[t] = struct{}{}
	tracersMu.Unlock()
	t.propagateLogger(Logger())

	Logger().Info("ptrace: tracer enabled", "objects", t.scene.Len())
	return nil
}

// OnDisable releases every render target and scene buffer. Disabling a
// disabled tracer is a no-op.
func (t *Tracer) OnDisable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.releaseLocked()
	t.enabled = false

	tracersMu.Lock()
	delete(tracers, t)
	tracersMu.Unlock()

	Logger().Info("ptrace: tracer disabled", "frames", t.stats.Frames)
}

func (t *Tracer) releaseLocked() {
	t.buffers.ReleaseAll()
	t.accum.Release()
	t.synced = false
}

func (t *Tracer) propagateLogger(l *slog.Logger) {
	propagateLogger(t.buffers, l)
}

// OnFrameTick renders one frame at width x height and returns the
// presented image.
//
// A degenerate size skips the frame: the result is nil, nil and nothing is
// dispatched, allocated or counted. Any other failure is returned and no
// frame is presented; the next frame restarts accumulation.
func (t *Tracer) OnFrameTick(width, height int) (*Frame, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return nil, ErrNotEnabled
	}
	if width <= 0 || height <= 0 {
		t.stats.Skipped++
		Logger().Warn("ptrace: frame skipped", "width", width, "height", height)
		return nil, nil
	}

	frame, err := t.frameLocked(width, height)
	if err != nil {
		t.stats.Failed++
		t.dirty = true
		Logger().Error("ptrace: frame failed", "width", width, "height", height, "err", err)
		return nil, err
	}
	return frame, nil
}

func (t *Tracer) frameLocked(width, height int) (*Frame, error) {
	log := Logger()

	// 1. Change detection.
	aspect := float32(width) / float32(height)
	entries := t.scene.Entries()
	membership := t.scene.HasSceneChanged()
	t.detector.SetWatched(entries)
	changes := t.detector.Check(ViewFromScene(t.scene, aspect))
	content := membership || changes.Content || !t.synced

	// 2. Scene buffers, before any dispatch can see them.
	if content {
		if err := t.syncLocked(entries); err != nil {
			t.synced = false
			return nil, err
		}
		t.synced = true
		t.stats.Syncs++
	}

	// 3. Reset or advance.
	prev := t.accum.SampleCount()
	resized, err := t.accum.Ensure(width, height)
	if err != nil {
		return nil, err
	}
	if resized || changes.View || content || t.dirty {
		t.accum.Invalidate()
		t.dirty = false
		if prev > 0 {
			t.stats.Resets++
		}
		log.Debug("ptrace: accumulation reset",
			"resized", resized, "view", changes.View, "content", content)
	}
	single, accum, _ := t.accum.Targets()

	// 4. Bind and dispatch.
	params := t.paramsLocked(width, height, single)
	gx, gy := params.Groups()
	log.Debug("ptrace: dispatch", "groups_x", gx, "groups_y", gy, "bindings", params.Mask())
	if err := t.kernel.Dispatch(params); err != nil {
		return nil, fmt.Errorf("ptrace: kernel dispatch: %w", err)
	}

	// 5. Composite.
	n := t.accum.SampleCount()
	err = t.compositor.Composite(&CompositeParams{
		Width:       width,
		Height:      height,
		Sample:      n,
		Single:      single,
		Accumulated: accum,
	})
	if err != nil {
		return nil, fmt.Errorf("ptrace: composite: %w", err)
	}
	t.accum.Advance()
	t.stats.Frames++

	// 6. Present.
	frame := &Frame{Width: width, Height: height, SampleIndex: n, Samples: n + 1}
	if t.opts.present {
		data, err := t.adapter.ReadBuffer(accum.Buffer, 0, accum.Size())
		if err != nil {
			return nil, fmt.Errorf("ptrace: read back frame: %w", err)
		}
		frame.Pix = decodeFloats(data)
	}
	return frame, nil
}

// syncLocked rebuilds the scene buffers from the current snapshots.
func (t *Tracer) syncLocked(entries []SceneEntry) error {
	infos := make([]SceneObjectInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, e.Object.Snapshot())
	}
	g, err := BuildGeometry(infos)
	if err != nil {
		return err
	}
	if err := g.Validate(); err != nil {
		return err
	}

	if err := gpucore.ReconcileRecords(t.buffers, BufferSpheres, g.Spheres, SphereStride); err != nil {
		return err
	}
	if err := gpucore.ReconcileRecords(t.buffers, BufferMeshObjects, g.Meshes, MeshStride); err != nil {
		return err
	}
	if err := gpucore.ReconcileRecords(t.buffers, BufferVertices, g.Vertices, VertexStride); err != nil {
		return err
	}
	if err := gpucore.ReconcileRecords(t.buffers, BufferIndices, g.Indices, IndexStride); err != nil {
		return err
	}
	var sky []f32.Vec4
	if s := t.scene.Skybox(); s != nil {
		sky = s.Pix
	}
	return gpucore.ReconcileRecords(t.buffers, BufferSkybox, sky, SkyboxStride)
}

func (t *Tracer) paramsLocked(width, height int, result gpucore.BufferBinding) *KernelParams {
	p := &KernelParams{
		Width:   width,
		Height:  height,
		Result:  result,
		Buffers: make(map[gpucore.BufferKind]gpucore.BufferBinding, len(SceneKinds)),
	}
	for _, kind := range SceneKinds {
		if b, ok := t.buffers.Binding(kind); ok {
			p.Buffers[kind] = b
		}
	}

	view := ViewFromScene(t.scene, float32(width)/float32(height))
	u := &p.Uniforms
	u.CameraToWorld = transpose4(view.CameraToWorld)
	u.InverseProjection = transpose4(view.InverseProjection)
	u.Light = view.Light
	u.Size = [2]uint32{uint32(width), uint32(height)} //nolint:gosec // positive
	u.PixelJitter = f32.Vec2{t.rng.Float32(), t.rng.Float32()}
	u.Seed = t.rng.Float32()
	u.Bindings = p.Mask()
	if s := t.scene.Skybox(); s != nil && p.Mask().Has(BufferSkybox) {
		u.SkyboxSize = [2]uint32{uint32(s.Width), uint32(s.Height)} //nolint:gosec // non-negative
	}
	return p
}

// SampleCount returns the number of samples in the accumulated image.
func (t *Tracer) SampleCount() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.accum.SampleCount()
}

// Enabled reports whether the tracer is between OnEnable and OnDisable.
func (t *Tracer) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// Stats returns a snapshot of the tracer counters.
func (t *Tracer) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.stats
	st.SampleCount = t.accum.SampleCount()
	st.TargetAllocations = t.accum.Allocations()
	st.Buffers = t.buffers.Stats()
	return st
}
