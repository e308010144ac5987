package ptrace

import (
	"fmt"

	"github.com/gogpu/ptrace/gpucore"
)

// TargetStride is the byte size of one render target pixel (RGBA float32).
const TargetStride = 16

// Render target kinds.
const (
	TargetResult      gpucore.BufferKind = "Result"
	TargetAccumulated gpucore.BufferKind = "Accumulated"
)

// AccumState is the accumulation controller state.
type AccumState uint8

const (
	Uninitialized AccumState = iota
	Accumulating
)

func (s AccumState) String() string {
	if s == Accumulating {
		return "Accumulating"
	}
	return "Uninitialized"
}

// Accumulator owns the single-sample and accumulated render targets and
// the sample counter.
//
// The targets are always allocated and released together. SampleCount is
// the number of samples averaged into the accumulated target; zero means
// the next composite overwrites instead of blending.
type Accumulator struct {
	adapter gpucore.GPUAdapter

	state         AccumState
	width, height int
	single, accum gpucore.BufferID
	samples       uint32
	allocations   uint64
}

// NewAccumulator returns an uninitialized accumulator on adapter.
func NewAccumulator(adapter gpucore.GPUAdapter) *Accumulator {
	return &Accumulator{adapter: adapter}
}

func (a *Accumulator) State() AccumState   { return a.state }
func (a *Accumulator) SampleCount() uint32 { return a.samples }

// Size returns the allocated target size.
func (a *Accumulator) Size() (width, height int) { return a.width, a.height }

// Allocations returns how many times the target pair has been allocated.
func (a *Accumulator) Allocations() uint64 { return a.allocations }

// Ensure makes sure both targets exist at width x height. If they do not,
// both are released and reallocated and the counter is reset; resized
// reports that this happened. On failure no target is left allocated.
//
// Width and height must be positive; degenerate sizes are the caller's to
// skip.
func (a *Accumulator) Ensure(width, height int) (resized bool, err error) {
	if width <= 0 || height <= 0 {
		return false, fmt.Errorf("ptrace: render target size %dx%d", width, height)
	}
	if a.state == Accumulating && a.width == width && a.height == height {
		return false, nil
	}
	a.Release()

	size := width * height * TargetStride
	single, err := a.adapter.CreateBuffer(size, targetUsage, string(TargetResult))
	if err != nil {
		return false, fmt.Errorf("ptrace: allocate %dx%d result target: %w", width, height, err)
	}
	accum, err := a.adapter.CreateBuffer(size, targetUsage, string(TargetAccumulated))
	if err != nil {
		a.adapter.DestroyBuffer(single)
		return false, fmt.Errorf("ptrace: allocate %dx%d accumulation target: %w", width, height, err)
	}

	a.single, a.accum = single, accum
	a.width, a.height = width, height
	a.samples = 0
	a.state = Accumulating
	a.allocations++
	Logger().Debug("ptrace: render targets allocated", "width", width, "height", height)
	return true, nil
}

const targetUsage = gpucore.BufferUsageStorage | gpucore.BufferUsageCopySrc | gpucore.BufferUsageCopyDst

// Invalidate restarts accumulation. The targets are kept; the next
// composite overwrites the accumulated image. Invalidating a zero counter
// is a no-op.
func (a *Accumulator) Invalidate() {
	a.samples = 0
}

// Advance records one more composited sample.
func (a *Accumulator) Advance() {
	if a.state == Accumulating {
		a.samples++
	}
}

// Targets returns the single-sample and accumulated target bindings.
// ok is false when no targets are allocated.
func (a *Accumulator) Targets() (single, accum gpucore.BufferBinding, ok bool) {
	if a.state != Accumulating {
		return gpucore.BufferBinding{}, gpucore.BufferBinding{}, false
	}
	n := a.width * a.height
	single = gpucore.BufferBinding{Kind: TargetResult, Buffer: a.single, Count: n, Stride: TargetStride}
	accum = gpucore.BufferBinding{Kind: TargetAccumulated, Buffer: a.accum, Count: n, Stride: TargetStride}
	return single, accum, true
}

// Release destroys both targets and returns to Uninitialized. Releasing
// an uninitialized accumulator is a no-op.
func (a *Accumulator) Release() {
	if a.state != Accumulating {
		return
	}
	a.adapter.DestroyBuffer(a.single)
	a.adapter.DestroyBuffer(a.accum)
	a.single, a.accum = gpucore.InvalidID, gpucore.InvalidID
	a.width, a.height = 0, 0
	a.samples = 0
	a.state = Uninitialized
	Logger().Debug("ptrace: render targets released")
}
