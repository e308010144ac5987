package ptrace

import "errors"

var (
	// ErrNotEnabled is returned by OnFrameTick before OnEnable or after
	// OnDisable.
	ErrNotEnabled = errors.New("ptrace: tracer not enabled")

	// ErrNilAdapter is returned when a nil GPU adapter is supplied.
	ErrNilAdapter = errors.New("ptrace: nil GPU adapter")

	// ErrNilKernel is returned when a nil kernel is supplied.
	ErrNilKernel = errors.New("ptrace: nil kernel")

	// ErrNilScene is returned when a nil scene is supplied.
	ErrNilScene = errors.New("ptrace: nil scene")

	// ErrInvalidMesh is returned when a mesh index references a vertex
	// outside its vertex list or the index count is not a multiple of 3.
	ErrInvalidMesh = errors.New("ptrace: invalid mesh")

	// ErrInvalidGeometry is returned when a GeometryBufferSet violates its
	// range invariants.
	ErrInvalidGeometry = errors.New("ptrace: invalid geometry buffer set")
)
