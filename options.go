package ptrace

import "math/rand/v2"

// DefaultEpsilon is the view-change threshold used when none is given.
const DefaultEpsilon = 1e-6

// Option configures a Tracer during creation.
//
// Example:
//
//	t, err := ptrace.New(adapter, kernel, scene,
//	    ptrace.WithSeed(42),
//	    ptrace.WithCompositor(gpuCompositor))
type Option func(*options)

type options struct {
	compositor Compositor
	epsilon    float64
	seed       uint64
	seeded     bool
	present    bool
}

func defaultOptions() options {
	return options{
		epsilon: DefaultEpsilon,
		present: true,
	}
}

// WithCompositor sets the compositor that blends each single-sample image
// into the running average. The default is a CPUCompositor on the tracer's
// adapter.
func WithCompositor(c Compositor) Option {
	return func(o *options) {
		o.compositor = c
	}
}

// WithEpsilon sets the threshold beyond which a camera, field of view or
// light difference counts as motion. Non-positive values are ignored.
func WithEpsilon(eps float64) Option {
	return func(o *options) {
		if eps > 0 {
			o.epsilon = eps
		}
	}
}

// WithSeed makes the per-frame jitter and seed stream deterministic.
func WithSeed(seed uint64) Option {
	return func(o *options) {
		o.seed = seed
		o.seeded = true
	}
}

// WithPresent controls whether OnFrameTick reads the accumulated target
// back into the returned Frame. With present disabled the frame carries no
// pixels and the image stays on the device.
func WithPresent(present bool) Option {
	return func(o *options) {
		o.present = present
	}
}

func (o *options) rng() *rand.Rand {
	seed := o.seed
	if !o.seeded {
		seed = rand.Uint64()
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
