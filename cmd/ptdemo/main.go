// Command ptdemo renders a small scene progressively and writes the
// accumulated image as PNG.
//
// On a GPU the WGSL kernel and the accumulation shader run through the
// native backend. Without one, or with -backend=software, frames are traced
// on the host through the software device.
package main

import (
	_ "embed"
	"errors"
	"flag"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"math"
	"os"

	"github.com/gogpu/ptrace"
	"github.com/gogpu/ptrace/backend"
	_ "github.com/gogpu/ptrace/backend/native"
	"github.com/gogpu/ptrace/backend/software"
	"github.com/gogpu/ptrace/gpu"
	"github.com/gogpu/ptrace/gpucore"
	"golang.org/x/image/math/f32"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed trace.wgsl
var traceWGSL string

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run renders the demo scene and returns the process exit code. Errors are
// reported on stderr after the renderer has been released.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ptdemo", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		width   = fs.Int("width", 320, "image width")
		height  = fs.Int("height", 240, "image height")
		frames  = fs.Int("frames", 16, "frames to accumulate")
		output  = fs.String("output", "ptdemo.png", "output file")
		seed    = fs.Uint64("seed", 1, "jitter seed")
		bounces = fs.Int("bounces", 2, "specular bounces of the host kernel")
		device  = fs.String("backend", "", "device backend (native, software); empty picks the best available")
		verbose = fs.Bool("v", false, "debug logging")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	ptrace.SetLogger(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))

	fail := func(err error) int {
		fmt.Fprintf(stderr, "ptdemo: %v\n", err)
		return 1
	}

	r, err := openRenderer(*device, *bounces)
	if err != nil {
		return fail(err)
	}
	defer r.close()

	scene, err := buildScene()
	if err != nil {
		return fail(err)
	}
	frame, stats, err := render(r, scene, *width, *height, *frames, *seed)
	if err != nil {
		return fail(err)
	}
	if err := writePNG(*output, frame); err != nil {
		return fail(err)
	}

	p := message.NewPrinter(language.English)
	p.Fprintf(stdout, "%s: %dx%d, %d samples on %s\n", *output, frame.Width, frame.Height, frame.Samples, r.backend)
	p.Fprintf(stdout, "frames %d, resets %d, scene syncs %d\n", stats.Frames, stats.Resets, stats.Syncs)
	p.Fprintf(stdout, "buffers: %d allocations, %d uploads, %d releases\n",
		stats.Buffers.Allocations, stats.Buffers.Uploads, stats.Buffers.Releases)
	p.Fprintf(stdout, "target allocations %d, pixels traced %d\n",
		stats.TargetAllocations, uint64(frame.Width)*uint64(frame.Height)*stats.Frames)
	return 0
}

// openRenderer is replaced in tests.
var openRenderer = newRenderer

// renderer bundles a device with the kernel and compositor running on it.
type renderer struct {
	backend    string
	adapter    gpucore.GPUAdapter
	kernel     ptrace.Kernel
	compositor ptrace.Compositor
	close      func()
}

// newRenderer opens the named backend, or the best available one when
// name is empty. The host kernel runs on the software device; any other
// device gets the WGSL kernel and the accumulation shader.
func newRenderer(name string, bounces int) (*renderer, error) {
	var (
		dev backend.Device
		err error
	)
	if name == "" {
		name, dev, err = backend.Default()
	} else {
		dev, err = backend.Open(name)
	}
	if err != nil {
		return nil, err
	}

	if sw, ok := dev.(*software.Adapter); ok {
		return &renderer{
			backend:    name,
			adapter:    sw,
			kernel:     &hostKernel{adapter: sw, maxBounces: bounces},
			compositor: ptrace.NewCPUCompositor(sw),
			close:      sw.Close,
		}, nil
	}

	kernel, err := gpu.NewKernel(dev, gpu.WGSLSource(traceWGSL), gpu.KernelConfig{})
	if err != nil {
		dev.Close()
		return nil, err
	}
	compositor, err := gpu.NewCompositor(dev)
	if err != nil {
		kernel.Release()
		dev.Close()
		return nil, err
	}
	return &renderer{
		backend:    name,
		adapter:    dev,
		kernel:     kernel,
		compositor: compositor,
		close: func() {
			compositor.Release()
			kernel.Release()
			dev.Close()
		},
	}, nil
}

// buildScene returns a red sphere resting on a gray floor, lit from above
// at an angle, seen from five units back.
func buildScene() (*ptrace.Scene, error) {
	scene := ptrace.NewScene()
	scene.Camera.Transform.SetPosition(f32.Vec3{0, 1, 5})
	scene.Light.Transform.SetRotation(ptrace.QuatFromAxisAngle(f32.Vec3{1, 0, 0}, math.Pi/3).
		Mul(ptrace.QuatFromAxisAngle(f32.Vec3{0, 1, 0}, math.Pi/6)))

	scene.Add(ptrace.NewSphere(f32.Vec3{0, 1, 0}, 1, ptrace.Material{
		Albedo:   f32.Vec3{0.8, 0.1, 0.1},
		Specular: f32.Vec3{0.2, 0.2, 0.2},
	}))
	scene.Add(ptrace.NewSphere(f32.Vec3{-2, 0.5, -1}, 0.5, ptrace.Material{
		Albedo:   f32.Vec3{0.1, 0.1, 0.1},
		Specular: f32.Vec3{0.8, 0.8, 0.8},
	}))

	floor, err := ptrace.NewMesh(
		[]f32.Vec3{{-1, 0, -1}, {1, 0, -1}, {1, 0, 1}, {-1, 0, 1}},
		[]uint32{0, 2, 1, 0, 3, 2},
		ptrace.Material{Albedo: f32.Vec3{0.5, 0.5, 0.5}},
	)
	if err != nil {
		return nil, fmt.Errorf("floor: %w", err)
	}
	floor.Transform.SetScale(f32.Vec3{10, 1, 10})
	scene.Add(floor)
	return scene, nil
}

func render(r *renderer, scene *ptrace.Scene, width, height, frames int, seed uint64) (*ptrace.Frame, ptrace.Stats, error) {
	if frames <= 0 {
		return nil, ptrace.Stats{}, errors.New("frames must be positive")
	}
	tracer, err := ptrace.New(r.adapter, r.kernel, scene,
		ptrace.WithCompositor(r.compositor),
		ptrace.WithSeed(seed),
	)
	if err != nil {
		return nil, ptrace.Stats{}, err
	}
	if err := tracer.OnEnable(); err != nil {
		return nil, ptrace.Stats{}, err
	}
	defer tracer.OnDisable()

	var frame *ptrace.Frame
	for i := 0; i < frames; i++ {
		frame, err = tracer.OnFrameTick(width, height)
		if err != nil {
			return nil, tracer.Stats(), fmt.Errorf("frame %d: %w", i, err)
		}
		if frame == nil {
			return nil, tracer.Stats(), fmt.Errorf("frame %d skipped: %dx%d is not a valid size", i, width, height)
		}
	}
	return frame, tracer.Stats(), nil
}

func writePNG(path string, frame *ptrace.Frame) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, frame.RGBA()); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}
