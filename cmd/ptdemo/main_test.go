package main

import (
	"bytes"
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gogpu/ptrace"
	"github.com/gogpu/ptrace/backend"
	"github.com/gogpu/ptrace/backend/software"
	"golang.org/x/image/math/f32"
)

func TestIntersectSphere(t *testing.T) {
	tests := []struct {
		name   string
		origin f32.Vec3
		dir    f32.Vec3
		want   float32
		hit    bool
	}{
		{"head on", f32.Vec3{0, 0, 5}, f32.Vec3{0, 0, -1}, 4, true},
		{"from inside", f32.Vec3{0, 0, 0}, f32.Vec3{1, 0, 0}, 1, true},
		{"miss", f32.Vec3{0, 3, 5}, f32.Vec3{0, 0, -1}, 0, false},
		{"behind", f32.Vec3{0, 0, 5}, f32.Vec3{0, 0, 1}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := intersectSphere(tt.origin, tt.dir, f32.Vec3{}, 1)
			if ok != tt.hit || (ok && got != tt.want) {
				t.Errorf("intersectSphere() = %v, %v, want %v, %v", got, ok, tt.want, tt.hit)
			}
		})
	}
}

func TestIntersectTriangle(t *testing.T) {
	v0, v1, v2 := f32.Vec3{-1, -1, 0}, f32.Vec3{1, -1, 0}, f32.Vec3{0, 1, 0}
	if got, ok := intersectTriangle(f32.Vec3{0, 0, 3}, f32.Vec3{0, 0, -1}, v0, v1, v2); !ok || got != 3 {
		t.Errorf("front hit = %v, %v, want 3, true", got, ok)
	}
	if got, ok := intersectTriangle(f32.Vec3{0, 0, -2}, f32.Vec3{0, 0, 1}, v0, v1, v2); !ok || got != 2 {
		t.Errorf("back hit = %v, %v, want 2, true", got, ok)
	}
	if _, ok := intersectTriangle(f32.Vec3{2, 2, 3}, f32.Vec3{0, 0, -1}, v0, v1, v2); ok {
		t.Error("ray outside the triangle reported a hit")
	}
	if _, ok := intersectTriangle(f32.Vec3{0, 0, 3}, f32.Vec3{1, 0, 0}, v0, v1, v2); ok {
		t.Error("parallel ray reported a hit")
	}
}

func TestRowMajorRoundTrip(t *testing.T) {
	var m f32.Mat4
	for i := range m {
		m[i] = float32(i)
	}
	if got := rowMajor(rowMajor(m)); got != m {
		t.Errorf("rowMajor twice = %v, want %v", got, m)
	}
	// Translation lives in the last column of a row-major matrix.
	cm := f32.Mat4{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 2, 3, 4, 1}
	if got := transformPoint(rowMajor(cm), f32.Vec3{}); got != (f32.Vec3{2, 3, 4}) {
		t.Errorf("translated origin = %v, want [2 3 4]", got)
	}
}

func TestHostKernelShadesSphere(t *testing.T) {
	dev := software.NewAdapter()
	scene := ptrace.NewScene()
	scene.Camera.Transform.SetPosition(f32.Vec3{0, 0, 5})
	scene.Add(ptrace.NewSphere(f32.Vec3{}, 1, ptrace.Material{Albedo: f32.Vec3{1, 0, 0}}))

	tr, err := ptrace.New(dev, &hostKernel{adapter: dev, maxBounces: 2}, scene, ptrace.WithSeed(3))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := tr.OnEnable(); err != nil {
		t.Fatalf("OnEnable() error = %v", err)
	}
	defer tr.OnDisable()

	fr, err := tr.OnFrameTick(32, 32)
	if err != nil || fr == nil {
		t.Fatalf("OnFrameTick() = %v, %v", fr, err)
	}

	// The upper half of the sphere faces the light straight above it.
	lit := fr.At(16, 12)
	if lit[0] <= 0 || lit[1] != 0 || lit[2] != 0 {
		t.Errorf("lit sphere pixel = %v, want pure red", lit)
	}
	// The corner ray misses and sees the sky gradient.
	sky := fr.At(0, 0)
	if sky[0] < 0.5 || sky[2] < sky[0] {
		t.Errorf("sky pixel = %v, want bright blue-ish", sky)
	}
	if sky[3] != 1 {
		t.Errorf("alpha = %v, want 1", sky[3])
	}
}

func TestRenderDemoScene(t *testing.T) {
	r, err := newRenderer(backend.BackendSoftware, 1)
	if err != nil {
		t.Fatalf("newRenderer() error = %v", err)
	}
	defer r.close()
	scene, err := buildScene()
	if err != nil {
		t.Fatalf("buildScene() error = %v", err)
	}

	frame, stats, err := render(r, scene, 16, 12, 3, 1)
	if err != nil {
		t.Fatalf("render() error = %v", err)
	}
	if frame.Samples != 3 || stats.Frames != 3 {
		t.Errorf("samples = %d frames = %d, want 3 and 3", frame.Samples, stats.Frames)
	}
	if stats.Buffers.Live != 4 {
		t.Errorf("live scene buffers = %d, want spheres, meshes, vertices and indices", stats.Buffers.Live)
	}

	path := filepath.Join(t.TempDir(), "out.png")
	if err := writePNG(path, frame); err != nil {
		t.Fatalf("writePNG() error = %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("png.Decode() error = %v", err)
	}
	if b := img.Bounds(); b.Dx() != 16 || b.Dy() != 12 {
		t.Errorf("image size = %v, want 16x12", b)
	}
}

func TestRenderRejectsBadInput(t *testing.T) {
	r, err := newRenderer(backend.BackendSoftware, 0)
	if err != nil {
		t.Fatalf("newRenderer() error = %v", err)
	}
	defer r.close()
	scene, err := buildScene()
	if err != nil {
		t.Fatalf("buildScene() error = %v", err)
	}
	if _, _, err := render(r, scene, 16, 12, 0, 1); err == nil {
		t.Error("zero frames: expected error")
	}
	if _, _, err := render(r, scene, 0, 12, 1, 1); err == nil {
		t.Error("zero width: expected error")
	}
}

func TestNewRendererUnknownBackend(t *testing.T) {
	if _, err := newRenderer("nope", 1); !errors.Is(err, backend.ErrBackendNotAvailable) {
		t.Errorf("newRenderer(nope) error = %v, want ErrBackendNotAvailable", err)
	}
}

func TestRunReleasesRenderer(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name   string
		args   []string
		code   int
		stderr string
	}{
		{"success", []string{"-width=8", "-height=6", "-frames=2", "-output=" + filepath.Join(dir, "ok.png")}, 0, ""},
		{"render error", []string{"-frames=0", "-output=" + filepath.Join(dir, "zero.png")}, 1, "frames must be positive"},
		{"write error", []string{"-width=8", "-height=6", "-frames=1", "-output=" + filepath.Join(dir, "missing", "x.png")}, 1, "ptdemo:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			closed := 0
			openRenderer = func(_ string, bounces int) (*renderer, error) {
				r, err := newRenderer(backend.BackendSoftware, bounces)
				if err != nil {
					return nil, err
				}
				release := r.close
				r.close = func() {
					closed++
					release()
				}
				return r, nil
			}
			t.Cleanup(func() {
				openRenderer = newRenderer
				ptrace.SetLogger(nil)
			})

			var stdout, stderr bytes.Buffer
			if code := run(append([]string{"-backend=software"}, tt.args...), &stdout, &stderr); code != tt.code {
				t.Fatalf("run() = %d, want %d (stderr %q)", code, tt.code, stderr.String())
			}
			if closed != 1 {
				t.Errorf("renderer closed %d times, want 1", closed)
			}
			if tt.stderr != "" && !strings.Contains(stderr.String(), tt.stderr) {
				t.Errorf("stderr = %q, want it to contain %q", stderr.String(), tt.stderr)
			}
			if tt.code == 0 && !strings.Contains(stdout.String(), "2 samples on software") {
				t.Errorf("stdout = %q, want a summary line", stdout.String())
			}
		})
	}
}

func TestRunBadFlag(t *testing.T) {
	t.Cleanup(func() { ptrace.SetLogger(nil) })
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-frames=many"}, &stdout, &stderr); code != 2 {
		t.Errorf("run() = %d, want 2", code)
	}
}
