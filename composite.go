package ptrace

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/ptrace/gpucore"
)

// CompositeParams describes one blend of the single-sample target into the
// accumulated target.
type CompositeParams struct {
	Width, Height int

	// Sample is the number of samples already in Accumulated. Zero means
	// Accumulated is overwritten with Single.
	Sample uint32

	Single      gpucore.BufferBinding
	Accumulated gpucore.BufferBinding
}

// Compositor blends a new sample into the running mean.
//
// For every channel the result must be exactly
// (Sample·accumulated + single) / (Sample + 1).
type Compositor interface {
	Composite(p *CompositeParams) error
}

// CPUCompositor composites on the host: it reads both targets back,
// blends them and uploads the result.
type CPUCompositor struct {
	adapter gpucore.GPUAdapter
}

// NewCPUCompositor returns a compositor that blends through adapter
// readbacks.
func NewCPUCompositor(adapter gpucore.GPUAdapter) *CPUCompositor {
	return &CPUCompositor{adapter: adapter}
}

// Composite implements Compositor.
func (c *CPUCompositor) Composite(p *CompositeParams) error {
	size := p.Single.Size()
	if p.Accumulated.Size() != size {
		return fmt.Errorf("ptrace: composite size mismatch: %d vs %d bytes", size, p.Accumulated.Size())
	}
	single, err := c.adapter.ReadBuffer(p.Single.Buffer, 0, size)
	if err != nil {
		return fmt.Errorf("ptrace: read result target: %w", err)
	}
	if p.Sample == 0 {
		c.adapter.WriteBuffer(p.Accumulated.Buffer, 0, single)
		return nil
	}
	accum, err := c.adapter.ReadBuffer(p.Accumulated.Buffer, 0, size)
	if err != nil {
		return fmt.Errorf("ptrace: read accumulation target: %w", err)
	}
	dst := decodeFloats(accum)
	BlendMean(dst, decodeFloats(single), p.Sample)
	c.adapter.WriteBuffer(p.Accumulated.Buffer, 0, encodeFloats(dst))
	return nil
}

// BlendMean folds sample into the running mean held in accum, which
// currently averages n samples. n == 0 copies sample.
func BlendMean(accum, sample []float32, n uint32) {
	if n == 0 {
		copy(accum, sample)
		return
	}
	w := float64(n)
	d := float64(n) + 1
	for i := range accum {
		if i >= len(sample) {
			break
		}
		accum[i] = float32((w*float64(accum[i]) + float64(sample[i])) / d)
	}
}

func decodeFloats(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}

func encodeFloats(f []float32) []byte {
	out := make([]byte, 4*len(f))
	for i, v := range f {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}
