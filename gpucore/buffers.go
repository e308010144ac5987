// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpucore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Buffer synchronization errors.
var (
	// ErrLayoutMismatch is returned when host records do not match the
	// declared per-element stride. This is a configuration defect: the
	// kernel would read garbage, so it is never tolerated.
	ErrLayoutMismatch = errors.New("gpucore: record layout does not match stride")

	// ErrOutOfMemory is returned by adapters that cannot satisfy an allocation.
	ErrOutOfMemory = errors.New("gpucore: out of device memory")
)

// BufferKind names a buffer owned by a BufferSync (e.g. "Spheres").
type BufferKind string

// BufferBinding describes the live GPU allocation for one kind.
type BufferBinding struct {
	Kind   BufferKind
	Buffer BufferID
	Count  int // element count
	Stride int // bytes per element
}

// Size returns the buffer size in bytes.
func (b BufferBinding) Size() uint64 {
	return uint64(b.Count) * uint64(b.Stride) //nolint:gosec // count and stride are positive
}

// SyncStats counts BufferSync activity since creation.
type SyncStats struct {
	Allocations uint64
	Releases    uint64
	Uploads     uint64
	Live        int
}

// BufferSync keeps one storage buffer per kind in line with its host-side
// source array. A buffer is reallocated only when its element count or
// stride changes; otherwise the data is re-uploaded in place.
//
// At most one allocation per kind is live at any time. After a failed
// Reconcile the kind has no binding, so a dispatch can never see stale
// data of the wrong size.
type BufferSync struct {
	mu      sync.Mutex
	adapter GPUAdapter
	usage   BufferUsage
	buffers map[BufferKind]BufferBinding
	stats   SyncStats
	log     *slog.Logger
}

// NewBufferSync creates a BufferSync allocating storage buffers on adapter.
func NewBufferSync(adapter GPUAdapter) *BufferSync {
	return &BufferSync{
		adapter: adapter,
		usage:   BufferUsageStorage | BufferUsageCopyDst | BufferUsageCopySrc,
		buffers: make(map[BufferKind]BufferBinding),
		log:     slog.New(nopHandler{}),
	}
}

// SetLogger sets the logger used for allocation diagnostics.
// Pass nil to disable logging.
func (s *BufferSync) SetLogger(l *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l == nil {
		l = slog.New(nopHandler{})
	}
	s.log = l
}

// Reconcile brings the buffer for kind in line with data, which holds
// len(data)/stride elements of stride bytes each.
//
//   - no buffer yet: allocate and upload if data is non-empty
//   - empty data, or count or stride changed: release, then allocate
//     fresh only if data is non-empty
//   - same count and stride: upload in place
//
// Allocation failure is returned wrapped; the kind is left unbound.
func (s *BufferSync) Reconcile(kind BufferKind, data []byte, stride int) error {
	if stride <= 0 {
		s.Release(kind)
		return fmt.Errorf("%w: %s stride %d", ErrLayoutMismatch, kind, stride)
	}
	if len(data)%stride != 0 {
		s.Release(kind)
		return fmt.Errorf("%w: %s has %d bytes, not a multiple of stride %d",
			ErrLayoutMismatch, kind, len(data), stride)
	}
	count := len(data) / stride

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.buffers[kind]; ok {
		if count > 0 && cur.Count == count && cur.Stride == stride {
			s.adapter.WriteBuffer(cur.Buffer, 0, data)
			s.stats.Uploads++
			s.log.Debug("gpucore: buffer uploaded", "kind", kind, "count", count)
			return nil
		}
		s.releaseLocked(kind, cur)
	}
	if count == 0 {
		return nil
	}

	id, err := s.adapter.CreateBuffer(len(data), s.usage, string(kind))
	if err != nil {
		s.log.Error("gpucore: buffer allocation failed", "kind", kind, "bytes", len(data), "err", err)
		return fmt.Errorf("gpucore: allocate %s buffer (%d x %d bytes): %w", kind, count, stride, err)
	}
	s.buffers[kind] = BufferBinding{Kind: kind, Buffer: id, Count: count, Stride: stride}
	s.stats.Allocations++
	s.adapter.WriteBuffer(id, 0, data)
	s.stats.Uploads++
	s.log.Debug("gpucore: buffer allocated", "kind", kind, "count", count, "stride", stride)
	return nil
}

// ReconcileRecords encodes records little-endian and reconciles them into
// the buffer for kind. The encoded size of T must equal stride, otherwise
// ErrLayoutMismatch is returned and the kind is released.
func ReconcileRecords[T any](s *BufferSync, kind BufferKind, records []T, stride int) error {
	var zero T
	if size := binary.Size(zero); size != stride {
		s.Release(kind)
		return fmt.Errorf("%w: %s record is %d bytes, contract stride is %d",
			ErrLayoutMismatch, kind, size, stride)
	}
	if len(records) == 0 {
		return s.Reconcile(kind, nil, stride)
	}
	var buf bytes.Buffer
	buf.Grow(len(records) * stride)
	if err := binary.Write(&buf, binary.LittleEndian, records); err != nil {
		s.Release(kind)
		return fmt.Errorf("gpucore: encode %s records: %w", kind, err)
	}
	return s.Reconcile(kind, buf.Bytes(), stride)
}

// Binding returns the live allocation for kind. The second result is false
// when the kind has no buffer (never reconciled, empty or released).
func (s *BufferSync) Binding(kind BufferKind) (BufferBinding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buffers[kind]
	return b, ok
}

// Kinds returns the kinds that currently have a live buffer, sorted.
func (s *BufferSync) Kinds() []BufferKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]BufferKind, 0, len(s.buffers))
	for k := range s.buffers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Release destroys the buffer for kind, if any.
func (s *BufferSync) Release(kind BufferKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.buffers[kind]; ok {
		s.releaseLocked(kind, cur)
	}
}

// ReleaseAll destroys every owned buffer.
func (s *BufferSync) ReleaseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for kind, cur := range s.buffers {
		s.releaseLocked(kind, cur)
	}
}

// Stats returns a snapshot of the allocation counters.
func (s *BufferSync) Stats() SyncStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Live = len(s.buffers)
	return st
}

func (s *BufferSync) releaseLocked(kind BufferKind, cur BufferBinding) {
	s.adapter.DestroyBuffer(cur.Buffer)
	delete(s.buffers, kind)
	s.stats.Releases++
	s.log.Debug("gpucore: buffer released", "kind", kind, "count", cur.Count)
}

// nopHandler silently discards all log records.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }
