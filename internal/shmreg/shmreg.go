// Package shmreg implements the shared-memory registry (spec.md §4.6): a
// named POSIX shm region per Pipeline or Target descriptor, keyed so a
// consumer process can address a pipeline owned by a producer process
// without ever dereferencing a raw pointer across the process boundary
// (spec.md §9 "Cross-process shared object pattern").
package shmreg

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/haloedge/ingestd/internal/domainerr"
)

// PipelineKey is the shm name for a Pipeline region (spec.md §4.6).
func PipelineKey(nodeID uint32) string {
	return fmt.Sprintf("/ingestd_pipeline_%d", nodeID)
}

// TargetKey is the shm name for a Target region (spec.md §4.6).
func TargetKey(uriHash, nodeID uint32) string {
	return fmt.Sprintf("/ingestd_target_%d_%d", uriHash, nodeID)
}

// Region is one mapped shm segment. It owns the backing fd and mapping and
// is not safe for concurrent New/Close from multiple goroutines on the
// same *Region value (mirrors the spec's single-owner-per-process model).
//
// A Region created via New carries a companion RobustMutex (spec.md §4.6)
// that serializes Read/Write across every process holding a mapping of the
// same name, recovering automatically if the owning process dies mid-hold.
type Region struct {
	name string
	fd   int
	data []byte

	mu     sync.Mutex
	robust *RobustMutex
}

// New opens (creating if absent) a shm region of size bytes, mirroring
// spec.md §4.6's "new" operation: shm_open(O_CREAT|O_RDWR, 0666),
// ftruncate(size), mmap(PROT_WRITE, MAP_SHARED). Idempotent: calling New
// twice with the same name and a process still holding the first Region
// both succeed, sharing the same kernel object. The region is additionally
// backed by a robust cross-process mutex (spec.md §4.6) so concurrent
// producer/consumer Read/Write calls are serialized rather than racing on
// the shared mapping.
func New(name string, size int) (*Region, error) {
	r, err := newRaw(name, size)
	if err != nil {
		return nil, err
	}
	m, err := OpenRobustMutex(name + "_mu")
	if err != nil {
		r.Unmap()
		return nil, err
	}
	r.robust = m
	return r, nil
}

// newRaw opens (creating if absent) a bare shm region with no companion
// mutex attached. It is the primitive New and OpenRobustMutex both build
// on; OpenRobustMutex must use newRaw rather than New, since a mutex's own
// backing region must not itself try to recursively acquire a mutex.
func newRaw(name string, size int) (*Region, error) {
	fd, err := unix.Open(shmPath(name), unix.O_CREAT|unix.O_RDWR, 0666)
	if err != nil {
		return nil, domainerr.New(domainerr.ResourceRW, "shmreg.new", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, domainerr.New(domainerr.ResourceWrite, "shmreg.new", err)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, domainerr.New(domainerr.ResourceRW, "shmreg.new", err)
	}
	return &Region{name: name, fd: fd, data: data}, nil
}

// Read returns the current contents of the region, held under the
// region's robust mutex when one is attached. The caller is responsible
// for deserializing via the appropriate deep-copy routine.
func (r *Region) Read() []byte {
	r.mu.Lock()
	robust := r.robust
	r.mu.Unlock()
	if robust != nil {
		robust.Lock()
		defer robust.Unlock()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]byte, len(r.data))
	copy(out, r.data)
	return out
}

// Write overwrites the region's contents, truncating or zero-padding to
// the region's fixed size, held under the region's robust mutex when one
// is attached.
func (r *Region) Write(p []byte) {
	r.mu.Lock()
	robust := r.robust
	r.mu.Unlock()
	if robust != nil {
		robust.Lock()
		defer robust.Unlock()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := copy(r.data, p)
	for i := n; i < len(r.data); i++ {
		r.data[i] = 0
	}
}

// Unmap releases this process's mapping without destroying the shm object,
// spec.md §4.6's "unmap" operation (used by a consumer process that must
// never call shm_unlink on a region it does not own). The companion
// mutex's mapping, if any, is released alongside it.
func (r *Region) Unmap() error {
	r.mu.Lock()
	robust := r.robust
	r.robust = nil
	if r.data == nil {
		r.mu.Unlock()
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	unix.Close(r.fd)
	r.fd = -1
	r.mu.Unlock()
	if robust != nil {
		robust.Close()
	}
	if err != nil {
		return domainerr.New(domainerr.ResourceRW, "shmreg.unmap", err)
	}
	return nil
}

// Close runs the entity's free_srt_resources cleanup hook, unmaps, and
// shm_unlinks the region (spec.md §4.6's "close" operation — only the
// owning process should call this; a borrowing consumer should call Unmap
// instead, per spec.md §9 Open Question (d): unmap in both branches). The
// companion mutex region, if any, is unlinked alongside it.
func (r *Region) Close(cleanup func()) error {
	if cleanup != nil {
		cleanup()
	}
	r.mu.Lock()
	hadRobust := r.robust != nil
	r.mu.Unlock()
	if err := r.Unmap(); err != nil {
		return err
	}
	if hadRobust {
		unix.Unlink(shmPath(r.name + "_mu"))
	}
	if err := unix.Unlink(shmPath(r.name)); err != nil {
		return domainerr.New(domainerr.ResourceRW, "shmreg.close", err)
	}
	return nil
}

func shmPath(name string) string {
	return "/dev/shm" + name
}
