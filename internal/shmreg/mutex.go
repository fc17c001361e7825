package shmreg

import (
	"os"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// mutexRegionSize holds the 4-byte owner-pid field plus 4 bytes of
// padding; only the first 4 bytes are meaningful.
const mutexRegionSize = 8

// noOwner marks the mutex region as unheld.
const noOwner uint32 = 0

// RobustMutex emulates a PTHREAD_PROCESS_SHARED | PTHREAD_MUTEX_ROBUST
// mutex (spec.md §4.6) using an atomic owner-pid field at the head of its
// own shm region and a liveness check (unix.Kill(pid, 0)) standing in for
// pthread_mutex_consistent, since Go has no robust-pthread-mutex binding
// (SPEC_FULL.md §5.3).
type RobustMutex struct {
	region *Region
}

// OpenRobustMutex opens (creating if absent) the shm region backing a
// robust mutex keyed by name. It uses newRaw rather than New: a mutex's
// own backing region carries no companion mutex of its own.
func OpenRobustMutex(name string) (*RobustMutex, error) {
	r, err := newRaw(name, mutexRegionSize)
	if err != nil {
		return nil, err
	}
	return &RobustMutex{region: r}, nil
}

func (m *RobustMutex) ownerPtr() *uint32 {
	return (*uint32)(unsafe.Pointer(&m.region.data[0]))
}

// Lock acquires the mutex, spinning with backoff. If the recorded owner
// pid is no longer alive, the mutex is recovered (EOWNERDEAD handling)
// and acquisition proceeds immediately — spec.md §4.6 "mutex acquisition
// on a dead owner recovers the mutex and proceeds".
func (m *RobustMutex) Lock() error {
	self := uint32(os.Getpid())
	owner := m.ownerPtr()
	backoff := time.Millisecond
	for {
		if atomic.CompareAndSwapUint32(owner, noOwner, self) {
			return nil
		}
		held := atomic.LoadUint32(owner)
		if held != noOwner && held != self && !processAlive(int(held)) {
			// EOWNERDEAD equivalent: the owner died mid-hold. Recover by
			// force-taking ownership; pthread_mutex_consistent has no
			// state to clear here since this emulation carries none.
			if atomic.CompareAndSwapUint32(owner, held, self) {
				return nil
			}
			continue
		}
		time.Sleep(backoff)
		if backoff < 50*time.Millisecond {
			backoff *= 2
		}
	}
}

// TryLock attempts a single non-blocking acquisition, recovering a
// dead-owner mutex if found.
func (m *RobustMutex) TryLock() bool {
	self := uint32(os.Getpid())
	owner := m.ownerPtr()
	if atomic.CompareAndSwapUint32(owner, noOwner, self) {
		return true
	}
	held := atomic.LoadUint32(owner)
	if held != noOwner && held != self && !processAlive(int(held)) {
		return atomic.CompareAndSwapUint32(owner, held, self)
	}
	return false
}

// Unlock releases the mutex. Unlocking a mutex this process does not hold
// is a no-op, matching the spec's "fire and observe" cleanup philosophy.
func (m *RobustMutex) Unlock() {
	self := uint32(os.Getpid())
	owner := m.ownerPtr()
	atomic.CompareAndSwapUint32(owner, self, noOwner)
}

// Close releases this process's mapping of the mutex's shm region.
func (m *RobustMutex) Close() error { return m.region.Unmap() }

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil
}
