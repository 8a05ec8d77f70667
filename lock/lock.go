/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package lock wraps any allocator.ByteAllocator in a spin-mutex and
// publishes it as the process-wide allocation hook (spec §4.5). Every
// operation acquires the lock, performs the underlying operation, and
// releases — linearizable, as spec §5 requires: whichever caller wins the
// CAS runs first, with no ordering guarantee beyond that.
//
// A spin-mutex, not sync.Mutex: the kernel's allocation hook may be called
// from an interrupt context, where blocking on a scheduler-aware mutex isn't
// an option (spec §5's interrupt-safety requirement). The CAS-loop technique
// is grounded on concurrency/gopool/gopool.go's atomic.CompareAndSwapInt64 /
// atomic.LoadInt32 worker-count bookkeeping — the teacher reaches for
// sync/atomic directly wherever it needs a lock-free flag, and no spinlock
// package appears anywhere in the retrieved pack, so this one concern is
// necessarily stdlib-only (see DESIGN.md).
package lock

import (
	"runtime"
	"sync/atomic"

	"github.com/gokernel/memalloc/allocator"
)

// spin is a non-blocking, interrupt-safe mutual-exclusion primitive: Lock
// busy-waits on a CAS instead of parking the calling goroutine, matching the
// "spin" semantics spec §5 requires from the allocator's own lock.
type spin struct {
	held int32
}

func (s *spin) Lock() {
	for !atomic.CompareAndSwapInt32(&s.held, 0, 1) {
		runtime.Gosched()
	}
}

func (s *spin) Unlock() {
	atomic.StoreInt32(&s.held, 0)
}

// Locked wraps an allocator.ByteAllocator with a spin-mutex, implementing
// the same interface so it can be installed as the process-wide hook via
// Install. The wrapped allocator must not itself acquire any lock the
// console/logging path might need — spec §5 forbids re-entering logging
// while holding the allocator mutex, so Locked never logs.
type Locked struct {
	mu    spin
	inner allocator.ByteAllocator
}

// New wraps inner in a spin-mutex.
func New(inner allocator.ByteAllocator) *Locked {
	return &Locked{inner: inner}
}

func (l *Locked) AddRegion(start, end uintptr) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inner.AddRegion(start, end)
}

func (l *Locked) Alloc(size, align uintptr) (uintptr, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.Alloc(size, align)
}

func (l *Locked) Dealloc(ptr, size, align uintptr) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inner.Dealloc(ptr, size, align)
}

func (l *Locked) Stats() allocator.HeapStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.Stats()
}

var global atomic.Value // stores allocator.ByteAllocator

// Install publishes l as the process-wide allocation hook consulted by
// high-level allocation primitives (box/vector/etc. in the kernel runtime —
// spec §9 "Global allocator as process-wide state"). Install is expected to
// be called exactly once, during early boot, before any dynamic allocation
// occurs; it is itself not safe to call concurrently with Alloc/Global.
func Install(l *Locked) {
	global.Store(l)
}

// Global returns the allocator installed by Install, or nil if none has
// been installed yet.
func Global() *Locked {
	v := global.Load()
	if v == nil {
		return nil
	}
	return v.(*Locked)
}

// Alloc, Dealloc and Realloc are the three operations the generic
// allocation hook exposes (spec §6): alloc(layout) -> pointer|null,
// dealloc(pointer, layout), and a default realloc built from the other two.
// null is the out-of-memory signal at this layer; richer error kinds are
// only surfaced through the direct Heap API.

// HookAlloc implements the generic hook's alloc(layout). It returns 0
// (the hook's "null") on any error, per spec §6/§7.
func HookAlloc(size, align uintptr) uintptr {
	g := Global()
	if g == nil {
		return 0
	}
	ptr, err := g.Alloc(size, align)
	if err != nil {
		return 0
	}
	return ptr
}

// HookDealloc implements the generic hook's dealloc(pointer, layout).
func HookDealloc(ptr, size, align uintptr) {
	g := Global()
	if g == nil {
		return
	}
	g.Dealloc(ptr, size, align)
}

// HookRealloc implements the generic hook's default realloc: alloc the new
// size, copy min(old, new) bytes, free the old block; 0 on failure.
func HookRealloc(ptr, oldSize, align, newSize uintptr) uintptr {
	g := Global()
	if g == nil {
		return 0
	}
	newPtr := HookAlloc(newSize, align)
	if newPtr == 0 {
		return 0
	}
	n := oldSize
	if newSize < n {
		n = newSize
	}
	copyBytes(newPtr, ptr, n)
	HookDealloc(ptr, oldSize, align)
	return newPtr
}
