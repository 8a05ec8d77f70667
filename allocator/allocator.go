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

// Package allocator holds the contract shared by every byte allocator in
// this module (byteheap.Heap, listheap.Heap, lock.Locked) plus the error
// kinds and counters described in the kernel memory subsystem's observability
// and error-handling design: a direct heap caller gets a typed error back,
// while the generic allocation hook (§6) only ever sees a pointer or nil.
package allocator

import "errors"

// Debug gates the assertions the spec calls out as "debug builds should
// assert": double-free / size-mismatch on Dealloc, and region overlap on
// AddRegion/AddFrames. Off by default so the hot allocation path pays
// nothing for it; individual tests flip it on and restore it afterward.
//
// The checks this enables are deliberately cheap, structural ones rather
// than a stored-header scheme (the teacher's unsafex/malloc/buddy.go writes
// a magic+size header per block; this module has no spare header room once
// a block is sized to exactly its rounded-up order). Double-free uses a
// free-list/ordered-set membership test (freelist.List.Contains / the
// frame package's orderedSet.Contains): if
// the address being freed is already on the free list for its order, it's
// a double free. Size-mismatch exploits the buddy invariant that every
// order-k block address is a multiple of 1<<k: if the (size, align) passed
// to Dealloc implies an order the address isn't aligned to, the caller
// didn't pass back what Alloc gave it. Region overlap walks the list of
// previously admitted [start, end) extents — so it only catches overlaps
// among regions fed while Debug was already on.
var Debug = false

// ErrOutOfMemory is returned when no free-list at or above the required
// order holds a block. The generic allocation hook surfaces it, like every
// other error, as a nil pointer rather than this value.
var ErrOutOfMemory = errors.New("memalloc: out of memory")

// ErrInvalidLayout is returned for a programmer error: zero size, zero or
// non-power-of-two alignment, or an overflow while rounding size/align up.
var ErrInvalidLayout = errors.New("memalloc: invalid layout")

// Layout mirrors Rust's core::alloc::Layout: a requested size and alignment.
// Align must be a power of two; Size must be nonzero — a zero-sized request
// is rejected with ErrInvalidLayout rather than rounded up, since the spec
// leaves the choice open and this module picks "reject" (callers that want
// a zero-sized marker allocation should request size 1 themselves).
type Layout struct {
	Size  uintptr
	Align uintptr
}

// Validate checks the layout against the InvalidLayout rules in spec §7.
func (l Layout) Validate() error {
	if l.Align == 0 || l.Align&(l.Align-1) != 0 {
		return ErrInvalidLayout
	}
	if l.Size == 0 {
		return ErrInvalidLayout
	}
	// overflow check: rounding size up to align must not wrap.
	if l.Size > ^uintptr(0)-l.Align {
		return ErrInvalidLayout
	}
	return nil
}

// HeapStats reports the three byte-heap counters from spec §3: user bytes
// requested (the size as passed to Alloc, before any rounding), bytes
// physically carved out, and bytes ever fed in. user <= allocated <= total
// always holds.
type HeapStats struct {
	User      uint64
	Allocated uint64
	Total     uint64
}

// FrameStats is HeapStats' frame-allocator counterpart: frames allocated and
// frames ever fed in.
type FrameStats struct {
	Allocated uint64
	Total     uint64
}

// ByteAllocator is the external contract shared by byteheap.Heap and
// listheap.Heap (spec §1: "the same external contract"), and by anything
// lock.New wraps. Dealloc requires the exact size/align supplied to the
// matching Alloc — unlike a general-purpose malloc, callers must remember
// it (spec §3 Lifecycle).
type ByteAllocator interface {
	AddRegion(start, end uintptr)
	Alloc(size, align uintptr) (uintptr, error)
	Dealloc(ptr, size, align uintptr)
	Stats() HeapStats
}

// BackingAllocator is the narrower contract frame.Allocator needs from
// "the host's general heap" (spec §4.3) to grow its per-order bookkeeping
// slices. byteheap.Heap satisfies it trivially via its AllocBytes/FreeBytes
// methods.
type BackingAllocator interface {
	AllocBytes(n int) []byte
	FreeBytes(b []byte)
}
