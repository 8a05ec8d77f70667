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

// Package listheap is the linked-list fallback byte-heap: first-fit,
// immediate free-region insertion, no coalescing. It implements the same
// allocator.ByteAllocator contract as byteheap.Heap, for comparison and for
// bootstrap scenarios where the buddy invariants (power-of-two block
// hierarchy) aren't worth the bookkeeping yet.
//
// The algorithm (sentinel head, {size, next} header written at the start of
// each free region, first-fit scan, unlink-then-maybe-split-remainder) is
// grounded directly on original_source/src/allocator/list.rs's Allocator —
// ported to Go in the header-stamping style unsafex/malloc/buddy.go and
// bitmap.go use (a small fixed header written via unsafe.Pointer at the
// front of the block). The header carries no magic number, and Dealloc does
// not verify the block it is given.
package listheap

import (
	"unsafe"

	"github.com/gokernel/memalloc/allocator"
	"github.com/gokernel/memalloc/internal/bitutil"
)

// node is the free-region header, written in place at the start of every
// free region. Its natural alignment is the alignment every node address
// must satisfy (spec §3's listheap invariant).
type node struct {
	size uint64
	next uintptr
}

const nodeSize = uintptr(unsafe.Sizeof(node{}))
const nodeAlign = uintptr(unsafe.Alignof(node{}))

func nodeAt(addr uintptr) *node {
	return (*node)(unsafe.Pointer(addr))
}

// Heap is the linked-list byte-heap. The zero value is an empty heap. Not
// internally synchronized — see lock.Locked.
type Heap struct {
	head node // sentinel; head.next is the first real free region

	user      uint64
	allocated uint64
	total     uint64
}

// New creates an empty linked-list heap.
func New() *Heap {
	return &Heap{}
}

// AddRegion inserts [start, end) as a single free region at the head of the
// list, after rounding start up and end down to node alignment — mirroring
// list.rs's add_free_region, which asserts the region is node-aligned and at
// least sizeof(Node).
func (h *Heap) AddRegion(start, end uintptr) {
	start = uintptr(bitutil.AlignUp(uint64(start), uint64(nodeAlign)))
	end = uintptr(bitutil.AlignDown(uint64(end), uint64(nodeAlign)))
	if end <= start || end-start < nodeSize {
		return
	}
	size := uint64(end - start)
	n := nodeAt(start)
	n.size = size
	n.next = h.head.next
	h.head.next = start

	h.total += size
}

// required rounds size up to node alignment and to at least sizeof(node),
// per spec §4.4 step 1.
func required(size uintptr) uintptr {
	r := bitutil.AlignUp(uint64(size), uint64(nodeAlign))
	if r < uint64(nodeSize) {
		r = uint64(nodeSize)
	}
	return uintptr(r)
}

// Alloc walks the free-region chain for the first region that fits size
// bytes aligned to align, per spec §4.4: accept if the aligned allocation
// fits and the trailing excess is either zero or large enough to hold a new
// node header.
func (h *Heap) Alloc(size, align uintptr) (uintptr, error) {
	layout := allocator.Layout{Size: size, Align: align}
	if err := layout.Validate(); err != nil {
		return 0, err
	}
	need := required(size)
	if need < size {
		// rounding up to node alignment overflowed
		return 0, allocator.ErrInvalidLayout
	}

	prevAddr := uintptr(unsafe.Pointer(&h.head))
	cur := h.head.next
	for cur != 0 {
		region := nodeAt(cur)
		allocStart := bitutil.AlignUp(uint64(cur), uint64(align))
		allocEnd := allocStart + uint64(need)
		regionEnd := uint64(cur) + region.size

		if allocEnd <= regionEnd {
			excess := regionEnd - allocEnd
			if excess == 0 || excess >= uint64(nodeSize) {
				next := region.next
				// prevAddr aliases either the sentinel h.head or a real
				// in-arena node; both share node's layout, so unlinking is
				// the same write either way.
				(*node)(unsafe.Pointer(prevAddr)).next = next

				if excess > 0 {
					rem := nodeAt(uintptr(allocEnd))
					rem.size = excess
					rem.next = h.head.next
					h.head.next = uintptr(allocEnd)
				}

				h.user += uint64(size)
				h.allocated += need
				return uintptr(allocStart), nil
			}
		}

		prevAddr = cur
		cur = region.next
	}
	return 0, allocator.ErrOutOfMemory
}

// Dealloc pushes a fresh node of size bytes at ptr onto the head of the
// list. No coalescing, no best-fit — fragmentation is expected to grow over
// the heap's lifetime, as spec §9's Open Questions note (treated here as
// intentional, per the teacher's and the original source's own choice).
func (h *Heap) Dealloc(ptr, size, align uintptr) {
	need := required(size)
	n := nodeAt(ptr)
	n.size = uint64(need)
	n.next = h.head.next
	h.head.next = ptr

	h.user -= uint64(size)
	h.allocated -= uint64(need)
	_ = align
}

// Stats reports the heap counters.
func (h *Heap) Stats() allocator.HeapStats {
	return allocator.HeapStats{User: h.user, Allocated: h.allocated, Total: h.total}
}
