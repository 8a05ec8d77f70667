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

// Package byteheap is the buddy-system byte-heap: arbitrarily-sized,
// arbitrarily-aligned byte allocations served from contiguous virtual memory
// regions handed to it via AddRegion. It owns ORDER intrusive free-lists (one
// per power-of-two size class) and eagerly coalesces a freed block with its
// buddy on every Dealloc.
//
// The split/coalesce algorithm and the order/size-class bookkeeping are
// grounded on unsafex/malloc/buddy.go's BuddyAllocator (same split-on-demand,
// pop-from-higher-order, push-leftover-half structure), generalized from a
// Go-slice-backed arena to arbitrary virtual address ranges fed through
// AddRegion, and from that allocator's lazy CoalesceUntil to eager,
// always-on-Dealloc coalescing per the kernel memory subsystem's spec.
package byteheap

import (
	"unsafe"

	"github.com/gokernel/memalloc/allocator"
	"github.com/gokernel/memalloc/freelist"
	"github.com/gokernel/memalloc/internal/bitutil"
)

// DefaultOrder is ORDER from the spec: sufficient for a 64-bit address space
// limited to 32-bit sizes. Free-list k holds blocks of exactly 1<<k bytes.
const DefaultOrder = 32

const pointerSize = uintptr(unsafe.Sizeof(uintptr(0)))

// Heap is the buddy byte-heap. The zero value is not usable; construct with
// New. Heap is not internally synchronized — concurrent access must go
// through lock.Locked, per the spec's separate locking-wrapper component.
type Heap struct {
	order     int
	freeLists []freelist.List

	// regions records each admitted [start, end) extent so AddRegion can
	// debug-assert against overlap; only appended to while allocator.Debug
	// is set, so it costs nothing otherwise.
	regions [][2]uintptr

	user      uint64
	allocated uint64
	total     uint64
}

// New creates an empty heap with order free-list buckets. order <= 0 selects
// DefaultOrder.
func New(order int) *Heap {
	if order <= 0 {
		order = DefaultOrder
	}
	return &Heap{
		order:     order,
		freeLists: make([]freelist.List, order),
	}
}

// AddRegion feeds [start, end) to the heap, decomposing it into the largest
// self-aligned power-of-two blocks that fit, per spec §4.2. start is aligned
// up and end aligned down to pointer alignment first; the routine is robust
// to arbitrary ranges. Regions fed must not overlap any prior region; with
// allocator.Debug set, AddRegion checks the new extent against every
// previously admitted one and panics on overlap (spec §7: RegionOverlap).
func (h *Heap) AddRegion(start, end uintptr) {
	start = uintptr(bitutil.AlignUp(uint64(start), uint64(pointerSize)))
	end = uintptr(bitutil.AlignDown(uint64(end), uint64(pointerSize)))

	if allocator.Debug {
		for _, r := range h.regions {
			if start < r[1] && r[0] < end {
				panic("byteheap: AddRegion overlaps a previously admitted region")
			}
		}
		h.regions = append(h.regions, [2]uintptr{start, end})
	}

	var admitted uint64
	maxOrder := uint(h.order - 1)
	for start < end {
		var trailing uint
		if start == 0 {
			trailing = uint(maxOrder)
		} else {
			trailing = uint(bitutil.TrailingZeros64(uint64(start)))
		}
		sizeOrder := uint(bitutil.Log2Floor(uint64(end - start)))
		k := trailing
		if sizeOrder < k {
			k = sizeOrder
		}
		if k > maxOrder {
			k = maxOrder
		}

		h.freeLists[k].Push(start)
		blockSize := uintptr(1) << k
		start += blockSize
		admitted += uint64(blockSize)
	}
	h.total += admitted
}

// required computes the rounded allocation size and its order, per spec
// §4.2 step 1: max(next-pow2(size), align, sizeof(pointer)).
func (h *Heap) required(size, align uintptr) (uintptr, int, error) {
	layout := allocator.Layout{Size: size, Align: align}
	if err := layout.Validate(); err != nil {
		return 0, 0, err
	}
	req := bitutil.NextPowerOfTwo(uint64(size))
	if req < uint64(size) {
		// rounding up to a power of two overflowed
		return 0, 0, allocator.ErrInvalidLayout
	}
	if uint64(align) > req {
		req = uint64(align)
	}
	if uint64(pointerSize) > req {
		req = uint64(pointerSize)
	}
	k0 := bitutil.Log2Floor(req)
	if k0 >= h.order {
		return 0, 0, allocator.ErrInvalidLayout
	}
	return uintptr(req), k0, nil
}

// Alloc returns the address of a block of at least size bytes, aligned to
// align, per spec §4.2. Ties are broken by order (smallest suitable order
// first) and, when splitting, the lower-addressed buddy is kept for further
// splitting.
func (h *Heap) Alloc(size, align uintptr) (uintptr, error) {
	required, k0, err := h.required(size, align)
	if err != nil {
		return 0, err
	}

	j := -1
	for k := k0; k < h.order; k++ {
		if !h.freeLists[k].Empty() {
			j = k
			break
		}
	}
	if j == -1 {
		return 0, allocator.ErrOutOfMemory
	}

	b, _ := h.freeLists[j].Pop()
	for j > k0 {
		half := uintptr(1) << uint(j-1)
		h.freeLists[j-1].Push(b + half)
		h.freeLists[j-1].Push(b)
		j--
		b, _ = h.freeLists[j].Pop()
	}

	h.user += uint64(size)
	h.allocated += uint64(required)
	return b, nil
}

// Dealloc returns a block to the heap, coalescing with its buddy as far as
// possible, per spec §4.2 step 2. size and align must exactly match the
// values passed to the Alloc call that produced ptr. With allocator.Debug
// set, Dealloc panics on a size/align that doesn't match ptr's actual order
// (SizeMismatch) or on a ptr already present in its order's free list
// (DoubleFree).
func (h *Heap) Dealloc(ptr, size, align uintptr) {
	required, k0, err := h.required(size, align)
	if err != nil {
		if allocator.Debug {
			panic("byteheap: Dealloc with invalid layout: " + err.Error())
		}
		return
	}

	if allocator.Debug {
		if ptr&((uintptr(1)<<uint(k0))-1) != 0 {
			panic("byteheap: Dealloc size/align mismatch: ptr is not aligned to the order implied by size/align")
		}
		if h.freeLists[k0].Contains(ptr) {
			panic("byteheap: double free detected")
		}
	}

	b := ptr
	k := k0
	for k < h.order-1 {
		c := b ^ (uintptr(1) << uint(k))
		if !h.freeLists[k].Remove(c) {
			break
		}
		if c < b {
			b = c
		}
		k++
	}
	h.freeLists[k].Push(b)

	h.user -= uint64(size)
	h.allocated -= uint64(required)
}

// Realloc is the default realloc implementation spec §6 describes: alloc the
// new size, copy min(old, new) bytes, free the old block. Returns 0 on
// failure, leaving the original block untouched.
func (h *Heap) Realloc(ptr, oldSize, align, newSize uintptr) uintptr {
	newPtr, err := h.Alloc(newSize, align)
	if err != nil {
		return 0
	}
	n := oldSize
	if newSize < n {
		n = newSize
	}
	src := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), int(n))
	dst := unsafe.Slice((*byte)(unsafe.Pointer(newPtr)), int(n))
	copy(dst, src)
	h.Dealloc(ptr, oldSize, align)
	return newPtr
}

// Stats reports the three byte-heap counters, as-of this call (locking, if
// any, is the caller's responsibility — see lock.Locked).
func (h *Heap) Stats() allocator.HeapStats {
	return allocator.HeapStats{User: h.user, Allocated: h.allocated, Total: h.total}
}

// AllocBytes and FreeBytes satisfy allocator.BackingAllocator, letting this
// heap serve as "the host's general heap" that frame.Allocator stores its
// metadata in (spec §4.3 / §9).
func (h *Heap) AllocBytes(n int) []byte {
	ptr, err := h.Alloc(uintptr(n), pointerSize)
	if err != nil {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n)
}

func (h *Heap) FreeBytes(b []byte) {
	if len(b) == 0 {
		return
	}
	ptr := uintptr(unsafe.Pointer(&b[0]))
	h.Dealloc(ptr, uintptr(len(b)), pointerSize)
}
