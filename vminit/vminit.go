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

// Package vminit wires a byte-heap allocator up to the virtual-memory
// subsystem that owns page mapping and physical frame allocation. It plays
// the role original_source/src/main.rs's kernel_main plays for its three
// allocator variants (bump, linked-list, buddy): walk the heap's virtual
// range one page at a time, get a physical frame for each from the boot
// frame allocator, map it writable, then hand the whole mapped range to a
// byte allocator in one AddRegion call.
//
// Unlike the original, which picks an allocator at compile time via which
// module main.rs imports, this package exposes the choice as a runtime
// Config field — a single binary, not three.
package vminit

import (
	"errors"
	"fmt"

	"github.com/gokernel/memalloc/allocator"
	"github.com/gokernel/memalloc/byteheap"
	"github.com/gokernel/memalloc/listheap"
)

// PageSize is the mapping granularity vminit works in, matching the 4 KiB
// pages original_source/src/memory/memory_management.rs's
// BootInfoFrameAllocator hands out (Size4KiB frames).
const PageSize = 4096

// ErrMapPage is returned by Init, wrapped, when the page mapper fails
// partway through; the returned error carries the mapper error's text but
// does not wrap the mapper error itself.
var ErrMapPage = errors.New("vminit: failed to map page")

// ErrNoFrame is returned by Init when the frame source runs out of
// physical frames before the heap range is fully mapped.
var ErrNoFrame = errors.New("vminit: frame allocator returned no frame")

// PageMapper maps one page-aligned virtual address to a freshly allocated
// physical frame, writable. It mirrors x86_64::structures::paging::Mapper's
// map_to, narrowed to the one call Init needs.
type PageMapper interface {
	MapPage(virtAddr uintptr, frame Frame) error
}

// Frame identifies one physical frame, as returned by a FrameSource.
type Frame struct {
	// StartAddr is the frame's physical start address.
	StartAddr uintptr
}

// FrameSource allocates single physical frames, mirroring
// memory_management.rs's BootInfoFrameAllocator (itself an
// x86_64::structures::paging::FrameAllocator<Size4KiB>).
type FrameSource interface {
	AllocateFrame() (Frame, bool)
}

// Kind selects which allocator implementation Init feeds the mapped heap
// range to.
type Kind int

const (
	// AllocatorBuddy selects byteheap.Heap, the buddy-system allocator.
	AllocatorBuddy Kind = iota
	// AllocatorList selects listheap.Heap, the linked-list fallback.
	AllocatorList
)

// Config parameterizes Init.
type Config struct {
	// Allocator selects which byte allocator implementation to build and
	// populate.
	Allocator Kind

	// HeapStart is the first virtual address of the heap range, must be
	// page-aligned.
	HeapStart uintptr

	// HeapSize is the size in bytes of the heap range, must be a multiple
	// of PageSize.
	HeapSize uintptr

	// Order is the buddy order passed to byteheap.New when Allocator is
	// AllocatorBuddy. Zero means byteheap.DefaultOrder.
	Order int
}

// Init maps [HeapStart, HeapStart+HeapSize) page by page — allocating one
// physical frame per page from frames and mapping it writable via mapper —
// then feeds the whole mapped range to the selected allocator.ByteAllocator
// in a single AddRegion call, just as init_heap does after its per-page
// map_to loop.
//
// On a partial failure, pages already mapped stay mapped: the original
// never unwinds them either, since by the time init_heap can fail the
// kernel has no unmap path.
func Init(cfg Config, mapper PageMapper, frames FrameSource) (allocator.ByteAllocator, error) {
	if cfg.HeapStart%PageSize != 0 {
		return nil, fmt.Errorf("vminit: heap start %#x is not page-aligned", cfg.HeapStart)
	}
	if cfg.HeapSize%PageSize != 0 {
		return nil, fmt.Errorf("vminit: heap size %#x is not a multiple of page size", cfg.HeapSize)
	}

	for page := cfg.HeapStart; page < cfg.HeapStart+cfg.HeapSize; page += PageSize {
		frame, ok := frames.AllocateFrame()
		if !ok {
			return nil, ErrNoFrame
		}
		if err := mapper.MapPage(page, frame); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMapPage, err)
		}
	}

	var heap allocator.ByteAllocator
	switch cfg.Allocator {
	case AllocatorList:
		heap = listheap.New()
	default:
		order := cfg.Order
		if order == 0 {
			order = byteheap.DefaultOrder
		}
		heap = byteheap.New(order)
	}

	heap.AddRegion(cfg.HeapStart, cfg.HeapStart+cfg.HeapSize)
	return heap, nil
}
