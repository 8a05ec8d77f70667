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

// Package frame is the buddy-system frame allocator: it serves allocations
// of counted fixed-size page frames identified by integer index, using the
// same split/coalesce algorithm as byteheap but keyed by frame index instead
// of byte address, and backed by ordered sets (orderedSet) instead of
// intrusive free-lists, since a frame index isn't storage the way a byte
// address is (spec §9's "Intrusive free-list versus external set").
package frame

import (
	"errors"

	"github.com/gokernel/memalloc/allocator"
	"github.com/gokernel/memalloc/internal/bitutil"
)

// DefaultOrder mirrors byteheap.DefaultOrder.
const DefaultOrder = 32

// ErrInvalidCount is returned for a zero frame count, or for a count whose
// power-of-two rounding is larger than the largest order's run.
var ErrInvalidCount = errors.New("frame: count must be nonzero")

// Allocator is the buddy frame allocator. The zero value is not usable;
// construct with New. Not internally synchronized, and lock.Locked, which
// wraps only allocator.ByteAllocator implementations, does not wrap it.
type Allocator struct {
	order int
	sets  []orderedSet

	// regions records each admitted [start, end) extent so AddFrames can
	// debug-assert against overlap; only appended to while allocator.Debug
	// is set.
	regions [][2]uint64

	allocated uint64
	total     uint64
}

// New creates an empty frame allocator with order size classes. order <= 0
// selects DefaultOrder. backing is where the ordered sets' bookkeeping
// storage comes from (spec: "uses the host's general heap ... to store its
// metadata") — pass nil to fall back to allocator.MCacheBacking, the
// bootstrap backing store used before any byteheap.Heap exists yet. A
// byteheap.Heap passed as backing must already have been fed a region.
func New(order int, backing allocator.BackingAllocator) *Allocator {
	if order <= 0 {
		order = DefaultOrder
	}
	if backing == nil {
		backing = allocator.MCacheBacking{}
	}
	a := &Allocator{order: order, sets: make([]orderedSet, order)}
	for i := range a.sets {
		a.sets[i] = *newOrderedSet(backing)
	}
	return a
}

// AddFrames feeds [start, end) frame indices to the allocator, decomposing
// the range into the largest self-aligned power-of-two runs that fit — the
// frame-index analogue of byteheap.Heap.AddRegion (spec §4.3's add_frame).
// With allocator.Debug set, AddFrames panics if the new range overlaps any
// previously admitted one (spec §7: RegionOverlap).
func (a *Allocator) AddFrames(start, end uint64) {
	if allocator.Debug {
		for _, r := range a.regions {
			if start < r[1] && r[0] < end {
				panic("frame: AddFrames overlaps a previously admitted range")
			}
		}
		a.regions = append(a.regions, [2]uint64{start, end})
	}

	var admitted uint64
	maxOrder := uint(a.order - 1)
	for start < end {
		var trailing uint
		if start == 0 {
			trailing = maxOrder
		} else {
			trailing = uint(bitutil.TrailingZeros64(start))
		}
		sizeOrder := uint(bitutil.Log2Floor(end - start))
		k := trailing
		if sizeOrder < k {
			k = sizeOrder
		}
		if k > maxOrder {
			k = maxOrder
		}

		a.sets[k].Insert(start)
		run := uint64(1) << k
		start += run
		admitted += run
	}
	a.total += admitted
}

// Insert is an alias for AddFrames matching the spec's alternate naming
// (insert(range)) for the same operation.
func (a *Allocator) Insert(start, end uint64) {
	a.AddFrames(start, end)
}

func (a *Allocator) required(count uint64) (uint64, int, error) {
	if count == 0 {
		return 0, 0, ErrInvalidCount
	}
	required := bitutil.NextPowerOfTwo(count)
	k0 := bitutil.Log2Floor(required)
	if k0 < 0 || k0 >= a.order {
		return 0, 0, ErrInvalidCount
	}
	return required, k0, nil
}

// Alloc rounds count up to the next power of two and returns the starting
// frame index of a run of that many frames, or allocator.ErrOutOfMemory.
func (a *Allocator) Alloc(count uint64) (uint64, error) {
	required, k0, err := a.required(count)
	if err != nil {
		return 0, err
	}

	j := -1
	for k := k0; k < a.order; k++ {
		if !a.sets[k].Empty() {
			j = k
			break
		}
	}
	if j == -1 {
		return 0, allocator.ErrOutOfMemory
	}

	idx, _ := a.sets[j].PopFirst()
	for j > k0 {
		half := uint64(1) << uint(j-1)
		a.sets[j-1].Insert(idx + half)
		a.sets[j-1].Insert(idx)
		j--
		idx, _ = a.sets[j].PopFirst()
	}

	a.allocated += required
	return idx, nil
}

// Dealloc returns count frames starting at start, coalescing with the buddy
// run as far as possible. With allocator.Debug set, Dealloc panics on a
// count that doesn't match start's actual order (SizeMismatch) or on a
// start already present in its order's set (DoubleFree).
func (a *Allocator) Dealloc(start, count uint64) {
	required, k0, err := a.required(count)
	if err != nil {
		if allocator.Debug {
			panic("frame: Dealloc with invalid count: " + err.Error())
		}
		return
	}

	if allocator.Debug {
		if start&((uint64(1)<<uint(k0))-1) != 0 {
			panic("frame: Dealloc size mismatch: start is not aligned to the order implied by count")
		}
		if a.sets[k0].Contains(start) {
			panic("frame: double free detected")
		}
	}

	b := start
	k := k0
	for k < a.order-1 {
		c := b ^ (uint64(1) << uint(k))
		if !a.sets[k].Remove(c) {
			break
		}
		if c < b {
			b = c
		}
		k++
	}
	a.sets[k].Insert(b)

	a.allocated -= required
}

// Stats reports the frame counters.
func (a *Allocator) Stats() allocator.FrameStats {
	return allocator.FrameStats{Allocated: a.allocated, Total: a.total}
}
