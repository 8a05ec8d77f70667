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

// Package freelist is the intrusive singly-linked free-list primitive: a
// chain of addresses stored inside the free memory itself, with zero
// auxiliary allocation. Every list node is just a pointer-sized word written
// at the tracked address; List.head is the only bookkeeping outside the
// tracked memory.
//
// This is deliberately unlike the teacher's own free lists in
// unsafex/malloc/buddy.go, which are plain `[]int` slices of offsets — fine
// for a userspace allocator backed by a Go slice, but not the zero-overhead
// intrusive list a kernel allocator needs when the free-lists themselves
// must live inside the memory they track. The link-writing technique here
// (reading/writing a pointer-sized word at an arbitrary address via
// unsafe.Pointer) is grounded on the Fuchsia inspect heap's
// Block.Free(order, next) / Block.GetNextFree(), which stores free-list
// links the same way.
package freelist

import "unsafe"

// List is an ordered chain of addresses, each written into the memory it
// tracks. The zero value is an empty list.
type List struct {
	head uintptr
}

// Empty reports whether the list has no nodes.
func (l *List) Empty() bool {
	return l.head == 0
}

// Push prepends addr to the list in O(1): it writes the current head at
// addr, then makes addr the new head. addr must be writable and hold at
// least one pointer-sized word; the caller guarantees addr is not already
// in the list.
func (l *List) Push(addr uintptr) {
	*(*uintptr)(unsafe.Pointer(addr)) = l.head
	l.head = addr
}

// Pop removes and returns the head address in O(1), or returns (0, false)
// if the list is empty.
func (l *List) Pop() (uintptr, bool) {
	if l.head == 0 {
		return 0, false
	}
	addr := l.head
	l.head = *(*uintptr)(unsafe.Pointer(addr))
	return addr, true
}

// Remove walks the chain in O(n) and unlinks the node at addr, returning
// whether it was found.
func (l *List) Remove(addr uintptr) bool {
	if l.head == 0 {
		return false
	}
	if l.head == addr {
		l.head = *(*uintptr)(unsafe.Pointer(addr))
		return true
	}
	prev := l.head
	for {
		next := *(*uintptr)(unsafe.Pointer(prev))
		if next == 0 {
			return false
		}
		if next == addr {
			*(*uintptr)(unsafe.Pointer(prev)) = *(*uintptr)(unsafe.Pointer(addr))
			return true
		}
		prev = next
	}
}

// Contains reports whether addr is currently on the list. byteheap.Heap's
// Dealloc uses it, gated behind allocator.Debug, to detect a double free:
// if the address being returned is already sitting in the free list for
// its order, it was never really allocated out in the first place.
func (l *List) Contains(addr uintptr) bool {
	found := false
	l.Iter(func(a uintptr) bool {
		if a == addr {
			found = true
			return false
		}
		return true
	})
	return found
}

// Iter performs a non-destructive traversal, calling f with each address in
// push order (most-recently-pushed first) until f returns false or the list
// is exhausted.
func (l *List) Iter(f func(addr uintptr) bool) {
	for cur := l.head; cur != 0; cur = *(*uintptr)(unsafe.Pointer(cur)) {
		if !f(cur) {
			return
		}
	}
}
