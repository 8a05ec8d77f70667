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

// Package bitutil holds the bit-twiddling primitives shared by the buddy
// byte-heap and the buddy frame allocator: order/size-class arithmetic and
// alignment helpers. Kept separate so both allocators use identical rounding
// rules (a mismatch here would silently break the XOR-buddy invariant).
package bitutil

import "math/bits"

// IsPowerOfTwo reports whether v is a power of two. Zero is not.
func IsPowerOfTwo(v uint64) bool {
	return v != 0 && v&(v-1) == 0
}

// NextPowerOfTwo rounds v up to the next power of two. NextPowerOfTwo(0) == 1.
func NextPowerOfTwo(v uint64) uint64 {
	if v <= 1 {
		return 1
	}
	return uint64(1) << uint(bits.Len64(v-1))
}

// Log2Floor returns floor(log2(v)) for v > 0. Log2Floor(0) is undefined (-1).
func Log2Floor(v uint64) int {
	if v == 0 {
		return -1
	}
	return bits.Len64(v) - 1
}

// Log2Ceil returns ceil(log2(v)) for v > 0.
func Log2Ceil(v uint64) int {
	if v <= 1 {
		return 0
	}
	return bits.Len64(v - 1)
}

// TrailingZeros64 returns the number of trailing zero bits in v, or 64 if v == 0.
func TrailingZeros64(v uint64) int {
	return bits.TrailingZeros64(v)
}

// AlignUp rounds addr up to the nearest multiple of align (align must be a
// power of two).
func AlignUp(addr, align uint64) uint64 {
	return (addr + align - 1) &^ (align - 1)
}

// AlignDown rounds addr down to the nearest multiple of align (align must be
// a power of two).
func AlignDown(addr, align uint64) uint64 {
	return addr &^ (align - 1)
}
