/*
 * MIT License
 *
 * Copyright (c) 2022 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package bloomfilter implements a fixed-size Bloom filter used as a
// constant-time "definitely absent" oracle in front of the bucketed index.
// It never rebuilds itself online: del() clears the bits a prior add() set,
// which can create false negatives for other entries aliased onto the same
// bits. That imprecision is an accepted trade, not a bug.
package bloomfilter

import (
	"hash/fnv"

	"github.com/bits-and-blooms/bitset"
)

// DefaultBits is the minimum bit-array size required by the spec (≥2·10^7).
const DefaultBits = 20_000_000

// DefaultHashes is the number of double-hashed probe functions (≥ this floor
// keeps the false-positive rate under ~1% at 10^6 stored entries).
const DefaultHashes = 8

// Filter is a fixed-size, non-counting Bloom filter over byte-slice keys.
type Filter struct {
	bits *bitset.BitSet
	m    uint
	k    uint
}

// New builds a Filter with m bits and k hash probes. Both are floored to
// the package defaults so a misconfigured caller cannot build a filter too
// small or too weak to be useful.
func New(m, k uint) *Filter {
	if m < DefaultBits {
		m = DefaultBits
	}
	if k < DefaultHashes {
		k = DefaultHashes
	}
	return &Filter{
		bits: bitset.New(m),
		m:    m,
		k:    k,
	}
}

// baseHashes returns the two independent hashes double-hashing derives the
// k probe locations from: h_i = h1 + i*h2 (mod m).
func baseHashes(key []byte) (uint64, uint64) {
	h1 := fnv.New64a()
	_, _ = h1.Write(key)
	h2 := fnv.New64()
	_, _ = h2.Write(key)
	return h1.Sum64(), h2.Sum64()
}

func (f *Filter) locations(key []byte) []uint {
	h1, h2 := baseHashes(key)
	locs := make([]uint, f.k)
	for i := uint(0); i < f.k; i++ {
		locs[i] = uint((h1 + uint64(i)*h2) % uint64(f.m))
	}
	return locs
}

// Add sets the k bits derived from key's two base hashes.
func (f *Filter) Add(key []byte) {
	for _, l := range f.locations(key) {
		f.bits.Set(l)
	}
}

// Del clears the k bits derived from key's two base hashes. Because the
// filter is non-counting, this may also clear bits shared with other keys,
// producing a false negative for them on the next MaybeContains call.
func (f *Filter) Del(key []byte) {
	for _, l := range f.locations(key) {
		f.bits.Clear(l)
	}
}

// MaybeContains reports whether key might be present. false means key is
// definitely absent; true means it is possibly present.
func (f *Filter) MaybeContains(key []byte) bool {
	for _, l := range f.locations(key) {
		if !f.bits.Test(l) {
			return false
		}
	}
	return true
}

// Reset clears every bit, as if the filter had just been constructed.
func (f *Filter) Reset() {
	f.bits.ClearAll()
}
