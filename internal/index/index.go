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

// Package index holds a worker's bucketed collection of stored
// fuzzy hashes, guarded by a Bloom filter in front of it. It is the
// in-memory half of the store; internal/snapshot drives it from disk.
package index

import (
	"container/list"
	"sync"
	"time"

	"github.com/sabouaram/fuzzystored/internal/bloomfilter"
	"github.com/sabouaram/fuzzystored/internal/similarity"
	"github.com/sabouaram/fuzzystored/internal/wire"
)

// NumBuckets is the fixed bucket count records are partitioned into by
// blockSize mod NumBuckets. Not a tuning knob; the snapshot file does not
// record it, since LoadRecord re-derives each record's bucket.
const NumBuckets = 1024

// Index is the fixed array of NumBuckets insertion-ordered record lists,
// with the Bloom filter and modification counter that guard it. The zero
// value is not usable; build one with New.
type Index struct {
	mu      sync.Mutex
	buckets [NumBuckets]*list.List
	bloom   *bloomfilter.Filter
	mods    uint64
}

// New allocates an empty Index backed by a freshly-constructed Bloom
// filter sized (m, k).
func New(bloomBits, bloomHashes uint) *Index {
	idx := &Index{
		bloom: bloomfilter.New(bloomBits, bloomHashes),
	}
	for i := range idx.buckets {
		idx.buckets[i] = list.New()
	}
	return idx
}

func bucketOf(blockSize uint32) uint32 {
	return blockSize % NumBuckets
}

// Check reports whether a record within the similarity threshold of h is
// stored already. It never mutates the index.
func (idx *Index) Check(h wire.FuzzyHash) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if !idx.bloom.MaybeContains(h.Pipe[:]) {
		return false
	}

	b := idx.buckets[bucketOf(h.BlockSize)]
	for e := b.Front(); e != nil; e = e.Next() {
		r := e.Value.(wire.Record)
		if similarity.Score(r.Hash, h) > similarity.Limit {
			return true
		}
	}
	return false
}

// Write inserts h at the head of its bucket unless the Bloom filter
// already claims the pipe present, in which case the write is rejected.
// now is injected by the caller so tests can control record age.
func (idx *Index) Write(h wire.FuzzyHash, now time.Time) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.bloom.MaybeContains(h.Pipe[:]) {
		return false
	}

	b := idx.buckets[bucketOf(h.BlockSize)]
	b.PushFront(wire.Record{Hash: h, Time: uint64(now.Unix())})
	idx.bloom.Add(h.Pipe[:])
	idx.mods++
	return true
}

// Delete removes every record within the similarity threshold of h from
// its bucket, clearing the Bloom bits for each. Reports whether at least
// one record was removed.
func (idx *Index) Delete(h wire.FuzzyHash) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if !idx.bloom.MaybeContains(h.Pipe[:]) {
		return false
	}

	b := idx.buckets[bucketOf(h.BlockSize)]
	removed := false

	for e := b.Front(); e != nil; {
		next := e.Next()
		r := e.Value.(wire.Record)
		if similarity.Score(r.Hash, h) > similarity.Limit {
			idx.bloom.Del(r.Hash.Pipe[:])
			b.Remove(e)
			removed = true
		}
		e = next
	}

	if removed {
		idx.mods++
	}
	return removed
}

// LoadRecord inserts r as already-resident, without the Bloom write-guard
// and without incrementing mods. Used only while replaying a snapshot at
// startup, where duplicate suppression was already applied at write time.
func (idx *Index) LoadRecord(r wire.Record) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	b := idx.buckets[bucketOf(r.Hash.BlockSize)]
	b.PushFront(r)
	idx.bloom.Add(r.Hash.Pipe[:])
}

// Mods returns the current modification counter.
func (idx *Index) Mods() uint64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.mods
}

// ForceDueForRewrite pushes the modification counter past any rewrite
// threshold, the in-memory equivalent of the source's "mods = MOD_LIMIT + 1"
// on a forced shutdown flush.
func (idx *Index) ForceDueForRewrite(limit uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.mods <= limit {
		idx.mods = limit + 1
	}
}

// Rewrite walks every bucket once under lock, invoking keep for each
// record. keep returns false to evict a record (its Bloom bits are
// cleared and it is removed from the bucket) or true to keep it stored
// and have it passed to write for serialization. Returns the number of
// records evicted. write is called while the index lock is held, so it
// must not call back into the Index. Rewrite does not touch the mods
// counter itself: the caller resets it with CommitRewrite only once the
// serialized data has actually reached durable storage, so a disk failure
// after a successful walk still leaves mods intact for the next retry.
func (idx *Index) Rewrite(keep func(wire.Record) bool, write func(wire.Record) error) (evicted int, err error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, b := range idx.buckets {
		for e := b.Front(); e != nil; {
			next := e.Next()
			r := e.Value.(wire.Record)

			if !keep(r) {
				idx.bloom.Del(r.Hash.Pipe[:])
				b.Remove(e)
				evicted++
			} else if err == nil {
				err = write(r)
			}

			e = next
		}
	}

	return evicted, err
}

// CommitRewrite resets the modification counter after a snapshot has been
// durably written. Callers must only invoke this once the bytes produced
// by Rewrite's write callback are confirmed on disk.
func (idx *Index) CommitRewrite() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.mods = 0
}
