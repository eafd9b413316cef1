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

// Package similarity scores two fuzzy hashes on a 0-100 scale using an
// edit-distance metric over their pipes, the way ssdeep compares two
// spamsum signatures. It is symmetric, reflexive, and total.
package similarity

import "github.com/sabouaram/fuzzystored/internal/wire"

// windowSize is the minimum pipe length the distance formula trusts;
// shorter pipes always score 0, matching the ssdeep spamsum heuristic.
const windowSize = 7

// Limit is the decision threshold: a "match" is Score(a, b) > Limit.
const Limit = 99

// Score returns a 0-100 similarity between a and b. Hashes with a
// different block size never compare (score 0); neighbor-block matching
// is a documented limitation, not a bug (see the index package).
func Score(a, b wire.FuzzyHash) int {
	if a.BlockSize != b.BlockSize {
		return 0
	}
	if a.Pipe == b.Pipe {
		return 100
	}
	return score(a.Pipe[:], b.Pipe[:])
}

// score mirrors ssdeep's per-chunk comparison: shrink runs of more than
// three repeated bytes, then normalize a Levenshtein distance into a
// similarity percentage.
func score(s1, s2 []byte) int {
	var b1Buf, b2Buf [wire.PipeSize]byte
	b1 := shrink(s1, b1Buf[:0])
	b2 := shrink(s2, b2Buf[:0])

	n1, n2 := len(b1), len(b2)
	if n1 < windowSize || n2 < windowSize {
		return 0
	}

	dist := levenshtein(b1, b2)

	s := uint32(dist) * wire.PipeSize / uint32(n1+n2)
	s = s * 100 / wire.PipeSize
	sim := 100 - int(s)

	if n1 < 11 || n2 < 11 {
		limit := min(n1, n2) * 100 / 14
		if sim > limit {
			sim = limit
		}
	}

	if sim < 0 {
		return 0
	}
	return sim
}

// shrink compresses runs of more than three identical consecutive bytes
// down to three, the same pre-processing ssdeep applies before comparing
// two spamsum chunks.
func shrink(s []byte, buf []byte) []byte {
	for i, c := range s {
		if i < 3 || c != s[i-1] || c != s[i-2] || c != s[i-3] {
			buf = append(buf, c)
		}
	}
	return buf
}

// levenshtein computes the edit distance between two byte slices using a
// two-row dynamic-programming table.
func levenshtein(s1, s2 []byte) int {
	n1, n2 := len(s1), len(s2)
	if n1 == 0 {
		return n2
	}
	if n2 == 0 {
		return n1
	}

	row := make([]int, n2+1)
	for j := 0; j <= n2; j++ {
		row[j] = j
	}

	for i := 1; i <= n1; i++ {
		prev := i
		for j := 1; j <= n2; j++ {
			cost := 1
			if s1[i-1] == s2[j-1] {
				cost = 0
			}
			val := min(row[j]+1, prev+1, row[j-1]+cost)
			row[j-1] = prev
			prev = val
		}
		row[n2] = prev
	}

	return row[n2]
}
