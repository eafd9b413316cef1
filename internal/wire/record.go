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

package wire

import "encoding/binary"

// RecordSize is the exact on-disk footprint of one Record: PipeSize bytes
// of pipe, 4 bytes of block size, 8 bytes of insertion time. Host-endian,
// no padding. Changing this layout makes the binary incompatible with
// snapshot files already on disk; that is a deliberate trade documented
// alongside the snapshot package.
const RecordSize = PipeSize + 4 + 8

// Record is one stored fuzzy hash plus the unix time it was inserted at.
// Time is used only for TTL expiry during a snapshot rewrite.
type Record struct {
	Hash FuzzyHash
	Time uint64
}

// EncodeRecord writes r into buf, which must be at least RecordSize bytes.
func EncodeRecord(r Record, buf []byte) {
	copy(buf[0:PipeSize], r.Hash.Pipe[:])
	binary.NativeEndian.PutUint32(buf[PipeSize:PipeSize+4], r.Hash.BlockSize)
	binary.NativeEndian.PutUint64(buf[PipeSize+4:RecordSize], r.Time)
}

// DecodeRecord parses a RecordSize-byte buffer produced by EncodeRecord.
func DecodeRecord(buf []byte) Record {
	var r Record
	copy(r.Hash.Pipe[:], buf[0:PipeSize])
	r.Hash.BlockSize = binary.NativeEndian.Uint32(buf[PipeSize : PipeSize+4])
	r.Time = binary.NativeEndian.Uint64(buf[PipeSize+4 : RecordSize])
	return r
}
