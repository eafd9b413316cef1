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

// Package wire defines the fixed-width binary frame exchanged between a
// fuzzy-hash client and the store, and the on-disk record layout used by
// the snapshot file. Both are host-endian and carry no header or version
// marker; changing either breaks compatibility with files and clients
// already in the field.
package wire

import (
	"encoding/binary"
	"errors"
	"io"
)

// PipeSize is the fixed length, in bytes, of a fuzzy hash payload.
const PipeSize = 64

// Command identifies the operation carried by a FuzzyCommand frame.
type Command byte

const (
	// CmdCheck asks whether a close-enough hash has been stored already.
	CmdCheck Command = 0
	// CmdWrite inserts a new hash, guarded by the bloom filter.
	CmdWrite Command = 1
	// CmdDelete removes every stored hash matching within the similarity threshold.
	CmdDelete Command = 2
)

func (c Command) String() string {
	switch c {
	case CmdCheck:
		return "CHECK"
	case CmdWrite:
		return "WRITE"
	case CmdDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Pipe is the opaque payload portion of a fuzzy hash.
type Pipe [PipeSize]byte

// FuzzyHash is the (pipe, blockSize) pair clients compare against the index.
// blockSize buckets hashes that are directly comparable under the
// similarity primitive; only hashes sharing a block size ever score above 0.
type FuzzyHash struct {
	Pipe      Pipe
	BlockSize uint32
}

// FrameSize is the exact wire size of a FuzzyCommand frame: 1 cmd byte,
// 4 bytes of block size, PipeSize bytes of pipe. No padding, no length prefix.
const FrameSize = 1 + 4 + PipeSize

// ErrShortFrame is returned by Decode when fewer than FrameSize bytes are available.
var ErrShortFrame = errors.New("wire: short frame")

// ErrUnknownCommand is returned by Decode for a cmd byte outside {CHECK,WRITE,DELETE}.
var ErrUnknownCommand = errors.New("wire: unknown command")

// FuzzyCommand is one client request: an operation plus the hash it applies to.
type FuzzyCommand struct {
	Cmd  Command
	Hash FuzzyHash
}

// Decode parses a FrameSize-byte buffer into a FuzzyCommand. It never reads
// past buf[:FrameSize]; callers are expected to have already accumulated a
// full frame (see server.Session).
func Decode(buf []byte) (FuzzyCommand, error) {
	var fc FuzzyCommand

	if len(buf) < FrameSize {
		return fc, ErrShortFrame
	}

	switch Command(buf[0]) {
	case CmdCheck, CmdWrite, CmdDelete:
		fc.Cmd = Command(buf[0])
	default:
		return fc, ErrUnknownCommand
	}

	fc.Hash.BlockSize = binary.NativeEndian.Uint32(buf[1:5])
	copy(fc.Hash.Pipe[:], buf[5:5+PipeSize])

	return fc, nil
}

// Encode writes the frame into buf, which must be at least FrameSize bytes.
func (fc FuzzyCommand) Encode(buf []byte) {
	buf[0] = byte(fc.Cmd)
	binary.NativeEndian.PutUint32(buf[1:5], fc.Hash.BlockSize)
	copy(buf[5:5+PipeSize], fc.Hash.Pipe[:])
}

// Reply is the textual line the store writes back to the client.
type Reply []byte

var (
	ReplyOK  = Reply("OK\r\n")
	ReplyERR = Reply("ERR\r\n")
)

// WriteTo writes the reply to w, satisfying io.WriterTo for direct use
// against a net.Conn.
func (r Reply) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(r)
	return int64(n), err
}
