/***********************************************************************************************************************
 *
 *   MIT License
 *
 *   Copyright (c) 2022 Nicolas JUHEL
 *
 *   Permission is hereby granted, free of charge, to any person obtaining a copy
 *   of this software and associated documentation files (the "Software"), to deal
 *   in the Software without restriction, including without limitation the rights
 *   to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 *   copies of the Software, and to permit persons to whom the Software is
 *   furnished to do so, subject to the following conditions:
 *
 *   The above copyright notice and this permission notice shall be included in all
 *   copies or substantial portions of the Software.
 *
 *   THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 *   IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 *   FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 *   AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 *   LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 *   OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 *   SOFTWARE.
 *
 *
 **********************************************************************************************************************/

package perm

import (
	"fmt"
	"math"
	"os"
)

// FileMode converts to os.FileMode for use with os.OpenFile/os.Chmod.
func (p Perm) FileMode() os.FileMode {
	return os.FileMode(p.Uint32())
}

// String renders the canonical octal form, e.g. "0644".
func (p Perm) String() string {
	return fmt.Sprintf("%#o", p.Uint64())
}

// Int64 clamps to math.MaxInt64 on overflow.
func (p Perm) Int64() int64 {
	if uint64(p) > math.MaxInt64 {
		return math.MaxInt64
	}

	return int64(p)
}

// Int32 clamps to math.MaxInt32 on overflow.
func (p Perm) Int32() int32 {
	if i := uint64(p); i > uint64(math.MaxInt32) {
		return math.MaxInt32
	} else {
		return int32(i)
	}
}

// Int clamps to math.MaxInt on overflow.
func (p Perm) Int() int {
	if uint64(p) > math.MaxInt {
		return math.MaxInt
	}

	return int(p)
}

func (p Perm) Uint64() uint64 {
	return uint64(p)
}

// Uint32 clamps to math.MaxUint32 on overflow.
func (p Perm) Uint32() uint32 {
	if uint64(p) > math.MaxUint32 {
		return math.MaxUint32
	}

	return uint32(p)
}

// Uint clamps to math.MaxUint on overflow.
func (p Perm) Uint() uint {
	if uint64(p) > math.MaxUint {
		return math.MaxUint
	}

	return uint(p)
}
