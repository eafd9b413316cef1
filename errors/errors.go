/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
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

// Package errors gives every package boundary in this store a small numeric
// error classification, similar in spirit to an HTTP status code, so a
// caller can tell error kinds apart without string-matching messages. It is
// a narrowed-down version of that idea: one flat code, one message, one
// optional wrapped cause. No hierarchy, trace capture, or error pool — this
// single daemon never needed those.
package errors

import (
	"fmt"
	"sort"
)

// CodeError is a numeric error classification. Each package that wraps
// sentinel errors reserves a range of these in modules.go.
type CodeError uint16

// UnknownError is the fallback code for an error with no registered range.
const UnknownError CodeError = 0

// unknownMessage is returned for a code with no registered Message func, or
// whose func returns "".
const unknownMessage = "unknown error"

// Message builds the human-readable text for a CodeError.
type Message func(code CodeError) string

var registry = make(map[CodeError]Message)

// RegisterIdFctMessage registers fct as the message source for every code
// from minCode up to (but not including) the next registered range. A
// package typically calls this once in an init() with the first constant of
// its own iota block, and fct switches on the exact codes it owns.
func RegisterIdFctMessage(minCode CodeError, fct Message) {
	registry[minCode] = fct
}

// ExistInMapMessage reports whether code resolves to a registered message
// func that returns a non-empty string for it.
func ExistInMapMessage(code CodeError) bool {
	fct, ok := registry[floorCode(code)]
	if !ok {
		return false
	}
	return fct(code) != ""
}

// floorCode returns the largest registered range key that is <= code, the
// range code falls into.
func floorCode(code CodeError) CodeError {
	var floor CodeError
	keys := make([]CodeError, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		if k <= code {
			floor = k
		}
	}
	return floor
}

// message resolves the text registered for code, falling back to
// unknownMessage.
func (c CodeError) message() string {
	if c == UnknownError {
		return unknownMessage
	}
	if fct, ok := registry[floorCode(c)]; ok {
		if m := fct(c); m != "" {
			return m
		}
	}
	return unknownMessage
}

// Uint16 returns the CodeError as a uint16.
func (c CodeError) Uint16() uint16 {
	return uint16(c)
}

// codedError pairs a CodeError with its registered message and an optional
// wrapped cause, and implements the standard error interface plus Unwrap so
// errors.Is/As still see through it to the cause.
type codedError struct {
	code  CodeError
	msg   string
	cause error
}

func (e *codedError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%d] %s: %s", e.code, e.msg, e.cause)
	}
	return fmt.Sprintf("[%d] %s", e.code, e.msg)
}

func (e *codedError) Unwrap() error {
	return e.cause
}

// Code returns the CodeError carried by err, if err (or something it wraps)
// is one produced by CodeError.Error or IfError.
func Code(err error) (CodeError, bool) {
	var ce *codedError
	for err != nil {
		if c, ok := err.(*codedError); ok {
			ce = c
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if ce == nil {
		return UnknownError, false
	}
	return ce.code, true
}

// Error builds an error carrying c's registered message, wrapping cause if
// given (nil cause is allowed, for init-time or validation errors with no
// underlying cause).
func (c CodeError) Error(cause error) error {
	return &codedError{code: c, msg: c.message(), cause: cause}
}

// IfError returns an error built from code/message wrapping cause, or nil if
// cause is nil — for call sites that only want to produce an error when one
// of their own steps actually failed.
func IfError(code uint16, message string, cause error) error {
	if cause == nil {
		return nil
	}
	return &codedError{code: CodeError(code), msg: message, cause: cause}
}
