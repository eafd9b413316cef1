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

// Package server drives one fuzzy-hash command per TCP or Unix connection:
// read a fixed-size frame to completion, dispatch it against the index,
// write a textual reply, close. Each connection runs on its own goroutine;
// the index itself serializes concurrent access.
package server

import (
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sabouaram/fuzzystored/internal/index"
	"github.com/sabouaram/fuzzystored/internal/metrics"
	"github.com/sabouaram/fuzzystored/internal/wire"
)

// State is the per-connection state machine named by the protocol design:
// Reading while a frame is still incomplete, Complete once a full frame
// has been read (it is then dispatched and replied to), Closed once the
// socket is gone.
type State uint8

const (
	StateReading State = iota
	StateComplete
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateReading:
		return "Reading"
	case StateComplete:
		return "Complete"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Session is the per-connection read buffer and state. One command per
// connection: after Complete, the connection is always closed.
type Session struct {
	conn    net.Conn
	idx     *index.Index
	timeout time.Duration
	log     *logrus.Entry
	met     *metrics.Registry

	state   State
	buf     [wire.FrameSize]byte
	readPos int
}

func newSession(conn net.Conn, idx *index.Index, timeout time.Duration, log *logrus.Entry, met *metrics.Registry) *Session {
	return &Session{
		conn:    conn,
		idx:     idx,
		timeout: timeout,
		log:     log,
		met:     met,
		state:   StateReading,
	}
}

// Serve drives the session to completion: read the frame (applying the
// configured I/O timeout on every read), dispatch, reply, close. It never
// returns an error; every failure path ends the session and is logged.
func (s *Session) Serve() {
	defer func() {
		s.state = StateClosed
		_ = s.conn.Close()
	}()

	for s.readPos < wire.FrameSize {
		if s.timeout > 0 {
			if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
				s.log.WithError(err).Debug("failed to set read deadline")
				return
			}
		}

		n, err := s.conn.Read(s.buf[s.readPos:])
		s.readPos += n

		if err != nil {
			s.log.WithError(err).Debug("session closed before a full frame was read")
			return
		}
	}

	s.state = StateComplete

	cmd, err := wire.Decode(s.buf[:])
	reply := wire.ReplyOK
	if err != nil {
		s.log.WithError(err).Debug("unrecognised command frame")
		reply = wire.ReplyERR
	} else {
		reply = s.dispatch(cmd)
	}

	if _, werr := reply.WriteTo(s.conn); werr != nil {
		s.log.WithError(werr).Debug("failed to write reply")
	}
}

func (s *Session) dispatch(cmd wire.FuzzyCommand) wire.Reply {
	var ok bool

	switch cmd.Cmd {
	case wire.CmdCheck:
		ok = s.idx.Check(cmd.Hash)
	case wire.CmdWrite:
		ok = s.idx.Write(cmd.Hash, time.Now())
	case wire.CmdDelete:
		ok = s.idx.Delete(cmd.Hash)
	default:
		ok = false
	}

	s.log.WithFields(logrus.Fields{
		"cmd":  cmd.Cmd.String(),
		"ok":   ok,
		"size": cmd.Hash.BlockSize,
	}).Debug("command dispatched")

	if s.met != nil {
		result := "err"
		if ok {
			result = "ok"
		}
		s.met.Commands.WithLabelValues(cmd.Cmd.String(), result).Inc()
	}

	if ok {
		return wire.ReplyOK
	}
	return wire.ReplyERR
}
