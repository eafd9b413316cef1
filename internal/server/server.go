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

package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sabouaram/fuzzystored/internal/index"
	"github.com/sabouaram/fuzzystored/internal/metrics"
)

// acceptErrorCapacity bounds how many accept errors Server retains for an
// operator to inspect; past this the oldest is evicted, so a burst of
// accept failures can never grow the pool without limit.
const acceptErrorCapacity = 32

// Config names the acceptor's tunables: which socket family and address to
// bind, and how long a session may wait on any single read of its frame.
type Config struct {
	Network     string
	Listen      string
	IdleTimeout time.Duration
	// ReusePort sets SO_REUSEPORT on a tcp listener so several peer
	// worker processes can bind the same address and let the kernel
	// distribute accepted connections across them.
	ReusePort bool
}

// Server accepts connections on one listener and serves exactly one
// command per connection on its own goroutine, against a shared Index.
type Server struct {
	cfg Config
	idx *index.Index
	log *logrus.Logger
	met *metrics.Registry

	mu       sync.Mutex
	listener net.Listener
	running  bool
	open     atomic.Int64

	errMu sync.Mutex
	errs  []error
}

// New builds a Server bound to idx. It does not listen until Serve is called.
func New(cfg Config, idx *index.Index, log *logrus.Logger) *Server {
	return &Server{cfg: cfg, idx: idx, log: log}
}

// AcceptErrors returns every accept error observed since Serve started, up
// to acceptErrorCapacity, oldest first, for an operator to inspect without
// having to scrape logs.
func (s *Server) AcceptErrors() []error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	out := make([]error, len(s.errs))
	copy(out, s.errs)
	return out
}

// recordAcceptError appends err to the bounded history, dropping the
// oldest entry once acceptErrorCapacity is reached.
func (s *Server) recordAcceptError(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if len(s.errs) >= acceptErrorCapacity {
		s.errs = append(s.errs[1:], err)
		return
	}
	s.errs = append(s.errs, err)
}

// WithMetrics attaches a metrics.Registry that Serve's sessions report
// into. Optional: a Server with no registry attached simply skips
// reporting. Must be called before Serve.
func (s *Server) WithMetrics(m *metrics.Registry) *Server {
	s.met = m
	return s
}

// IsRunning reports whether the listener is currently accepting.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// OpenConnections reports the number of sessions currently being served.
func (s *Server) OpenConnections() int64 {
	return s.open.Load()
}

// Addr returns the bound listener's address, or nil before Serve has
// completed its bind. Useful for tests that listen on an ephemeral port.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve binds the listener and accepts connections until ctx is cancelled
// or the listener is closed; any other accept error is logged, recorded
// and the loop goes on. Each accepted connection is served on its own
// goroutine and does not block the accept loop.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := listen(s.cfg)
	if err != nil {
		return ErrorListen.Error(err)
	}

	s.mu.Lock()
	s.listener = ln
	s.running = true
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, aerr := ln.Accept()
		if aerr != nil {
			// A closed listener means Close or context cancellation already
			// tore the socket down: Accept will never succeed again, so
			// returning immediately avoids a CPU-pinning retry loop for the
			// rest of a reload's drain window (the listener closes well
			// before ctx is cancelled on that path, see daemon.Run).
			if errors.Is(aerr, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			wrapped := ErrorAccept.Error(aerr)
			s.log.WithError(wrapped).Warn("accept failed")
			s.recordAcceptError(wrapped)
			continue
		}

		wg.Add(1)
		s.open.Add(1)
		if s.met != nil {
			s.met.OpenConnections.Inc()
		}
		go func() {
			defer wg.Done()
			defer s.open.Add(-1)
			defer func() {
				if s.met != nil {
					s.met.OpenConnections.Dec()
				}
			}()

			sess := newSession(conn, s.idx, s.cfg.IdleTimeout, s.log.WithField("remote", conn.RemoteAddr()), s.met)
			sess.Serve()
		}()
	}
}

// Close stops the listener, causing Serve to return once in-flight
// sessions have drained.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}
