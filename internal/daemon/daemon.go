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

// Package daemon wires config, index, snapshot and server together into
// one worker's lifecycle: start, periodic snapshot consideration, and
// signal-driven reload or forced-flush shutdown. It reproduces, on top
// of goroutines and channels rather than a single-threaded reactor, the
// one worker process the source runs per listening socket.
package daemon

import (
	"context"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/sabouaram/fuzzystored/internal/config"
	"github.com/sabouaram/fuzzystored/internal/index"
	"github.com/sabouaram/fuzzystored/internal/metrics"
	"github.com/sabouaram/fuzzystored/internal/server"
	"github.com/sabouaram/fuzzystored/internal/snapshot"
)

// Worker owns one Index, one Bloom filter and one listening socket, the
// way the source dedicates one of these to each peer worker process.
type Worker struct {
	cfg config.Config
	log *logrus.Logger

	idx *index.Index
	srv *server.Server
	met *metrics.Registry

	// Ready, if non-nil, is closed once the listening socket is bound.
	// Tests use it instead of polling.
	Ready chan struct{}

	reopen atomic.Bool
}

// New builds a Worker from cfg. It does nothing observable until Run is
// called.
func New(cfg config.Config, log *logrus.Logger) *Worker {
	return &Worker{cfg: cfg, log: log}
}

// ReopenRequested reports whether a reload signal asked the logging
// collaborator to reopen its output, the shared flag the source's
// reload handler sets for the logger to poll.
func (w *Worker) ReopenRequested() bool {
	return w.reopen.Load()
}

// Run executes the worker's full lifecycle: allocate the index, load any
// snapshot, bind the listener, then serve until ctx is cancelled or a
// terminating signal arrives. It follows the source's initialisation
// order exactly: buckets and Bloom filter, snapshot load, sync timer
// armed, listener bound, then ready.
func (w *Worker) Run(ctx context.Context) error {
	signal.Ignore(syscall.SIGINT)

	w.idx = index.New(w.cfg.BloomBits, w.cfg.BloomHashes)

	if w.cfg.HashFile != "" {
		if err := snapshot.Load(w.cfg.HashFile, w.idx, w.log); err != nil {
			w.log.WithError(err).Warn("snapshot load failed, starting from an empty index")
		}
	}

	if w.cfg.HashFilePerm != 0 {
		snapshot.DefaultPerm = w.cfg.HashFilePerm
	}

	syncTimer := time.NewTimer(nextSyncInterval(time.Duration(w.cfg.SyncTimeout)))
	defer syncTimer.Stop()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGUSR2)
	defer signal.Stop(sigCh)

	srvCtx, srvCancel := context.WithCancel(ctx)
	defer srvCancel()

	reg := prometheus.NewRegistry()
	w.met = metrics.New(reg)

	w.srv = server.New(server.Config{
		Network:     w.cfg.Network,
		Listen:      w.cfg.Listen,
		IdleTimeout: time.Duration(w.cfg.IOTimeout),
		ReusePort:   w.cfg.ReusePort,
	}, w.idx, w.log).WithMetrics(w.met)

	serveDone := make(chan error, 1)
	go func() { serveDone <- w.srv.Serve(srvCtx) }()

	if w.cfg.MetricsListen != "" {
		w.serveMetrics(srvCtx, reg)
	}

	if err := waitForBind(w.srv, 5*time.Second); err != nil {
		srvCancel()
		<-serveDone
		return ErrorBind.Error(err)
	}

	if w.Ready != nil {
		close(w.Ready)
	}
	w.log.WithField("listen", w.cfg.Listen).Info("worker ready")

	var reloadTimer *time.Timer
	var reloadC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			srvCancel()
			<-serveDone
			return nil

		case sig := <-sigCh:
			switch sig {
			case syscall.SIGTERM:
				w.flush(time.Now())
				srvCancel()
				<-serveDone
				return nil

			case syscall.SIGUSR2:
				w.reopen.Store(true)
				_ = w.srv.Close()
				if reloadTimer == nil {
					reloadTimer = time.NewTimer(time.Duration(w.cfg.SoftShutdownTimeout))
					reloadC = reloadTimer.C
					w.log.WithField("drain", w.cfg.SoftShutdownTimeout.String()).
						Info("reload requested, draining in-flight sessions")
				}
			}

		case <-syncTimer.C:
			w.considerSnapshot(time.Now())
			syncTimer.Reset(nextSyncInterval(time.Duration(w.cfg.SyncTimeout)))

		case <-reloadC:
			srvCancel()
			<-serveDone
			return nil
		}
	}
}

// considerSnapshot runs a rewrite when the modification counter has
// reached ModLimit, the same threshold the sync timer checks in the
// source before bothering with disk I/O.
func (w *Worker) considerSnapshot(now time.Time) {
	if w.cfg.HashFile == "" {
		return
	}
	if w.idx.Mods() < w.cfg.ModLimit {
		return
	}
	if err := snapshot.Rewrite(w.cfg.HashFile, w.idx, time.Duration(w.cfg.Expire), now, w.log); err != nil {
		w.log.WithError(err).Warn("periodic snapshot rewrite failed")
		return
	}
	w.met.SnapshotRewrites.Inc()
}

// flush forces an unconditional snapshot, the SIGTERM path: push mods
// past the limit, then call snapshot.Rewrite directly, without
// considerSnapshot's threshold check and regardless of how long ago the
// last rewrite was.
func (w *Worker) flush(now time.Time) {
	if w.cfg.HashFile == "" {
		return
	}
	w.idx.ForceDueForRewrite(w.cfg.ModLimit)
	if err := snapshot.Rewrite(w.cfg.HashFile, w.idx, time.Duration(w.cfg.Expire), now, w.log); err != nil {
		w.log.WithError(err).Error("forced snapshot flush failed")
		return
	}
	w.met.SnapshotRewrites.Inc()
}

// serveMetrics starts a /metrics endpoint on cfg.MetricsListen and tears
// it down when ctx is cancelled. A bind failure is logged, not fatal: a
// worker with no metrics is still a worker that serves fuzzy-hash
// traffic.
func (w *Worker) serveMetrics(ctx context.Context, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: w.cfg.MetricsListen, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			w.log.WithError(err).Warn("metrics listener failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// nextSyncInterval reproduces the source's SYNC_TIMEOUT + SYNC_TIMEOUT*U[0,1)
// jitter: the base interval plus up to one more base interval's worth of
// randomness.
func nextSyncInterval(base time.Duration) time.Duration {
	if base <= 0 {
		return time.Minute
	}
	return base + time.Duration(rand.Int63n(int64(base)))
}

// waitForBind polls Server.IsRunning until the listener is bound or timeout
// elapses, since Serve binds from its own goroutine.
func waitForBind(srv *server.Server, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if srv.IsRunning() {
			return nil
		}
		if time.Now().After(deadline) {
			return context.DeadlineExceeded
		}
		time.Sleep(2 * time.Millisecond)
	}
}
