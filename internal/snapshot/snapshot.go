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

// Package snapshot loads and rewrites the on-disk fuzzy-hash file: a
// headerless concatenation of fixed-width wire.Record images. The format
// carries no version marker, so the record layout must never change
// shape without breaking every file already written by a prior build.
package snapshot

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/natefinch/atomic"
	"github.com/sirupsen/logrus"

	"github.com/sabouaram/fuzzystored/file/perm"
	"github.com/sabouaram/fuzzystored/internal/index"
	"github.com/sabouaram/fuzzystored/internal/wire"
)

// DefaultPerm is the mode Rewrite gives a freshly written snapshot file:
// rw-r--r-- unless daemon.Worker.Run replaces it with Config.HashFilePerm.
var DefaultPerm = perm.ParseFileMode(0644)

// Load reads path and replays every full wire.Record into idx. A missing
// file is not an error: the store simply starts empty. A short trailing
// read is logged and discarded; records read before the short tail are
// kept.
func Load(path string, idx *index.Index, log *logrus.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.WithField("path", path).Info("no snapshot file found, starting empty")
			return nil
		}
		log.WithError(err).WithField("path", path).Warn("failed to open snapshot file")
		return nil
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, wire.RecordSize)
	count := 0

	for {
		n, rerr := io.ReadFull(f, buf)
		switch {
		case rerr == nil:
			idx.LoadRecord(wire.DecodeRecord(buf[:n]))
			count++
		case rerr == io.EOF:
			log.WithField("records", count).Info("snapshot load complete")
			return nil
		case rerr == io.ErrUnexpectedEOF:
			log.WithField("bytes", n).Warn("snapshot file ends with a partial record, discarding tail")
			return nil
		default:
			log.WithError(rerr).WithField("records", count).Warn("error reading snapshot, keeping records loaded so far")
			return nil
		}
	}
}

// Rewrite serializes every non-expired record in idx to path, evicting
// anything older than ttl along the way, and resets the modification
// counter on success. The write goes through a temp-file-then-rename via
// natefinch/atomic so a crash mid-rewrite cannot leave a half-written
// file in place of the previous snapshot; this is the write-to-temp
// upgrade the source explicitly allows (it does not add any framing).
func Rewrite(path string, idx *index.Index, ttl time.Duration, now time.Time, log *logrus.Logger) error {
	var buf bytes.Buffer
	recBuf := make([]byte, wire.RecordSize)

	evicted, err := idx.Rewrite(
		func(r wire.Record) bool {
			age := now.Sub(time.Unix(int64(r.Time), 0))
			return age <= ttl
		},
		func(r wire.Record) error {
			wire.EncodeRecord(r, recBuf)
			_, werr := buf.Write(recBuf)
			return werr
		},
	)
	if err != nil {
		log.WithError(err).Warn("snapshot rewrite aborted, retaining mods for retry")
		return ErrorWrite.Error(err)
	}

	if werr := atomic.WriteFile(path, bytes.NewReader(buf.Bytes())); werr != nil {
		log.WithError(werr).WithField("path", path).Error("failed to persist snapshot, retaining mods for retry")
		return ErrorWrite.Error(werr)
	}

	if perr := os.Chmod(path, DefaultPerm.FileMode()); perr != nil {
		log.WithError(perr).WithField("path", path).Warn("failed to set snapshot file permissions")
	}

	idx.CommitRewrite()
	log.WithField("evicted", evicted).Info("snapshot rewritten")
	return nil
}
