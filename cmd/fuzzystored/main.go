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

// Command fuzzystored runs one fuzzy-hash similarity storage worker: it
// loads its configuration, optionally replays a snapshot file, and then
// serves CHECK/WRITE/DELETE requests until a signal tells it to flush and
// exit or to reload.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sabouaram/fuzzystored/internal/config"
	"github.com/sabouaram/fuzzystored/internal/daemon"
	"github.com/sabouaram/fuzzystored/logger"
)

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:   "fuzzystored",
		Short: "Fuzzy-hash similarity storage worker",
		Long: "fuzzystored stores ssdeep-style fuzzy hashes in a bucketed, Bloom-filter-guarded\n" +
			"in-memory index and answers CHECK, WRITE and DELETE requests over a fixed-width\n" +
			"binary protocol, periodically snapshotting itself to disk.",
		RunE: runWorker,
	}

	root.Flags().StringVarP(&cfgFile, "config", "c", "", "path to a YAML configuration file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	log := logger.New(logger.InfoLevel)
	w := daemon.New(cfg, log)

	if cfgFile != "" {
		watcher, werr := config.Watch(cfgFile, func(_ config.Config, werr error) {
			if werr != nil {
				log.WithError(werr).Warn("configuration file changed but failed to reload")
				return
			}
			log.Warn("configuration file changed on disk; restart the worker to apply it")
		})
		if werr != nil {
			log.WithError(werr).Warn("could not watch configuration file for changes")
		} else {
			defer func() { _ = watcher.Close() }()
		}
	}

	return w.Run(context.Background())
}
