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

// Package config loads the fuzzy-hash store's runtime configuration with
// Viper, with live reload on file change via fsnotify. It is the one
// external collaborator the core store depends on for its tunables.
package config

import (
	"fmt"

	libmap "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/sabouaram/fuzzystored/duration"
	"github.com/sabouaram/fuzzystored/errors"
	"github.com/sabouaram/fuzzystored/file/perm"
)

// Config holds every tunable named by the store's design: the listening
// socket, the snapshot file and its expiry policy, worker timeouts, and
// Bloom filter sizing.
type Config struct {
	// Network is "tcp" or "unix".
	Network string `mapstructure:"network"`
	// Listen is the address (host:port for tcp, a path for unix).
	Listen string `mapstructure:"listen"`

	// HashFile is the snapshot file path. Empty means in-memory only.
	HashFile string `mapstructure:"hashfile"`
	// HashFilePerm is the mode a freshly written snapshot file gets.
	HashFilePerm perm.Perm `mapstructure:"hashfile_perm"`

	// Expire is the record TTL applied during a snapshot rewrite.
	Expire duration.Duration `mapstructure:"expire"`

	// SyncTimeout is the base interval between snapshot considerations;
	// the store adds jitter of up to this same duration.
	SyncTimeout duration.Duration `mapstructure:"sync_timeout"`
	// ModLimit is the modification count that forces a rewrite.
	ModLimit uint64 `mapstructure:"mod_limit"`

	// IOTimeout bounds how long a session may wait on any single read
	// while delivering its frame; the deadline restarts before each read.
	IOTimeout duration.Duration `mapstructure:"io_timeout"`
	// SoftShutdownTimeout is how long a reload waits, after closing the
	// listener, before the worker cancels serving and returns.
	SoftShutdownTimeout duration.Duration `mapstructure:"soft_shutdown_timeout"`

	// BloomBits is the Bloom filter bit-array size.
	BloomBits uint `mapstructure:"bloom_bits"`
	// BloomHashes is the number of double-hashed probe functions.
	BloomHashes uint `mapstructure:"bloom_hashes"`

	// MetricsListen is the address a Prometheus /metrics endpoint binds
	// to. Empty disables metrics entirely.
	MetricsListen string `mapstructure:"metrics_listen"`

	// ReusePort sets SO_REUSEPORT on the listening socket so several
	// peer workers can share one address (see §5 of the design).
	ReusePort bool `mapstructure:"reuse_port"`
}

// Default returns the configuration the source ships as its compiled-in
// defaults: no persistence, a 2-day TTL, a 60s sync base, and the
// spec-mandated MOD_LIMIT of 10,000.
func Default() Config {
	return Config{
		Network:             "tcp",
		Listen:              "127.0.0.1:11335",
		HashFile:            "",
		HashFilePerm:        perm.ParseFileMode(0644),
		Expire:              duration.Days(2),
		SyncTimeout:         duration.Seconds(60),
		ModLimit:            10_000,
		IOTimeout:           duration.Seconds(10),
		SoftShutdownTimeout: duration.Seconds(5),
		BloomBits:           20_000_000,
		BloomHashes:         8,
		MetricsListen:       "",
		ReusePort:           false,
	}
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("network", d.Network)
	v.SetDefault("listen", d.Listen)
	v.SetDefault("hashfile", d.HashFile)
	v.SetDefault("hashfile_perm", d.HashFilePerm.String())
	v.SetDefault("expire", d.Expire.String())
	v.SetDefault("sync_timeout", d.SyncTimeout.String())
	v.SetDefault("mod_limit", d.ModLimit)
	v.SetDefault("io_timeout", d.IOTimeout.String())
	v.SetDefault("soft_shutdown_timeout", d.SoftShutdownTimeout.String())
	v.SetDefault("bloom_bits", d.BloomBits)
	v.SetDefault("bloom_hashes", d.BloomHashes)
	v.SetDefault("metrics_listen", d.MetricsListen)
	v.SetDefault("reuse_port", d.ReusePort)
}

// decodeHook chains mapstructure's string-to-time.Duration hook with the
// Perm and Duration Viper hooks.
func decodeHook() libmap.DecodeHookFunc {
	return libmap.ComposeDecodeHookFunc(
		libmap.StringToTimeDurationHookFunc(),
		perm.ViperDecoderHook(),
		duration.ViperDecoderHook(),
	)
}

// Load reads path (if non-empty) over the compiled-in defaults and
// decodes the result into a Config. A missing path is not an error: the
// defaults alone are a valid configuration for an in-memory-only store.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.IfError(ErrorConfigRead.Uint16(), "error reading configuration file", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return Config{}, errors.IfError(ErrorConfigDecode.Uint16(), "error decoding configuration", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate rejects configurations the store cannot run with: an empty
// listen address, or a bloom filter too small to honor the spec's floor.
func (c Config) Validate() error {
	if c.Listen == "" {
		return ErrorConfigValidate.Error(fmt.Errorf("listen address must not be empty"))
	}
	if c.Network != "tcp" && c.Network != "unix" {
		return ErrorConfigValidate.Error(fmt.Errorf("unsupported network %q", c.Network))
	}
	if c.BloomBits < 20_000_000 {
		return ErrorConfigValidate.Error(fmt.Errorf("bloom_bits must be at least 20000000"))
	}
	return nil
}
