/*
 *
 * Copyright 2026 The shmstage Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Package config holds the staging layer's configuration.
package config

import (
	"math"
	"os"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

// DefaultChunkSize is the capacity of one small chunk. Shared buffers come
// in virtual memory allocation units with two guard pages, and the minimum
// allocation on some platforms is 64 KiB, so the default is
// 64 KiB - 2 * 4 KiB = 57344 bytes.
//
// Producer and consumer must agree on the chunk size; changing it
// invalidates the ranges of any previously flushed batch.
const DefaultChunkSize = 57344

// Config controls buffer placement and chunking.
type Config struct {
	// ChunkSize is the capacity of one small chunk in bytes.
	ChunkSize int `toml:"chunk_size"`
	// ShmDir is where buffer files are created; empty selects /dev/shm
	// with a temp dir fallback.
	ShmDir string `toml:"shm_dir"`
	// NamePrefix is prepended to generated buffer names.
	NamePrefix string `toml:"name_prefix"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{ChunkSize: DefaultChunkSize}
}

// Load reads a TOML config file. Missing keys keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the range arithmetic cannot support.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return errors.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	// Small-range offsets are 32-bit global offsets in capacity units.
	if int64(c.ChunkSize) > math.MaxUint32 {
		return errors.Errorf("chunk size %d does not fit the 32-bit offset space", c.ChunkSize)
	}
	return nil
}
