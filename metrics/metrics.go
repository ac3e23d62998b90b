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

// Package metrics exposes prometheus counters for the staging layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChunksAllocated counts fixed-capacity chunks handed out by the
	// allocator.
	ChunksAllocated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shmstage",
		Name:      "chunks_allocated_total",
		Help:      "Fixed-capacity shared memory chunks allocated.",
	})

	// LargeAllocated counts dedicated large-payload buffers.
	LargeAllocated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shmstage",
		Name:      "large_allocations_total",
		Help:      "Dedicated large-payload buffers allocated.",
	})

	// BytesWritten counts payload bytes placed into shared buffers.
	BytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shmstage",
		Name:      "bytes_written_total",
		Help:      "Payload bytes written into shared buffers.",
	})

	// BytesWasted counts chunk-tail bytes abandoned when a payload did not
	// fit the remainder of the current chunk.
	BytesWasted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shmstage",
		Name:      "bytes_wasted_total",
		Help:      "Chunk tail bytes abandoned by the bump allocator.",
	})

	// BatchesFlushed counts completed accumulate-then-emit cycles.
	BatchesFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shmstage",
		Name:      "batches_flushed_total",
		Help:      "Update batches flushed for transmission.",
	})

	// WriteFailures counts writes rejected by allocation failure.
	WriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "shmstage",
		Name:      "write_failures_total",
		Help:      "Payload writes that failed to allocate a buffer.",
	})
)
