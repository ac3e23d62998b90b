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

// stagebench exercises the staging layer against real shared memory and
// reports packing behavior: chunk counts, wasted tail bytes, and a full
// produce-encode-decode-remap-read round trip.
package main

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/mmBabol/shmstage/config"
	"github.com/mmBabol/shmstage/segment"
	"github.com/mmBabol/shmstage/shmem"
	"github.com/mmBabol/shmstage/update"
	"github.com/mmBabol/shmstage/wire"
)

func main() {
	app := &cli.App{
		Name:  "stagebench",
		Usage: "diagnostics for the shared-memory update staging layer",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "TOML config file; flags override it",
			},
			&cli.IntFlag{
				Name:  "chunk-size",
				Usage: "small chunk capacity in bytes",
				Value: config.DefaultChunkSize,
			},
			&cli.StringFlag{
				Name:  "shm-dir",
				Usage: "directory for buffer files (default /dev/shm)",
			},
			&cli.BoolFlag{
				Name:  "heap",
				Usage: "use the heap allocator instead of shared memory",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("verbose") {
				logrus.SetLevel(logrus.DebugLevel)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "bench",
				Usage:  "pack synthetic payloads and report chunk usage",
				Action: runBench,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "payloads",
						Usage: "number of payloads per batch",
						Value: 1000,
					},
					&cli.IntFlag{
						Name:  "payload-size",
						Usage: "bytes per payload",
						Value: 4096,
					},
					&cli.IntFlag{
						Name:  "batches",
						Usage: "number of batches",
						Value: 10,
					},
				},
			},
			{
				Name:   "roundtrip",
				Usage:  "stage a batch, encode, decode, remap, and verify every range",
				Action: runRoundtrip,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func loadConfig(c *cli.Context) (config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if c.IsSet("chunk-size") {
		cfg.ChunkSize = c.Int("chunk-size")
	}
	if c.IsSet("shm-dir") {
		cfg.ShmDir = c.String("shm-dir")
	}
	return cfg, cfg.Validate()
}

func newAllocator(c *cli.Context, cfg config.Config) shmem.Allocator {
	if c.Bool("heap") {
		return shmem.NewHeapAllocator()
	}
	return shmem.NewMmapAllocator(cfg.ShmDir, cfg.NamePrefix)
}

func runBench(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	alloc := newAllocator(c, cfg)

	payloads := c.Int("payloads")
	payloadSize := c.Int("payload-size")
	batches := c.Int("batches")

	data := make([]byte, payloadSize)
	for i := range data {
		data[i] = byte(i)
	}

	var totalChunks, totalLarge int
	var totalBytes uint64
	start := time.Now()

	for batch := 0; batch < batches; batch++ {
		w := segment.NewWriter(alloc, cfg.ChunkSize)
		for i := 0; i < payloads; i++ {
			if _, err := w.Write(data); err != nil {
				w.Clear()
				return err
			}
			totalBytes += uint64(payloadSize)
		}
		totalChunks += w.ChunkCount()
		totalLarge += w.LargeCount()
		// Not transmitting anywhere; release everything.
		w.Clear()
	}
	elapsed := time.Since(start)

	perChunk := cfg.ChunkSize / payloadSize
	fmt.Printf("chunk size:      %s\n", humanize.IBytes(uint64(cfg.ChunkSize)))
	fmt.Printf("payloads:        %d x %s x %d batches\n", payloads, humanize.IBytes(uint64(payloadSize)), batches)
	fmt.Printf("chunks:          %d (%d payloads fit per chunk)\n", totalChunks, perChunk)
	fmt.Printf("large buffers:   %d\n", totalLarge)
	fmt.Printf("staged:          %s in %v (%s/s)\n",
		humanize.IBytes(totalBytes), elapsed,
		humanize.IBytes(uint64(float64(totalBytes)/elapsed.Seconds())))
	if totalChunks > 0 && totalLarge == 0 {
		used := totalBytes
		capacity := uint64(totalChunks) * uint64(cfg.ChunkSize)
		fmt.Printf("chunk occupancy: %.1f%%\n", 100*float64(used)/float64(capacity))
	}
	return nil
}

func runRoundtrip(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.Bool("heap") {
		return fmt.Errorf("roundtrip needs real shared memory; drop --heap")
	}
	alloc := shmem.NewMmapAllocator(cfg.ShmDir, cfg.NamePrefix)

	q := update.NewQueueWithChunkSize(alloc, cfg.ChunkSize)
	img := make([]byte, 3000)
	font := make([]byte, cfg.ChunkSize+1)
	for i := range img {
		img[i] = byte(i * 7)
	}
	for i := range font {
		font[i] = byte(i * 11)
	}

	imgKey := update.ImageKey{Namespace: 1, ID: 1}
	desc := update.ImageDescriptor{Format: 1, Width: 30, Height: 25, Stride: 120}
	if err := q.AddImage(imgKey, desc, img); err != nil {
		return err
	}
	if err := q.AddRawFont(update.FontKey{Namespace: 1, ID: 2}, font, 0); err != nil {
		return err
	}
	if err := q.DeleteImage(imgKey); err != nil {
		return err
	}

	var records []update.Record
	var small, large []*shmem.Buffer
	q.Flush(&records, &small, &large)
	defer func() {
		for _, buf := range append(small, large...) {
			buf.Close()
			buf.Remove()
		}
	}()

	batch := wire.NewBatch(cfg.ChunkSize, records, small, large)
	var encoded bytes.Buffer
	if err := batch.Encode(&encoded); err != nil {
		return err
	}
	logrus.WithField("bytes", encoded.Len()).Debug("batch encoded")

	decoded, err := wire.Decode(&encoded, cfg.ChunkSize)
	if err != nil {
		return err
	}

	// Play the consumer: map every buffer fresh from its handle.
	remap := func(handles []shmem.Handle) ([]*shmem.Buffer, error) {
		var out []*shmem.Buffer
		for _, h := range handles {
			buf, err := shmem.Open(cfg.ShmDir, h)
			if err != nil {
				return nil, err
			}
			out = append(out, buf)
		}
		return out, nil
	}
	rsmall, err := remap(decoded.Small)
	if err != nil {
		return err
	}
	rlarge, err := remap(decoded.Large)
	if err != nil {
		return err
	}
	defer func() {
		for _, buf := range append(rsmall, rlarge...) {
			buf.Close()
		}
	}()

	if err := decoded.VerifyBuffers(rsmall, rlarge); err != nil {
		return err
	}

	reader := segment.NewReader(rsmall, rlarge, int(decoded.ChunkSize))
	want := [][]byte{img, font}
	idx := 0
	for _, rec := range decoded.Records {
		if !rec.HasPayload {
			continue
		}
		got, err := reader.Read(rec.Payload)
		if err != nil {
			return err
		}
		if !bytes.Equal(got, want[idx]) {
			return fmt.Errorf("%s payload mismatch after round trip", rec.Kind)
		}
		idx++
	}

	fmt.Printf("%s verified: %d records, %d small + %d large buffers\n",
		decoded, len(decoded.Records), len(rsmall), len(rlarge))
	return nil
}
