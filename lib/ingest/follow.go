// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Follow watches the given log files and ingests bytes appended after
// the call. Each delivery on the returned channel is the number of
// entries inserted for one change event; zero counts are delivered so
// callers can observe activity that produced no entries. The channel
// closes when ctx is canceled and the watcher has been released.
//
// Files that do not exist at call time are skipped. When none of the
// paths exist the channel is returned already closed.
func (in *Ingester) Follow(ctx context.Context, serviceName string, paths []string, cfg Config) (<-chan int, error) {
	cfg = cfg.withDefaults()
	counts := make(chan int)

	// Offsets start at the current size: only growth after this point
	// is ingested.
	offsets := make(map[string]int64)
	dirs := make(map[string]bool)
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			continue
		}
		info, err := os.Stat(abs)
		if err != nil || info.IsDir() {
			continue
		}
		offsets[abs] = info.Size()
		dirs[filepath.Dir(abs)] = true
	}
	if len(offsets) == 0 {
		in.logger.Warn("no watchable log files", "service", serviceName)
		close(counts)
		return counts, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("ingest: create watcher: %w", err)
	}
	// Watch the parent directories rather than the files themselves so
	// rotation via rename-and-recreate keeps delivering events.
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("ingest: watch %s: %w", dir, err)
		}
	}

	go in.followLoop(ctx, watcher, serviceName, offsets, cfg, counts)
	return counts, nil
}

func (in *Ingester) followLoop(ctx context.Context, watcher *fsnotify.Watcher, serviceName string, offsets map[string]int64, cfg Config, counts chan<- int) {
	defer close(counts)
	defer watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			offset, tracked := offsets[event.Name]
			if !tracked || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			count, newOffset, err := in.ingestAppended(ctx, serviceName, event.Name, offset, cfg)
			if err != nil {
				in.logger.Warn("follow ingest failed",
					"service", serviceName, "path", event.Name, "error", err)
				continue
			}
			if newOffset == offset {
				continue
			}
			offsets[event.Name] = newOffset
			select {
			case counts <- count:
			case <-ctx.Done():
				return
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			in.logger.Warn("watcher error", "service", serviceName, "error", err)
		}
	}
}

// ingestAppended reads bytes between offset and the current file size,
// parses complete lines, and inserts them. A file that shrank
// (truncation or rotation) restarts from zero on the next event.
func (in *Ingester) ingestAppended(ctx context.Context, serviceName, path string, offset int64, cfg Config) (count int, newOffset int64, err error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, offset, nil
		}
		return 0, offset, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, offset, err
	}
	size := info.Size()
	if size < offset {
		return 0, 0, nil
	}
	if size == offset {
		return 0, offset, nil
	}

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return 0, offset, err
	}
	data := make([]byte, size-offset)
	if _, err := io.ReadFull(file, data); err != nil {
		return 0, offset, err
	}

	lines := splitLines(string(data))
	for i, line := range lines {
		if len(line) > cfg.MaxLineLength {
			lines[i] = line[:cfg.MaxLineLength]
		}
	}

	entries := parseLines(lines, serviceName, path)
	count, err = in.store.InsertLogEntries(ctx, entries)
	if err != nil {
		return 0, offset, err
	}
	return count, size, nil
}
