// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

// Package ingest reads service log files — a bounded tail per batch,
// or incremental follow of appended bytes — parses the lines, and
// hands them to the store in bulk.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
)

// Config bounds how much of each log file a single batch reads.
type Config struct {
	// TailLines is the maximum number of lines read per file per
	// batch. Defaults to 100.
	TailLines int

	// MaxLineLength truncates each line to this many bytes.
	// Defaults to 8192.
	MaxLineLength int
}

func (c Config) withDefaults() Config {
	if c.TailLines <= 0 {
		c.TailLines = 100
	}
	if c.MaxLineLength <= 0 {
		c.MaxLineLength = 8192
	}
	return c
}

// Tail returns up to maxLines complete lines from the end of the
// file, each truncated to maxLineLength bytes. Only the trailing
// window of the file is read. A missing or empty file yields an empty
// result and no error; other I/O failures are returned for the caller
// to log and skip.
func Tail(path string, maxLines, maxLineLength int) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("ingest: open %s: %w", path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("ingest: stat %s: %w", path, err)
	}
	size := info.Size()
	if size == 0 {
		return nil, nil
	}

	window := int64(maxLines) * int64(maxLineLength)
	if window > size {
		window = size
	}
	if _, err := file.Seek(size-window, io.SeekStart); err != nil {
		return nil, fmt.Errorf("ingest: seek %s: %w", path, err)
	}
	data := make([]byte, window)
	if _, err := io.ReadFull(file, data); err != nil {
		return nil, fmt.Errorf("ingest: read %s: %w", path, err)
	}

	lines := splitLines(string(data))

	// When the window does not start at byte 0, the first line read
	// may be a fragment of a longer line. Drop it.
	if window < size && len(lines) > 0 {
		lines = lines[1:]
	}
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}

	for i, line := range lines {
		if len(line) > maxLineLength {
			lines[i] = line[:maxLineLength]
		}
	}
	return lines, nil
}

// splitLines splits on newlines without producing a trailing empty
// line for newline-terminated data. Carriage returns are stripped.
func splitLines(data string) []string {
	lines := strings.Split(data, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}
