// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestTailLastLines(t *testing.T) {
	var lines []string
	for i := 0; i < 50; i++ {
		lines = append(lines, fmt.Sprintf("line %02d", i))
	}
	path := writeTestFile(t, strings.Join(lines, "\n")+"\n")

	got, err := Tail(path, 10, 8192)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("len = %d, want 10", len(got))
	}
	if got[0] != "line 40" || got[9] != "line 49" {
		t.Errorf("window = [%q .. %q], want [line 40 .. line 49]", got[0], got[9])
	}
}

func TestTailShortFile(t *testing.T) {
	path := writeTestFile(t, "only\ntwo\n")

	got, err := Tail(path, 100, 8192)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}
}

func TestTailMissingFile(t *testing.T) {
	got, err := Tail(filepath.Join(t.TempDir(), "absent.log"), 10, 8192)
	if err != nil {
		t.Fatalf("Tail on a missing file: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}
}

func TestTailEmptyFile(t *testing.T) {
	path := writeTestFile(t, "")

	got, err := Tail(path, 10, 8192)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}
}

func TestTailTruncatesLongLines(t *testing.T) {
	long := strings.Repeat("x", 500)
	path := writeTestFile(t, long+"\nshort\n")

	got, err := Tail(path, 10, 100)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	for _, line := range got {
		if len(line) > 100 {
			t.Errorf("line of %d bytes exceeds the cap", len(line))
		}
	}
}

func TestTailDropsPartialFirstLine(t *testing.T) {
	// Window of 2 lines x 16 bytes lands mid-line; the fragment at the
	// window start must not surface as a line.
	content := strings.Repeat("a", 40) + "\ncomplete line 1\ncomplete line 2\n"
	path := writeTestFile(t, content)

	got, err := Tail(path, 2, 16)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	for _, line := range got {
		if strings.HasPrefix(line, "a") {
			t.Errorf("partial fragment leaked into the result: %q", line)
		}
	}
	if len(got) == 0 || got[len(got)-1] != "complete line 2" {
		t.Errorf("got %v, want the trailing complete lines", got)
	}
}

func TestTailNoTrailingNewline(t *testing.T) {
	path := writeTestFile(t, "first\nsecond")

	got, err := Tail(path, 10, 8192)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(got) != 2 || got[1] != "second" {
		t.Errorf("got %v, want the unterminated final line included", got)
	}
}
