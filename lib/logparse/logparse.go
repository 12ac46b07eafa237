// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

// Package logparse classifies raw log lines into a closed set of
// formats and extracts normalized entries. Both DetectFormat and
// ParseLine are pure: no I/O, and no failure mode beyond degrading a
// malformed line to the raw fallback.
package logparse

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/vigil-obs/vigil/lib/schema/observe"
)

// Format is the detected shape of a log line. The set is closed:
// parsing dispatches on the tag, one pure function per variant.
type Format int

const (
	// FormatAuto is the ParseLine hint meaning "detect per line".
	FormatAuto Format = iota

	// FormatStructured is a JSON object line.
	FormatStructured

	// FormatAccessLog is the positional access-log grammar:
	// host - identity [time] "request" status size.
	FormatAccessLog

	// FormatLeveled is delimiter-separated leveled text:
	// timestamp [- name] [-] LEVEL [-] message.
	FormatLeveled

	// FormatRaw is the fallback for everything else.
	FormatRaw
)

func (f Format) String() string {
	switch f {
	case FormatStructured:
		return "structured"
	case FormatAccessLog:
		return "accesslog"
	case FormatLeveled:
		return "leveled"
	case FormatRaw:
		return "raw"
	default:
		return "auto"
	}
}

// accessLogPattern matches lines like:
// 127.0.0.1 - frank [10/Oct/2000:13:55:36 -0700] "GET /x HTTP/1.1" 200 2326
var accessLogPattern = regexp.MustCompile(
	`^(\S+)\s+\S+\s+\S+\s+\[([^\]]+)\]\s+"([^"]*)"\s+(\d{3})\s+(\S+)`)

// leveledPattern matches lines like:
// 2024-01-15 10:30:45,123 - worker - ERROR - connection lost
// The logger name and the dash separators are optional.
var leveledPattern = regexp.MustCompile(
	`^(\d{4}-\d{2}-\d{2}\s+\d{2}:\d{2}:\d{2}[,.\d]*)\s+(?:-\s+\S+\s+)?-?\s*([A-Z]+)\s+(?:-\s+)?(.*)`)

// accessLogTimeLayout is the fixed access-log date format.
const accessLogTimeLayout = "02/Jan/2006:15:04:05 -0700"

// levelSynonyms maps severity tokens to normalized levels. Lookup is
// case-insensitive and total: unmapped tokens become LevelUnknown.
var levelSynonyms = map[string]observe.LogLevel{
	"critical": observe.LevelCritical,
	"fatal":    observe.LevelCritical,
	"error":    observe.LevelError,
	"err":      observe.LevelError,
	"warning":  observe.LevelWarning,
	"warn":     observe.LevelWarning,
	"info":     observe.LevelInfo,
	"debug":    observe.LevelDebug,
	"trace":    observe.LevelDebug,
}

// NormalizeLevel maps a raw severity token to a LogLevel. Never fails.
func NormalizeLevel(raw string) observe.LogLevel {
	if level, ok := levelSynonyms[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return level
	}
	return observe.LevelUnknown
}

// DetectFormat classifies a single line. Precedence is structured,
// then access-log, then leveled, then raw; first match wins. Blank
// lines are raw.
func DetectFormat(line string) Format {
	stripped := strings.TrimSpace(line)
	if stripped == "" {
		return FormatRaw
	}

	if strings.HasPrefix(stripped, "{") {
		var decoded map[string]any
		if json.Unmarshal([]byte(stripped), &decoded) == nil {
			return FormatStructured
		}
	}

	if accessLogPattern.MatchString(stripped) {
		return FormatAccessLog
	}
	if leveledPattern.MatchString(stripped) {
		return FormatLeveled
	}
	return FormatRaw
}

// ParseLine parses one line into a LogEntry, detecting the format
// when hint is FormatAuto. Parsing is total: any input, including
// empty or truncated lines, yields an entry. IngestedAt is left zero
// for the store to stamp at insert time.
func ParseLine(line, serviceName, sourceFile string, hint Format) observe.LogEntry {
	format := hint
	if format == FormatAuto {
		format = DetectFormat(line)
	}

	switch format {
	case FormatStructured:
		return parseStructured(line, serviceName, sourceFile)
	case FormatAccessLog:
		return parseAccessLog(line, serviceName, sourceFile)
	case FormatLeveled:
		return parseLeveled(line, serviceName, sourceFile)
	default:
		return parseRaw(line, serviceName, sourceFile)
	}
}

func parseStructured(line, serviceName, sourceFile string) observe.LogEntry {
	var fields map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &fields); err != nil {
		return parseRaw(line, serviceName, sourceFile)
	}

	levelRaw, ok := lookupField(fields, "level", "severity")
	if !ok {
		levelRaw = "unknown"
	}
	message, _ := lookupField(fields, "message", "msg")

	// The first present timestamp-like key decides; a value that
	// fails to parse leaves the timestamp absent rather than moving
	// on to the next key.
	var timestamp time.Time
	for _, key := range []string{"timestamp", "time", "ts", "@timestamp"} {
		if value, present := fields[key]; present {
			timestamp, _ = parseInstant(stringify(value))
			break
		}
	}

	return observe.LogEntry{
		ServiceName: serviceName,
		Level:       NormalizeLevel(levelRaw),
		Message:     message,
		SourceFile:  sourceFile,
		RawLine:     strings.TrimRight(line, "\n"),
		Timestamp:   timestamp,
	}
}

func parseAccessLog(line, serviceName, sourceFile string) observe.LogEntry {
	match := accessLogPattern.FindStringSubmatch(strings.TrimSpace(line))
	if match == nil {
		return parseRaw(line, serviceName, sourceFile)
	}

	status, _ := strconv.Atoi(match[4])
	var level observe.LogLevel
	switch {
	case status >= 500:
		level = observe.LevelError
	case status >= 400:
		level = observe.LevelWarning
	default:
		level = observe.LevelInfo
	}

	timestamp, _ := time.Parse(accessLogTimeLayout, match[2])

	return observe.LogEntry{
		ServiceName: serviceName,
		Level:       level,
		Message:     fmt.Sprintf("%s -> %d", match[3], status),
		SourceFile:  sourceFile,
		RawLine:     strings.TrimRight(line, "\n"),
		Timestamp:   timestamp,
	}
}

func parseLeveled(line, serviceName, sourceFile string) observe.LogEntry {
	match := leveledPattern.FindStringSubmatch(strings.TrimSpace(line))
	if match == nil {
		return parseRaw(line, serviceName, sourceFile)
	}

	timestamp, _ := parseInstant(strings.ReplaceAll(match[1], ",", "."))

	return observe.LogEntry{
		ServiceName: serviceName,
		Level:       NormalizeLevel(match[2]),
		Message:     strings.TrimSpace(match[3]),
		SourceFile:  sourceFile,
		RawLine:     strings.TrimRight(line, "\n"),
		Timestamp:   timestamp,
	}
}

func parseRaw(line, serviceName, sourceFile string) observe.LogEntry {
	return observe.LogEntry{
		ServiceName: serviceName,
		Level:       observe.LevelUnknown,
		Message:     strings.TrimSpace(line),
		SourceFile:  sourceFile,
		RawLine:     strings.TrimRight(line, "\n"),
	}
}

// lookupField reads a string field case-insensitively, preferring the
// keys in argument order and exact-case matches within each key.
func lookupField(fields map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		if value, ok := fields[key]; ok {
			return stringify(value), true
		}
	}
	for _, key := range keys {
		for name, value := range fields {
			if strings.EqualFold(name, key) {
				return stringify(value), true
			}
		}
	}
	return "", false
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// instantLayouts are the ISO-8601-compatible shapes accepted for
// embedded timestamps, tried in order.
var instantLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseInstant(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range instantLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}
