// Copyright 2017 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package log implements leveled logging on top of Go's standard log
// package. Import resolution logs its fetches, cache hits and cache
// writes at DebugLevel; failures that do not fail a resolution, such
// as a cache write error, are logged at ErrorLevel.
package log

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Level defines the level of logging. Higher levels are more
// verbose.
type Level int

const (
	// OffLevel turns logging off.
	OffLevel Level = iota
	// ErrorLevel outputs only error messages.
	ErrorLevel
	// InfoLevel is the standard error level.
	InfoLevel
	// DebugLevel outputs detailed debugging output: every fetch,
	// cache hit and cache write performed during import resolution.
	DebugLevel
)

var levelNames = map[Level]string{
	OffLevel:   "off",
	ErrorLevel: "error",
	InfoLevel:  "info",
	DebugLevel: "debug",
}

// String returns the name of level l, as accepted by ParseLevel.
func (l Level) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseLevel parses a level name (off, error, info, debug).
func ParseLevel(s string) (Level, error) {
	for level, name := range levelNames {
		if strings.EqualFold(s, name) {
			return level, nil
		}
	}
	return OffLevel, fmt.Errorf("unknown log level %q", s)
}

// An Outputter receives published log messages. Go's
// *log.Logger implements Outputter.
type Outputter interface {
	Output(calldepth int, s string) error
}

// A Logger publishes messages at or below its level to its
// outputter. Nil Loggers ignore all log messages, so that components
// may be given no logger at all.
type Logger struct {
	Outputter
	Level Level
}

// New creates a new Logger that publishes messages at or below the
// provided level to the provided outputter. New returns nil for
// OffLevel.
func New(out Outputter, level Level) *Logger {
	if level == OffLevel {
		return nil
	}
	return &Logger{Outputter: out, Level: level}
}

// Printf formats a message in the manner of fmt.Printf and publishes
// it to the logger at InfoLevel.
func (l *Logger) Printf(format string, args ...interface{}) {
	l.printf(InfoLevel, format, args...)
}

// Errorf formats a message in the manner of fmt.Printf and publishes
// it to the logger at ErrorLevel.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.printf(ErrorLevel, format, args...)
}

// Debug formats a message in the manner of fmt.Print and publishes
// it to the logger at DebugLevel.
func (l *Logger) Debug(v ...interface{}) {
	if l.at(DebugLevel) {
		l.Output(2, fmt.Sprint(v...))
	}
}

// Debugf formats a message in the manner of fmt.Printf and publishes
// it to the logger at DebugLevel.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.printf(DebugLevel, format, args...)
}

func (l *Logger) at(level Level) bool {
	return l != nil && l.Outputter != nil && level <= l.Level
}

func (l *Logger) printf(level Level, format string, args ...interface{}) {
	if l.at(level) {
		l.Output(3, fmt.Sprintf(format, args...))
	}
}

// Std is the standard logger. The canon command replaces it with a
// logger at the configured level.
var Std = New(log.New(os.Stderr, "", log.LstdFlags), InfoLevel)
