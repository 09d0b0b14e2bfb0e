// Package xlog is Tempo's leveled logger: buffering-free, timestamped,
// severity-gated writes to stderr or to the io.Writer given to SetOutput.
// Hand-rolled on the standard library rather than a third-party logging
// package, trimmed of the rotating-file/mmap machinery a single RPC
// process does not need.
/*
 * Copyright (c) 2024-2025, Tempo RPC Contributors. All rights reserved.
 */
package xlog

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

func (s severity) String() string {
	switch s {
	case sevInfo:
		return "I"
	case sevWarn:
		return "W"
	case sevErr:
		return "E"
	default:
		return "?"
	}
}

var (
	mu          sync.Mutex
	out         io.Writer = os.Stderr
	minSeverity           = sevInfo
)

// SetOutput redirects every subsequent log line to w (a file, for
// example) instead of stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// SetVerbose raises or lowers the minimum severity that gets written;
// verbose=true logs Info and above, verbose=false logs Warning and above.
func SetVerbose(verbose bool) {
	mu.Lock()
	defer mu.Unlock()
	if verbose {
		minSeverity = sevInfo
	} else {
		minSeverity = sevWarn
	}
}

func log(sev severity, depth int, format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	if sev < minSeverity {
		return
	}
	_, file, line, ok := runtime.Caller(depth + 2)
	if !ok {
		file, line = "???", 0
	} else {
		if idx := strings.LastIndexByte(file, '/'); idx >= 0 {
			file = file[idx+1:]
		}
	}
	var msg string
	if format == "" {
		msg = fmt.Sprintln(args...)
	} else {
		msg = fmt.Sprintf(format, args...)
		if !strings.HasSuffix(msg, "\n") {
			msg += "\n"
		}
	}
	ts := time.Now().Format("2006-01-02T15:04:05.000Z07:00")
	fmt.Fprintf(out, "%s %s %s:%s %s", sev, ts, file, strconv.Itoa(line), msg)
}

func Infoln(args ...any)                  { log(sevInfo, 0, "", args...) }
func Infof(format string, args ...any)    { log(sevInfo, 0, format, args...) }
func InfoDepth(depth int, args ...any)    { log(sevInfo, depth, "", args...) }
func Warningln(args ...any)               { log(sevWarn, 0, "", args...) }
func Warningf(format string, args ...any) { log(sevWarn, 0, format, args...) }
func Errorln(args ...any)                 { log(sevErr, 0, "", args...) }
func Errorf(format string, args ...any)   { log(sevErr, 0, format, args...) }
func ErrorDepth(depth int, args ...any)   { log(sevErr, depth, "", args...) }
