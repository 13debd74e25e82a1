// Package nlog - swarm logger: timestamping, severity levels, buffered writing
/*
 * Copyright (c) 2024-2025, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

const maxLineSize = 4 * 1024

var sevText = [...]string{"INFO", "WARNING", "ERROR"}

type nlog struct {
	w  *bufio.Writer
	mu sync.Mutex
}

var (
	out   = &nlog{w: bufio.NewWriterSize(os.Stderr, 32*1024)}
	title string
)

// redirect, e.g. to a log file; callers own rotation
func SetOutput(w io.Writer) {
	out.mu.Lock()
	out.w.Flush()
	out.w = bufio.NewWriterSize(w, 32*1024)
	out.mu.Unlock()
}

func SetTitle(s string) { title = s }

func InfoDepth(depth int, args ...any)    { log(sevInfo, depth, "", args...) }
func Infoln(args ...any)                  { log(sevInfo, 0, "", args...) }
func Infof(format string, args ...any)    { log(sevInfo, 0, format, args...) }
func Warningln(args ...any)               { log(sevWarn, 0, "", args...) }
func Warningf(format string, args ...any) { log(sevWarn, 0, format, args...) }
func WarningDepth(depth int, args ...any) { log(sevWarn, depth, "", args...) }
func ErrorDepth(depth int, args ...any)   { log(sevErr, depth, "", args...) }
func Errorln(args ...any)                 { log(sevErr, 0, "", args...) }
func Errorf(format string, args ...any)   { log(sevErr, 0, format, args...) }

func Flush(_ ...bool) {
	out.mu.Lock()
	out.w.Flush()
	out.mu.Unlock()
}

// layout: L hh:mm:ss.micros file:line msg\n
func log(sev severity, depth int, format string, args ...any) {
	var (
		file string
		line int
		ok   bool
	)
	_, file, line, ok = runtime.Caller(depth + 2)
	if !ok {
		file, line = "???", 0
	} else {
		file = filepath.Base(file)
	}

	buf := make([]byte, 0, 256)
	buf = append(buf, sevText[sev][0])
	buf = time.Now().AppendFormat(buf, " 15:04:05.000000 ")
	if title != "" {
		buf = append(buf, title...)
		buf = append(buf, ' ')
	}
	buf = append(buf, file...)
	buf = append(buf, ':')
	buf = strconv.AppendInt(buf, int64(line), 10)
	buf = append(buf, ' ')

	var s string
	if format == "" {
		s = fmt.Sprintln(args...)
		s = s[:len(s)-1]
	} else {
		s = fmt.Sprintf(format, args...)
	}
	if len(s) > maxLineSize {
		s = s[:maxLineSize]
	}
	buf = append(buf, s...)
	buf = append(buf, '\n')

	out.mu.Lock()
	out.w.Write(buf)
	if sev >= sevWarn {
		out.w.Flush()
	}
	out.mu.Unlock()
}
