// Copyright 2021 the System Transparency Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package stlog exposes leveled logging capabilities for the resource
// manager daemon.
//
// stlog wraps two backends and adds log levels to them: the standard
// library "log" package, and the local Unix syslog daemon via "log/syslog".
package stlog

import "os"

const (
	prefix   string = "tpm2rmd: "
	errorTag string = "[ERROR] "
	warnTag  string = "[WARN]  "
	infoTag  string = "[INFO]  "
	debugTag string = "[DEBUG] "
)

type LogLevel int

const (
	ErrorLevel LogLevel = iota
	WarnLevel
	InfoLevel
	DebugLevel
)

type LogOutput int

const (
	StdError LogOutput = iota
	Syslog
)

//nolint:gochecknoglobals
var stl levelLogger

//nolint:gochecknoinits
func init() {
	stl = newStandardLogger(os.Stderr)
}

type levelLogger interface {
	setLevel(level LogLevel)
	error(format string, v ...interface{})
	warn(format string, v ...interface{})
	info(format string, v ...interface{})
	debug(format string, v ...interface{})
}

// SetOutput sets the package's underlying logger. Falling back to the
// standard error backend when the syslog daemon cannot be reached keeps the
// resource manager's own logging from becoming a second point of failure.
func SetOutput(o LogOutput) {
	switch o {
	case Syslog:
		l, err := newSyslogLogger()
		if err != nil {
			stl = newStandardLogger(os.Stderr)
			Error("stlog: falling back to stderr: %v", err)

			return
		}

		stl = l
	default:
		stl = newStandardLogger(os.Stderr)
	}
}

// SetLevel sets the logging level of the stlog package.
func SetLevel(l LogLevel) {
	switch l {
	case ErrorLevel, WarnLevel, InfoLevel, DebugLevel:
		stl.setLevel(l)
	default:
		stl.setLevel(DebugLevel)
	}
}

// Error prints error messages to the currently active logger when permitted
// by the log level. Input can be formatted according to fmt.Printf
func Error(format string, v ...interface{}) {
	stl.error(format, v...)
}

// Warn prints waring messages to the currently active logger when permitted
// by the log level. Input can be formatted according to fmt.Printf
func Warn(format string, v ...interface{}) {
	stl.warn(format, v...)
}

// Info prints info messages to the currently active logger when permitted
// by the log level. Input can be formatted according to fmt.Printf
func Info(format string, v ...interface{}) {
	stl.info(format, v...)
}

// Debug prints debug messages to the currently active logger when permitted
// by the log level. Input can be formatted according to fmt.Printf
func Debug(format string, v ...interface{}) {
	stl.debug(format, v...)
}
