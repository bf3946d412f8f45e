// Copyright 2021 the System Transparency Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !windows

package stlog

import (
	"errors"
	"fmt"
	"log/syslog"

	"github.com/tpm2-software/tpm2rmd/sterror"
)

// Scope and operations used for raising Errors of this package.
const (
	ErrScope          sterror.Scope = "Stlog"
	ErrOpNewSyslogger sterror.Op    = "newSyslogLogger"
)

// Errors which may be raised and wrapped in this package.
var ErrLogger = errors.New("initializing logger failed")

type syslogLogger struct {
	out   *syslog.Writer
	level LogLevel
}

func newSyslogLogger() (*syslogLogger, error) {
	w, err := syslog.New(syslog.LOG_DAEMON, "tpm2rmd")
	if err != nil {
		return nil, sterror.E(ErrScope, ErrOpNewSyslogger, ErrLogger, err.Error())
	}

	return &syslogLogger{out: w, level: DebugLevel}, nil
}

func (l *syslogLogger) setLevel(level LogLevel) {
	l.level = level
}

func (l *syslogLogger) error(format string, v ...interface{}) {
	if l.level >= ErrorLevel {
		l.out.Err(fmt.Sprintf(format, v...)) //nolint:errcheck
	}
}

func (l *syslogLogger) warn(format string, v ...interface{}) {
	if l.level >= WarnLevel {
		l.out.Warning(fmt.Sprintf(format, v...)) //nolint:errcheck
	}
}

func (l *syslogLogger) info(format string, v ...interface{}) {
	if l.level >= InfoLevel {
		l.out.Info(fmt.Sprintf(format, v...)) //nolint:errcheck
	}
}

func (l *syslogLogger) debug(format string, v ...interface{}) {
	if l.level >= DebugLevel {
		l.out.Debug(fmt.Sprintf(format, v...)) //nolint:errcheck
	}
}
