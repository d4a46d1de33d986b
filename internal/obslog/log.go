// Copyright (C) IntelliMaint contributors.
// All rights reserved. This file is part of intellimaint.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package obslog provides leveled logging for every component of the
// telemetry pipeline. Time/date are omitted by default because the process
// supervisor (systemd or equivalent) usually adds them; pass -logdate to
// re-enable. Prefixes follow the syslog/sd-daemon convention so log
// forwarders can bucket by severity without parsing text.
package obslog

import (
	"fmt"
	"io"
	"log"
	"os"
)

var logDateTime bool

var (
	debugWriter io.Writer = os.Stderr
	infoWriter  io.Writer = os.Stderr
	warnWriter  io.Writer = os.Stderr
	errWriter   io.Writer = os.Stderr
)

const (
	debugPrefix = "<7>[DEBUG]    "
	infoPrefix  = "<6>[INFO]     "
	warnPrefix  = "<4>[WARNING]  "
	errPrefix   = "<3>[ERROR]    "
)

var (
	debugLog = log.New(debugWriter, debugPrefix, 0)
	infoLog  = log.New(infoWriter, infoPrefix, 0)
	warnLog  = log.New(warnWriter, warnPrefix, log.Lshortfile)
	errLog   = log.New(errWriter, errPrefix, log.Llongfile)

	debugTimeLog = log.New(debugWriter, debugPrefix, log.LstdFlags)
	infoTimeLog  = log.New(infoWriter, infoPrefix, log.LstdFlags)
	warnTimeLog  = log.New(warnWriter, warnPrefix, log.LstdFlags|log.Lshortfile)
	errTimeLog   = log.New(errWriter, errPrefix, log.LstdFlags|log.Llongfile)
)

// SetLevel gates writers below the given level to io.Discard. Valid values:
// "debug", "info", "warn", "err"/"fatal".
func SetLevel(lvl string) {
	switch lvl {
	case "err", "fatal":
		warnWriter = io.Discard
		fallthrough
	case "warn":
		infoWriter = io.Discard
		fallthrough
	case "info":
		debugWriter = io.Discard
	case "debug":
		// nothing discarded
	default:
		fmt.Printf("obslog: invalid level %q, defaulting to debug\n", lvl)
	}
}

// SetLogDateTime toggles timestamp prefixes on every subsequent log line.
func SetLogDateTime(on bool) { logDateTime = on }

func render(v ...any) string { return fmt.Sprint(v...) }

func Debug(v ...any) {
	if debugWriter == io.Discard {
		return
	}
	out := render(v...)
	if logDateTime {
		debugTimeLog.Output(2, out)
	} else {
		debugLog.Output(2, out)
	}
}

func Info(v ...any) {
	if infoWriter == io.Discard {
		return
	}
	out := render(v...)
	if logDateTime {
		infoTimeLog.Output(2, out)
	} else {
		infoLog.Output(2, out)
	}
}

func Warn(v ...any) {
	if warnWriter == io.Discard {
		return
	}
	out := render(v...)
	if logDateTime {
		warnTimeLog.Output(2, out)
	} else {
		warnLog.Output(2, out)
	}
}

func Error(v ...any) {
	if errWriter == io.Discard {
		return
	}
	out := render(v...)
	if logDateTime {
		errTimeLog.Output(2, out)
	} else {
		errLog.Output(2, out)
	}
}

// Fatal logs at error level and exits. Reserved for unrecoverable startup
// failures; nothing on a worker's hot path may call this, since cancellation
// is the only thing allowed to end a running loop.
func Fatal(v ...any) {
	Error(v...)
	os.Exit(1)
}

func Debugf(format string, v ...any) { Debug(fmt.Sprintf(format, v...)) }
func Infof(format string, v ...any)  { Info(fmt.Sprintf(format, v...)) }
func Warnf(format string, v ...any)  { Warn(fmt.Sprintf(format, v...)) }
func Errorf(format string, v ...any) { Error(fmt.Sprintf(format, v...)) }
func Fatalf(format string, v ...any) { Fatal(fmt.Sprintf(format, v...)) }
