//
// Copyright (c) 2003-2005 Maxim Sobolev. All rights reserved.
// Copyright (c) 2006-2019 Sippy Software, Inc. All rights reserved.
//
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without modification,
// are permitted provided that the following conditions are met:
//
// 1. Redistributions of source code must retain the above copyright notice, this
// list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright notice,
// this list of conditions and the following disclaimer in the documentation and/or
// other materials provided with the distribution.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS" AND
// ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE IMPLIED
// WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE FOR
// ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES
// (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR SERVICES;
// LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER CAUSED AND ON
// ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT
// (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE OF THIS
// SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

// Package log provides the ErrorLogger interface every PBX component
// is constructed with, and a logrus-backed default implementation.
package log

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// ErrorLogger is the logging seam passed into every PBX component.
// Nothing in this module reaches for a package-level logger; every
// constructor takes one of these explicitly.
type ErrorLogger interface {
	Debug(...interface{})
	Error(...interface{})
	ErrorAndTraceback(error)
}

type errorLogger struct {
	entry *logrus.Entry
}

// New returns an ErrorLogger tagged with prefix (e.g. "PBX", "TU",
// "SESSION") that writes through logrus with a prefixed formatter.
func New(prefix string, debug bool) ErrorLogger {
	l := logrus.New()
	l.Formatter = &prefixed.TextFormatter{
		ForceFormatting: true,
		FullTimestamp:   true,
	}
	if debug {
		l.Level = logrus.DebugLevel
	} else {
		l.Level = logrus.InfoLevel
	}
	return &errorLogger{entry: l.WithField("prefix", prefix)}
}

func (l *errorLogger) Debug(args ...interface{}) {
	l.entry.Debug(args...)
}

func (l *errorLogger) Error(args ...interface{}) {
	l.entry.Error(args...)
}

func (l *errorLogger) ErrorAndTraceback(err error) {
	l.entry.Error(err)
	buf := make([]byte, 16384)
	n := runtime.Stack(buf, false)
	for _, line := range strings.Split(string(buf[:n]), "\n") {
		if line != "" {
			l.entry.Error(line)
		}
	}
}
