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

// Package conf holds the small, explicit Config this server is built
// from. There is no package-level config global; the Config is
// constructed once in cmd/pbxd/main.go and threaded explicitly into
// the listener, the registry, and every session.
package conf

import (
	pbxlog "github.com/sippy/go-pbx/pbx/log"
)

// MaxExtensions is the design constant from spec.md §3 ("fixed
// capacity table of size MAX_EXTENSIONS (design constant, e.g.
// 1024)").
const MaxExtensions = 1024

type Config interface {
	Port() int
	MaxExtensions() int
	Logger() pbxlog.ErrorLogger
}

type config struct {
	port          int
	maxExtensions int
	logger        pbxlog.ErrorLogger
}

// New builds a Config. port must already have been validated by the
// caller (spec.md §6: ports below 1024 are rejected before this is
// ever called).
func New(port int, logger pbxlog.ErrorLogger) Config {
	return &config{
		port:          port,
		maxExtensions: MaxExtensions,
		logger:        logger,
	}
}

func (c *config) Port() int          { return c.port }
func (c *config) MaxExtensions() int { return c.maxExtensions }
func (c *config) Logger() pbxlog.ErrorLogger { return c.logger }
