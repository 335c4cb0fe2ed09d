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
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gookit/color"
	"github.com/pkg/errors"

	"github.com/sippy/go-pbx/pbx"
	"github.com/sippy/go-pbx/pbx/conf"
	pbxlog "github.com/sippy/go-pbx/pbx/log"
)

// minPort matches original_source/src/main.c's rejection of any port
// below 1024 (privileged-port range).
const minPort = 1024

func main() {
	var port int
	var debug bool
	flag.IntVar(&port, "p", 3000, "Listen port (must be >= 1024)")
	flag.BoolVar(&debug, "d", false, "Enable debug-level logging")
	flag.Parse()

	if flag.NArg() != 0 {
		fail(fmt.Errorf("unexpected extra arguments: %v", flag.Args()))
	}
	if port < minPort {
		fail(fmt.Errorf("invalid port argument (must be >= %d): got %d", minPort, port))
	}

	logger := pbxlog.New("PBXD", debug)
	cfg := conf.New(port, logger)

	registry := pbx.New(cfg)
	listener, err := pbx.Listen(cfg, registry)
	if err != nil {
		fail(errors.Wrap(err, "could not bind listening socket"))
	}

	go listener.Run()
	logger.Debug("listening on port", port)

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	// A failed write to a client socket is logged and returned as an
	// error, never a crash; SIGPIPE is ignored here as well, as a second
	// guard.
	signal.Ignore(syscall.SIGPIPE)

	<-sighup
	logger.Debug("SIGHUP received, shutting down")
	listener.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := registry.Shutdown(ctx); err != nil {
		logger.Error("shutdown did not drain in time:", err)
		os.Exit(1)
	}
}

func fail(err error) {
	color.Error.Println(err.Error())
	os.Exit(1)
}
