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
package pbx

import (
	"fmt"
	"net"

	"github.com/tevino/abool"

	"github.com/sippy/go-pbx/pbx/conf"
	pbxlog "github.com/sippy/go-pbx/pbx/log"
)

// Listener owns the TCP socket and the accept loop described in
// spec.md §6. Each accepted connection becomes one Session, run in
// its own goroutine via safeCall.
type Listener struct {
	ln       net.Listener
	pbx      *PBX
	log      pbxlog.ErrorLogger
	stopping *abool.AtomicBool
}

// Listen binds the configured TCP port and returns a Listener ready
// to Run. Binding failures are returned unwrapped; cmd/pbxd/main.go is
// responsible for adding context and exiting.
func Listen(cfg conf.Config, pbx *PBX) (*Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port()))
	if err != nil {
		return nil, err
	}
	return &Listener{
		ln:       ln,
		pbx:      pbx,
		log:      cfg.Logger(),
		stopping: abool.New(),
	}, nil
}

// Run accepts connections until Shutdown closes the listening socket.
// It returns once the accept loop has exited; it does not itself wait
// for in-flight sessions to drain (that is PBX.Shutdown's job).
func (l *Listener) Run() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if l.stopping.IsSet() {
				return
			}
			l.log.Error("accept:", err)
			return
		}
		go safeCall(func() { l.serve(conn) }, l.log)
	}
}

func (l *Listener) serve(conn net.Conn) {
	sess, err := NewSession(conn, l.pbx, l.log)
	if err != nil {
		l.log.Debug("listener: rejecting connection:", err)
		return
	}
	sess.Run()
}

// Shutdown stops the accept loop. It does not touch already-accepted
// sessions; callers drive those down via PBX.Shutdown.
func (l *Listener) Shutdown() {
	l.stopping.Set()
	l.ln.Close()
}
