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
	"bufio"
	"io"
	"net"
	"strconv"

	"github.com/google/uuid"

	pbxlog "github.com/sippy/go-pbx/pbx/log"
	"github.com/sippy/go-pbx/pbx/wire"
)

// Session runs the per-connection loop described in spec.md §4.3. It
// owns one TU for the lifetime of the connection.
type Session struct {
	conn   net.Conn
	pbx    *PBX
	tu     *TU
	log    pbxlog.ErrorLogger
	corrID uuid.UUID
}

// NewSession registers conn as a new TU with pbx and returns the
// Session that will drive it. The caller launches Run in its own
// goroutine (typically via safeCall, from the listener's accept loop).
func NewSession(conn net.Conn, pbx *PBX, log pbxlog.ErrorLogger) (*Session, error) {
	tu := NewTU(conn, log)
	ext, err := pbx.Register(tu)
	if err != nil {
		conn.Close()
		return nil, err
	}
	corrID := uuid.New()
	log.Debug("session", corrID, "registered as extension", ext)
	return &Session{conn: conn, pbx: pbx, tu: tu, log: log, corrID: corrID}, nil
}

// handlers maps each known verb to the TU/PBX operation it drives.
// Dispatch by table, not by a chain of string comparisons, per
// spec.md §9's explicit direction.
var handlers = map[wire.Verb]func(*Session, string){
	wire.Pickup: func(s *Session, _ string) { s.tu.Pickup() },
	wire.Hangup: func(s *Session, _ string) { s.tu.Hangup() },
	wire.Dial: func(s *Session, arg string) {
		ext, err := strconv.Atoi(arg)
		if err != nil {
			// Malformed ext dials with a null target (spec.md §4.3),
			// which TU.Dial resolves to the ERROR state.
			s.tu.Dial(nil)
			return
		}
		s.pbx.DialExtension(s.tu, ext)
	},
	wire.Chat: func(s *Session, arg string) { s.tu.Chat(arg) },
}

// Run is the per-connection loop. It reads commands until EOF or a
// read error, dispatches each through handlers, and on exit performs
// the hangup + unregister + close sequence from spec.md §4.3.
func (s *Session) Run() {
	defer s.teardown()
	r := wire.NewReader(bufio.NewReader(s.conn))
	for {
		cmd, err := r.ReadCommand()
		if cmd.Verb != "" {
			if h, ok := handlers[cmd.Verb]; ok {
				h(s, cmd.Arg)
			}
			// Unknown commands are ignored: no state change, no
			// notification (spec.md §4.3).
		}
		if err != nil {
			if err != io.EOF {
				s.log.Debug("session", s.corrID, "read error:", err)
			}
			return
		}
	}
}

func (s *Session) teardown() {
	s.tu.Hangup()
	if err := s.pbx.Unregister(s.tu); err != nil {
		s.log.Debug("session", s.corrID, "unregister:", err)
	}
	s.conn.Close()
}
