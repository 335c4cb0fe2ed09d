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

// Package wire implements the client-to-server line protocol from
// spec.md §4.3: one command keyword per CRLF-terminated line,
// optionally followed by an argument.
//
// Every command is read off a single bufio.Reader shared for the
// lifetime of the connection. The reference source re-read raw socket
// bytes inside its chat handler whenever the first read did not
// contain a line terminator, a special case no other command handler
// had (spec.md §9's framing bug). Routing every command through one
// Reader here, with no per-command fallback to raw conn reads,
// removes that special case entirely rather than preserving it.
package wire

import (
	"bufio"
	"strings"
)

// Verb is a client command keyword.
type Verb string

const (
	Pickup Verb = "pickup"
	Hangup Verb = "hangup"
	Dial   Verb = "dial"
	Chat   Verb = "chat"
)

// Command is one parsed client request line.
type Command struct {
	Verb Verb
	Arg  string
}

// Reader reads successive Commands off a byte stream.
type Reader struct {
	br *bufio.Reader
}

func NewReader(br *bufio.Reader) *Reader {
	return &Reader{br: br}
}

// ReadCommand blocks for the next CRLF- (or bare LF-) terminated line
// and parses it. The returned error is whatever the underlying Reader
// returned (io.EOF on a clean close, or a net.Error on the wire); a
// non-nil error always means the connection is no longer usable.
func (r *Reader) ReadCommand() (Command, error) {
	line, err := r.br.ReadString('\n')
	if line == "" {
		return Command{}, err
	}
	return parse(line), err
}

// parse splits a line into verb and argument. The argument is
// everything after the single space following the verb, up to the
// line terminator — spec.md §4.3's rule for `chat`, applied uniformly
// since no other command currently takes a multi-word argument.
func parse(line string) Command {
	line = strings.TrimRight(line, "\r\n")
	idx := strings.IndexByte(line, ' ')
	if idx < 0 {
		return Command{Verb: Verb(line)}
	}
	return Command{Verb: Verb(line[:idx]), Arg: line[idx+1:]}
}
