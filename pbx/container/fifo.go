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

// Package container provides the PBX's free-extension pool, adapted
// from a generic interface{} FIFO into an int-typed free-list.
package container

// IntFifo is a singly-linked FIFO of extension numbers. It is not
// itself concurrency-safe: every call site in this module holds the
// registry lock across use, the same "caller synchronizes" contract
// the original generic FIFO this is adapted from relies on.
type IntFifo struct {
	first *fifoNode
	last  *fifoNode
}

type fifoNode struct {
	next  *fifoNode
	value int
}

func NewIntFifo() *IntFifo {
	return &IntFifo{}
}

func (f *IntFifo) Put(v int) {
	node := &fifoNode{value: v}
	if f.last != nil {
		f.last.next = node
		f.last = node
	} else {
		f.first = node
		f.last = node
	}
}

// Get removes and returns the oldest value put in, and whether the
// FIFO was non-empty.
func (f *IntFifo) Get() (int, bool) {
	node := f.first
	if node == nil {
		return 0, false
	}
	f.first = node.next
	if f.first == nil {
		f.last = nil
	}
	return node.value, true
}

func (f *IntFifo) IsEmpty() bool {
	return f.first == nil
}
