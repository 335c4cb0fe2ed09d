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
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/sippy/go-pbx/pbx/conf"
	"github.com/sippy/go-pbx/pbx/container"
	pbxlog "github.com/sippy/go-pbx/pbx/log"
)

var (
	// ErrRegistryFull is returned by Register when the extension table
	// is at capacity (spec.md §3, MAX_EXTENSIONS).
	ErrRegistryFull = errors.New("pbx: registry is full")
	// ErrNotRegistered is returned by Unregister for a TU that holds
	// no registry slot.
	ErrNotRegistered = errors.New("pbx: tu is not registered")
)

// PBX is the switchboard: spec.md §4.2. entries is a fixed-capacity
// table mapping extension number to TU; registryLock guards entries
// and numEntries together (spec.md §5 permits collapsing the
// registry's two conceptual locks into one, calling their separation
// in the reference source "accidental and not required").
//
// Lock ordering: registryLock is always acquired before any TU lock,
// and released only after every TU lock taken during the same call has
// been released — the same ordering original_source/src/pbx.c uses
// (pbx_mutex held across the whole tu_dial call in pbx_dial). This
// establishes a single consistent global order (registry outer, TU
// inner) and is what makes it safe for Register/Unregister/DialExtension
// to call directly into TU operations without ever releasing
// registryLock first.
type PBX struct {
	registryLock sync.Mutex
	cond         *sync.Cond
	entries      []*TU
	numEntries   int
	freeList     *container.IntFifo
	nextFresh    int
	maxExt       int
	cap          *semaphore.Weighted
	log          pbxlog.ErrorLogger
}

func New(cfg conf.Config) *PBX {
	max := cfg.MaxExtensions()
	p := &PBX{
		entries:  make([]*TU, max),
		freeList: container.NewIntFifo(),
		maxExt:   max,
		cap:      semaphore.NewWeighted(int64(max)),
		log:      cfg.Logger(),
	}
	p.cond = sync.NewCond(&p.registryLock)
	return p
}

// allocExtLocked returns the next extension to hand out, preferring
// the free-list built up from unregistrations (spec.md §3's Open
// Question on extension numbering, resolved in SPEC_FULL.md §3:
// clients are numbered by connection order, matching the literal
// scenarios in spec.md §8). Caller must hold registryLock, and must
// already have reserved capacity via p.cap.
func (p *PBX) allocExtLocked() int {
	if ext, ok := p.freeList.Get(); ok {
		return ext
	}
	if p.nextFresh >= p.maxExt {
		// The capacity semaphore already guarantees a free slot exists;
		// reaching here means numEntries/freeList/nextFresh have gone
		// out of sync with each other, a fatal invariant violation
		// (spec.md §7 prefers abort for these).
		panic("pbx: extension pool exhausted despite reserved capacity")
	}
	ext := p.nextFresh
	p.nextFresh++
	return ext
}

// Register plugs tu into the PBX at the next available extension
// (spec.md §4.2 register()). It sets tu's extension (which forces it
// to ON_HOOK and notifies its client) and takes the PBX's own
// reference on tu.
func (p *PBX) Register(tu *TU) (int, error) {
	if !p.cap.TryAcquire(1) {
		return 0, ErrRegistryFull
	}
	p.registryLock.Lock()
	ext := p.allocExtLocked()
	p.entries[ext] = tu
	tu.setExtension(ext)
	p.numEntries++
	tu.Ref()
	p.registryLock.Unlock()
	return ext, nil
}

// Unregister unplugs tu from the PBX (spec.md §4.2 unregister()). It
// does not itself drive tu to ON_HOOK — the caller (the session) is
// expected to have already called Hangup.
func (p *PBX) Unregister(tu *TU) error {
	ext := tu.Extension()
	p.registryLock.Lock()
	if ext < 0 || ext >= p.maxExt || p.entries[ext] != tu {
		p.registryLock.Unlock()
		return ErrNotRegistered
	}
	p.entries[ext] = nil
	p.numEntries--
	p.freeList.Put(ext)
	p.cond.Broadcast()
	p.registryLock.Unlock()
	p.cap.Release(1)
	tu.Unref()
	return nil
}

// DialExtension resolves ext to a registered TU (or nil, if out of
// range or vacant) and delegates to TU.Dial, per spec.md §4.2
// dial_ext(). registryLock is held for the whole delegated call, so
// the resolved target cannot be concurrently unregistered mid-dial —
// the same guarantee original_source/src/pbx.c's pbx_dial gives by
// holding pbx_mutex across the entire tu_dial call.
func (p *PBX) DialExtension(tu *TU, ext int) {
	p.registryLock.Lock()
	defer p.registryLock.Unlock()
	var target *TU
	if ext >= 0 && ext < p.maxExt {
		target = p.entries[ext]
	}
	tu.Dial(target)
}

// NumRegistered reports the current occupancy of the extension table.
func (p *PBX) NumRegistered() int {
	p.registryLock.Lock()
	defer p.registryLock.Unlock()
	return p.numEntries
}

// Shutdown implements spec.md §4.2 shutdown(): every registered TU's
// socket is closed (unblocking its session's read, which will observe
// EOF and drive an orderly hangup+unregister), and Shutdown then waits
// for every session to drain before returning. If ctx is done first,
// Shutdown stops waiting and returns ctx.Err().
func (p *PBX) Shutdown(ctx context.Context) error {
	// Wake the drain wait below when ctx is done, so its deadline is
	// observed even if no further session unregisters.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			p.registryLock.Lock()
			p.cond.Broadcast()
			p.registryLock.Unlock()
		case <-stop:
		}
	}()

	p.registryLock.Lock()
	for _, tu := range p.entries {
		if tu != nil {
			tu.closeConn()
		}
	}
	for p.numEntries > 0 {
		if ctx.Err() != nil {
			p.registryLock.Unlock()
			return ctx.Err()
		}
		p.cond.Wait()
	}
	p.registryLock.Unlock()
	return nil
}
