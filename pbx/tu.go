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
	"sync"
	"sync/atomic"

	pbxlog "github.com/sippy/go-pbx/pbx/log"
)

var nextTUId uint64

// TU is one telephone unit: the per-client state machine described in
// spec.md §3/§4.1. Every mutating operation takes tu.lock on entry;
// operations that must mutate a peer too acquire both locks in the
// total order induced by id (lower id first) and release in reverse
// order, per spec.md §4.1/§5.
type TU struct {
	id    uint64
	lock  sync.Mutex
	state State
	ext   int // -1 until set_extension is called
	peer  *TU
	refs  int
	conn  net.Conn
	log   pbxlog.ErrorLogger
}

// NewTU creates a TU in the ON_HOOK state with refcount 0 and no
// extension. It is not yet reachable by any other goroutine, so no
// lock is needed here (matches original_source/src/tu.c's tu_init).
func NewTU(conn net.Conn, log pbxlog.ErrorLogger) *TU {
	return &TU{
		id:    atomic.AddUint64(&nextTUId, 1),
		state: OnHook,
		ext:   -1,
		conn:  conn,
		log:   log,
	}
}

func (tu *TU) Extension() int {
	tu.lock.Lock()
	defer tu.lock.Unlock()
	return tu.ext
}

func (tu *TU) State() State {
	tu.lock.Lock()
	defer tu.lock.Unlock()
	return tu.state
}

// refLocked increments the reference count. Caller must hold tu.lock.
func (tu *TU) refLocked() {
	tu.refs++
}

// derefLocked decrements the reference count. Caller must hold
// tu.lock. Returns true if this decrement brought the count to zero,
// in which case the caller must call destroy() once tu.lock (and any
// peer lock held alongside it) has been released — per spec.md §4.1,
// "the caller must not hold the lock at that moment."
func (tu *TU) derefLocked() bool {
	tu.refs--
	if tu.refs < 0 {
		panic(fmt.Sprintf("tu %d: refcount underflow", tu.id))
	}
	return tu.refs == 0
}

// checkInvariantLocked panics if state and peer presence disagree
// with spec.md §8 invariant 2 (peer ≠ null ⇔ state ∈ {RINGING,
// RING_BACK, CONNECTED}). Caller must hold tu.lock. Called after every
// state/peer mutation that is expected to leave the invariant
// satisfied; a violation here means the locking protocol itself has a
// bug, which spec.md §7 says should abort rather than limp on.
func (tu *TU) checkInvariantLocked() {
	if tu.state.hasPeer() != (tu.peer != nil) {
		panic(fmt.Sprintf("tu %d: state/peer invariant violated: state=%s has_peer=%v", tu.id, tu.state, tu.peer != nil))
	}
}

// destroy releases the resources owned by a TU whose refcount has
// reached zero. Must be called with no lock on tu held.
func (tu *TU) destroy() {
	if tu.conn != nil {
		tu.conn.Close()
	}
}

// closeConn force-closes the underlying connection without touching
// refcount or state. Used by PBX.Shutdown to unblock every session's
// blocked read with an error, driving each session's own orderly
// hangup+unregister.
func (tu *TU) closeConn() {
	tu.lock.Lock()
	conn := tu.conn
	tu.lock.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Ref increments the reference count under tu's own lock. Used by
// callers (the registry) that hold no lock on tu at all.
func (tu *TU) Ref() {
	tu.lock.Lock()
	tu.refLocked()
	tu.lock.Unlock()
}

// Unref decrements the reference count under tu's own lock, and
// destroys tu's resources if it reaches zero. Used by callers (the
// registry) that hold no lock on tu at all.
func (tu *TU) Unref() {
	tu.lock.Lock()
	zero := tu.derefLocked()
	tu.lock.Unlock()
	if zero {
		tu.destroy()
	}
}

// lockOrdered locks a and b in the total order induced by id,
// and returns an unlock function that releases them in reverse order.
// Callers must already hold neither lock.
func lockOrdered(a, b *TU) (unlock func()) {
	if a.id < b.id {
		a.lock.Lock()
		b.lock.Lock()
		return func() { b.lock.Unlock(); a.lock.Unlock() }
	}
	b.lock.Lock()
	a.lock.Lock()
	return func() { a.lock.Unlock(); b.lock.Unlock() }
}

// notify writes the current-state notification line for tu to its
// client. Caller must hold tu.lock.
func (tu *TU) notify() {
	var line string
	switch tu.state {
	case Connected:
		peerExt := -1
		if tu.peer != nil {
			peerExt = tu.peer.ext
		}
		line = fmt.Sprintf("CONNECTED %d\n", peerExt)
	case OnHook:
		line = fmt.Sprintf("ON HOOK %d\n", tu.ext)
	case Ringing:
		line = "RINGING\n"
	case DialTone:
		line = "DIAL TONE\n"
	case RingBack:
		line = "RING BACK\n"
	case BusySignal:
		line = "BUSY SIGNAL\n"
	case Error:
		line = "ERROR\n"
	}
	tu.writeLine(line)
}

// writeLine writes a pre-formatted line to this TU's client. A write
// failure is logged at debug level and returned; it never brings down
// the process. notify and Chat discard that error, so a failed write
// does not change the result of a TU operation.
func (tu *TU) writeLine(line string) error {
	if tu.conn == nil {
		return nil
	}
	_, err := tu.conn.Write([]byte(line))
	if err != nil {
		tu.log.Debug("tu", tu.id, "write failed:", err)
	}
	return err
}

// setExtension sets tu's extension and forces it to ON_HOOK. It is
// called at most once per TU, by the registry during Register, before
// the TU is reachable by anyone but the caller (spec.md §4.1).
func (tu *TU) setExtension(ext int) {
	tu.lock.Lock()
	tu.ext = ext
	tu.state = OnHook
	tu.notify()
	tu.lock.Unlock()
}

// Pickup implements spec.md §4.1 pickup().
func (tu *TU) Pickup() {
	tu.lock.Lock()
	switch tu.state {
	case OnHook:
		tu.state = DialTone
		tu.notify()
		tu.lock.Unlock()
	case Ringing:
		peer := tu.peer
		tu.lock.Unlock()
		unlock := lockOrdered(tu, peer)
		// Re-verify: the peer link may have been torn down in the gap
		// between releasing and re-acquiring tu's lock (spec.md §4.1).
		if tu.state == Ringing && tu.peer == peer && peer.peer == tu {
			tu.state = Connected
			peer.state = Connected
			tu.notify()
			peer.notify()
			tu.checkInvariantLocked()
			peer.checkInvariantLocked()
		} else {
			tu.notify()
		}
		unlock()
	default:
		tu.notify()
		tu.lock.Unlock()
	}
}

// Hangup implements spec.md §4.1 hangup().
func (tu *TU) Hangup() {
	tu.lock.Lock()
	state := tu.state
	switch state {
	case Connected, Ringing:
		peer := tu.peer
		tu.lock.Unlock()
		unlock := lockOrdered(tu, peer)
		var selfZero, peerZero bool
		if tu.state == state && tu.peer == peer && peer.peer == tu {
			tu.state = OnHook
			if state == Connected {
				peer.state = DialTone
			} else {
				peer.state = OnHook
			}
			tu.notify()
			peer.notify()
			tu.peer = nil
			peer.peer = nil
			tu.checkInvariantLocked()
			peer.checkInvariantLocked()
			selfZero = tu.derefLocked()
			peerZero = peer.derefLocked()
		} else {
			tu.notify()
		}
		unlock()
		if selfZero {
			tu.destroy()
		}
		if peerZero {
			peer.destroy()
		}
	case RingBack:
		peer := tu.peer
		tu.lock.Unlock()
		unlock := lockOrdered(tu, peer)
		var selfZero, peerZero bool
		if tu.state == RingBack && tu.peer == peer && peer.peer == tu {
			tu.state = OnHook
			peer.state = OnHook
			tu.notify()
			peer.notify()
			tu.peer = nil
			peer.peer = nil
			tu.checkInvariantLocked()
			peer.checkInvariantLocked()
			selfZero = tu.derefLocked()
			peerZero = peer.derefLocked()
		} else {
			tu.notify()
		}
		unlock()
		if selfZero {
			tu.destroy()
		}
		if peerZero {
			peer.destroy()
		}
	case DialTone, BusySignal, Error:
		tu.state = OnHook
		tu.notify()
		tu.lock.Unlock()
	default: // ON_HOOK
		tu.notify()
		tu.lock.Unlock()
	}
}

// Dial implements spec.md §4.1 dial(). target is resolved by the
// caller (the registry) from an extension number; it is nil if the
// extension was invalid or vacant.
func (tu *TU) Dial(target *TU) {
	tu.lock.Lock()
	if tu.state != DialTone {
		tu.notify()
		tu.lock.Unlock()
		return
	}
	if target == nil {
		tu.state = Error
		tu.notify()
		tu.lock.Unlock()
		return
	}
	if target == tu {
		tu.state = BusySignal
		tu.notify()
		tu.lock.Unlock()
		return
	}
	tu.lock.Unlock()

	// The first inspection above cannot hold two locks in arbitrary
	// order (spec.md §4.1); re-acquire both in the total order now.
	unlock := lockOrdered(tu, target)
	defer unlock()

	// Re-verify preconditions: both tu's and target's state may have
	// moved during the gap since the first inspection.
	if tu.state != DialTone {
		tu.notify()
		return
	}
	if tu.peer != nil || target.state != OnHook || target.peer != nil {
		tu.state = BusySignal
		tu.notify()
		return
	}

	tu.peer = target
	target.peer = tu
	tu.state = RingBack
	target.state = Ringing
	tu.refLocked()
	target.refLocked()
	tu.notify()
	target.notify()
	tu.checkInvariantLocked()
	target.checkInvariantLocked()
}

// Chat implements spec.md §4.1 chat(). Returns false if the TU is not
// CONNECTED (no peer write is performed in that case), true otherwise.
// Every exit path unlocks — the fix for the lock-leak bug called out
// in spec.md §9.
func (tu *TU) Chat(msg string) bool {
	tu.lock.Lock()
	if tu.state != Connected {
		tu.lock.Unlock()
		return false
	}
	peer := tu.peer
	tu.lock.Unlock()

	unlock := lockOrdered(tu, peer)
	defer unlock()

	if tu.state != Connected || tu.peer != peer {
		return false
	}
	peer.writeLine(fmt.Sprintf("CHAT %s\n", msg))
	tu.notify()
	return true
}
