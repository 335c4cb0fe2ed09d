package pbx

import (
	"context"
	"testing"
	"time"

	"github.com/sippy/go-pbx/pbx/conf"
	pbxlog "github.com/sippy/go-pbx/pbx/log"
)

func testConfig(maxExt int) conf.Config {
	logger := pbxlog.New("TEST", false)
	cfg := conf.New(3000, logger)
	if maxExt == conf.MaxExtensions {
		return cfg
	}
	// Exercise a capacity other than the default by building a
	// scoped-down Config for the overflow test below.
	return &testSmallConfig{Config: cfg, max: maxExt}
}

type testSmallConfig struct {
	conf.Config
	max int
}

func (c *testSmallConfig) MaxExtensions() int { return c.max }

func TestRegisterAssignsSequentialExtensions(t *testing.T) {
	p := New(testConfig(conf.MaxExtensions))
	a, _ := newTestClient(t)
	b, _ := newTestClient(t)

	extA, err := p.Register(a)
	if err != nil || extA != 0 {
		t.Fatalf("register a: ext=%d err=%v", extA, err)
	}
	extB, err := p.Register(b)
	if err != nil || extB != 1 {
		t.Fatalf("register b: ext=%d err=%v", extB, err)
	}
	if p.NumRegistered() != 2 {
		t.Fatalf("num registered = %d, want 2", p.NumRegistered())
	}
}

func TestUnregisterFreesExtensionForReuse(t *testing.T) {
	p := New(testConfig(conf.MaxExtensions))
	a := NewTU(nil, pbxlog.New("T", false))
	b := NewTU(nil, pbxlog.New("T", false))

	extA, _ := p.Register(a)
	if err := p.Unregister(a); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if p.NumRegistered() != 0 {
		t.Fatalf("num registered = %d, want 0", p.NumRegistered())
	}
	extB, _ := p.Register(b)
	if extB != extA {
		t.Fatalf("freed extension %d was not reused, got %d", extA, extB)
	}
}

func TestRegisterFailsWhenFull(t *testing.T) {
	p := New(testConfig(1))
	a := NewTU(nil, pbxlog.New("T", false))
	b := NewTU(nil, pbxlog.New("T", false))

	if _, err := p.Register(a); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if _, err := p.Register(b); err != ErrRegistryFull {
		t.Fatalf("register b: got %v, want ErrRegistryFull", err)
	}
}

func TestUnregisterUnknownTUFails(t *testing.T) {
	p := New(testConfig(conf.MaxExtensions))
	a := NewTU(nil, pbxlog.New("T", false))
	if err := p.Unregister(a); err != ErrNotRegistered {
		t.Fatalf("got %v, want ErrNotRegistered", err)
	}
}

func TestDialExtensionResolvesRegisteredTarget(t *testing.T) {
	p := New(testConfig(conf.MaxExtensions))
	a, ca := newTestClient(t)
	b, cb := newTestClient(t)
	p.Register(a)
	p.Register(b)
	ca.next(t) // ON HOOK 0, from registration
	cb.next(t) // ON HOOK 1, from registration

	a.Pickup()
	ca.next(t) // DIAL TONE

	p.DialExtension(a, b.Extension())
	if got := ca.next(t); got != "RING BACK\n" {
		t.Fatalf("a: got %q", got)
	}
	if got := cb.next(t); got != "RINGING\n" {
		t.Fatalf("b: got %q", got)
	}
}

func TestDialExtensionOutOfRangeIsNullTarget(t *testing.T) {
	p := New(testConfig(conf.MaxExtensions))
	a, ca := newTestClient(t)
	p.Register(a)
	ca.next(t) // ON HOOK 0, from registration
	a.Pickup()
	ca.next(t) // DIAL TONE

	p.DialExtension(a, conf.MaxExtensions)
	if got := ca.next(t); got != "ERROR\n" {
		t.Fatalf("got %q, want ERROR", got)
	}
}

func TestShutdownDrainsAllSessions(t *testing.T) {
	p := New(testConfig(conf.MaxExtensions))
	a, _ := newTestClient(t)
	p.Register(a)

	done := make(chan struct{})
	go func() {
		// Stand-in for a session loop: block on a read until Shutdown
		// closes the socket, then unregister, mirroring spec.md §4.3's
		// EOF-to-hangup-to-unregister sequence.
		buf := make([]byte, 1)
		a.conn.Read(buf)
		a.Hangup()
		p.Unregister(a)
		close(done)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session goroutine did not observe shutdown")
	}
	if p.NumRegistered() != 0 {
		t.Fatalf("num registered after shutdown = %d", p.NumRegistered())
	}
}
