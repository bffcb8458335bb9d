package mem

import (
	"context"
	"testing"
	"time"
)

type event struct {
	kind string
	a, b string
}

type recHooks struct{ events chan event }

func newRecHooks() *recHooks { return &recHooks{events: make(chan event, 64)} }

func (h *recHooks) OnConnect()                     { h.events <- event{kind: "connect"} }
func (h *recHooks) OnWelcome()                     { h.events <- event{kind: "welcome"} }
func (h *recHooks) OnTopic(topic string)           { h.events <- event{kind: "topic", a: topic} }
func (h *recHooks) OnDisconnect()                  { h.events <- event{kind: "disconnect"} }
func (h *recHooks) OnNickLeave(nick string)        { h.events <- event{kind: "leave", a: nick} }
func (h *recHooks) OnNickChange(n string)          { h.events <- event{kind: "nickchange", a: n} }
func (h *recHooks) OnPublicMessage(n, m string)    { h.events <- event{kind: "pub", a: n, b: m} }
func (h *recHooks) OnPrivateMessage(n, m string)   { h.events <- event{kind: "priv", a: n, b: m} }

// waitFor drains events until one of the wanted kind arrives.
func waitFor(t *testing.T, h *recHooks, kind string) event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-h.events:
			if ev.kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", kind)
		}
	}
}

func startMember(t *testing.T, ctx context.Context, hub *Hub, hostid, nick string) (*Transport, *recHooks) {
	t.Helper()
	tr := hub.Transport(hostid)
	tr.SetNick(nick)
	h := newRecHooks()
	go func() { _ = tr.Run(ctx, h) }()
	waitFor(t, h, "welcome")
	return tr, h
}

func TestDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub("testnet")
	alice, _ := startMember(t, ctx, hub, "h-alice", "alice")
	_, bobH := startMember(t, ctx, hub, "h-bob", "bob")

	if err := alice.SendPublic("!orderbook"); err != nil {
		t.Fatalf("SendPublic: %v", err)
	}
	ev := waitFor(t, bobH, "pub")
	if ev.a != "alice" || ev.b != "!orderbook" {
		t.Fatalf("pub delivery: %+v", ev)
	}

	if err := alice.SendPrivate("bob", "!fill 0"); err != nil {
		t.Fatalf("SendPrivate: %v", err)
	}
	ev = waitFor(t, bobH, "priv")
	if ev.a != "alice" || ev.b != "!fill 0" {
		t.Fatalf("priv delivery: %+v", ev)
	}

	if err := alice.SendPrivate("nobody", "hello"); err == nil {
		t.Fatalf("private send to missing nick should error")
	}
}

func TestNickCollision(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub("testnet")
	startMember(t, ctx, hub, "h1", "alice")

	tr2 := hub.Transport("h2")
	tr2.SetNick("alice")
	h2 := newRecHooks()
	go func() { _ = tr2.Run(ctx, h2) }()
	ev := waitFor(t, h2, "nickchange")
	if ev.a != "alice_" {
		t.Fatalf("collision rename: %q", ev.a)
	}
}

func TestLeaveNotification(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub("testnet")
	_, aliceH := startMember(t, ctx, hub, "h-alice", "alice")

	bobCtx, bobCancel := context.WithCancel(ctx)
	_, bobH := startMember(t, bobCtx, hub, "h-bob", "bob")
	bobCancel()

	if ev := waitFor(t, aliceH, "leave"); ev.a != "bob" {
		t.Fatalf("leave notification: %+v", ev)
	}
	waitFor(t, bobH, "disconnect")
}

func TestChangeNick(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub("testnet")
	alice, _ := startMember(t, ctx, hub, "h-alice", "alice")
	_, bobH := startMember(t, ctx, hub, "h-bob", "bob")

	if err := alice.ChangeNick("alice2"); err != nil {
		t.Fatalf("ChangeNick: %v", err)
	}
	if err := alice.SendPublic("hi"); err != nil {
		t.Fatalf("SendPublic: %v", err)
	}
	if ev := waitFor(t, bobH, "pub"); ev.a != "alice2" {
		t.Fatalf("renamed sender: %+v", ev)
	}
	// The old nick is free again.
	if err := alice.ChangeNick("alice"); err != nil {
		t.Fatalf("ChangeNick back: %v", err)
	}
}
