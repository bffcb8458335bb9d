package collection

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"pitmesh/pkg/channel"
	"pitmesh/pkg/crypto/boxes"
	"pitmesh/pkg/protocol"
	"pitmesh/pkg/scheduler"
	"pitmesh/pkg/transport/mem"
)

// node is one full messaging stack for the end-to-end test: a single channel
// on the shared hub, the collection over it, and real crypto.
type node struct {
	coll *Collection
	ring *boxes.Ring

	ready  chan struct{}
	orders chan protocol.Order
	errs   chan string
	sigs   chan string
}

func startNode(t *testing.T, ctx context.Context, hub *mem.Hub, nick string) *node {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	n := &node{
		ring:   boxes.NewRing(),
		ready:  make(chan struct{}),
		orders: make(chan protocol.Order, 16),
		errs:   make(chan string, 16),
		sigs:   make(chan string, 16),
	}
	sched := scheduler.New()
	auth := boxes.NewAuthority(priv)
	ch := channel.New(channel.Config{
		HostID:    "net-1",
		Transport: hub.Transport("net-1/" + nick),
		Scheduler: sched,
		Verifier:  auth,
		Keys:      n.ring,
	})
	n.coll = New(Config{
		Channels:  []*channel.Channel{ch},
		Scheduler: sched,
		Signer:    auth,
		Keys:      n.ring,
	})
	auth.Bind(
		func(counterparty, cmd, message, hostid string) {
			n.coll.Privmsg(counterparty, cmd, message, hostid)
		},
		n.coll.OnVerifiedPrivmsg,
	)
	n.coll.SetHandlers(Handlers{
		OnWelcome:   func() { close(n.ready) },
		OnOrderSeen: func(_ string, o protocol.Order) { n.orders <- o },
		OnError:     func(e string) { n.errs <- e },
		OnSig:       func(_, s string) { n.sigs <- s },
	})
	n.coll.SetNick(nick)
	n.coll.Run(ctx)
	select {
	case <-n.ready:
	case <-time.After(2 * time.Second):
		t.Fatalf("node %s never became ready", nick)
	}
	return n
}

func TestEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := mem.NewHub("e2e")
	alice := startNode(t, ctx, hub, "alice")
	bob := startNode(t, ctx, hub, "bob")

	// Established NaCl sessions between the two.
	pubA, privA, err := boxes.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	pubB, privB, err := boxes.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	alice.ring.Put("bob", boxes.NewBox(privA, pubB))
	bob.ring.Put("alice", boxes.NewBox(privB, pubA))

	// Bob announces an offer; alice hears it and pins bob.
	bob.coll.AnnounceOrders([]protocol.Order{
		{OID: 0, OrderType: "sw0absoffer", MinSize: 1000, MaxSize: 100000, TxFee: 10, CJFee: "500"},
	}, "", "", nil)
	select {
	case o := <-alice.orders:
		if o.OrderType != "sw0absoffer" || o.MaxSize != 100000 {
			t.Fatalf("order mismatch: %+v", o)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("alice never saw bob's offer")
	}
	if !waitPinned(alice.coll, "bob") {
		t.Fatalf("alice should have pinned bob")
	}

	// Alice sends a signed plaintext error; bob verifies and dispatches it.
	alice.coll.SendError("bob", "no thanks")
	select {
	case e := <-bob.errs:
		if e != "no thanks" {
			t.Fatalf("error body: %q", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("bob never received the signed error")
	}

	// An encrypted command survives the full sign-encrypt-verify-decrypt trip.
	if !ensureSeen(bob.coll, "alice") {
		t.Fatalf("bob should have seen alice from her signed privmsg")
	}
	bob.coll.PreparePrivmsg("alice", "sig", "30450221...", nil)
	select {
	case s := <-alice.sigs:
		if s != "30450221..." {
			t.Fatalf("sig body: %q", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("alice never received the encrypted sig")
	}
}

func waitPinned(c *Collection, nick string) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := c.ActiveChannel(nick); ok {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

// ensureSeen waits until the counterparty shows up in some seen-set, so a
// routed send from this side will find a route.
func ensureSeen(c *Collection, nick string) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		for _, set := range c.seen {
			if _, ok := set[nick]; ok {
				c.mu.Unlock()
				return true
			}
		}
		c.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	return false
}
