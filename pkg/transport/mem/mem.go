// Package mem is an in-process transport: a hub standing in for one relay
// network, with a shared pit and direct messages between members. Useful for
// tests and as a stand-in transport in the demo binary; real deployments
// implement channel.Transport over their network of choice.
package mem

import (
	"context"
	"errors"
	"sync"

	"pitmesh/pkg/channel"
)

// Hub is one simulated network. Every member sees the pit; private messages
// go member to member. Delivery to each member preserves send order, like a
// single server connection would.
type Hub struct {
	name    string
	mu      sync.Mutex
	members map[string]*Transport
}

func NewHub(name string) *Hub {
	return &Hub{name: name, members: make(map[string]*Transport)}
}

// Transport creates a new, not yet running member link on this hub.
func (h *Hub) Transport(hostid string) *Transport {
	return &Transport{
		hub:    h,
		hostid: hostid,
		inbox:  make(chan func(channel.Hooks), 64),
		done:   make(chan struct{}),
	}
}

func (h *Hub) join(t *Transport) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	nick := t.nick
	for {
		if _, taken := h.members[nick]; !taken {
			break
		}
		nick += "_"
	}
	h.members[nick] = t
	return nick
}

func (h *Hub) leave(t *Transport, nick string) {
	h.mu.Lock()
	if h.members[nick] == t {
		delete(h.members, nick)
	}
	others := h.snapshotLocked(t)
	h.mu.Unlock()
	for _, o := range others {
		o.post(func(hk channel.Hooks) { hk.OnNickLeave(nick) })
	}
}

func (h *Hub) rename(t *Transport, oldNick, newNick string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, taken := h.members[newNick]; taken {
		return errors.New("mem: nick already taken")
	}
	if h.members[oldNick] == t {
		delete(h.members, oldNick)
	}
	h.members[newNick] = t
	return nil
}

func (h *Hub) snapshotLocked(except *Transport) []*Transport {
	out := make([]*Transport, 0, len(h.members))
	for _, m := range h.members {
		if m != except {
			out = append(out, m)
		}
	}
	return out
}

// Transport is one member's link to the hub. It implements channel.Transport.
type Transport struct {
	hub    *Hub
	hostid string

	mu    sync.Mutex
	nick  string
	hooks channel.Hooks

	inbox    chan func(hk channel.Hooks)
	done     chan struct{}
	shutdown sync.Once
}

func (t *Transport) SetNick(nick string) {
	t.mu.Lock()
	t.nick = nick
	t.mu.Unlock()
}

func (t *Transport) ChangeNick(nick string) error {
	t.mu.Lock()
	old := t.nick
	t.mu.Unlock()
	if err := t.hub.rename(t, old, nick); err != nil {
		return err
	}
	t.SetNick(nick)
	return nil
}

// Run joins the hub and pumps inbound events in arrival order until ctx is
// done or Shutdown is called. A nick collision on join is resolved by the
// hub and reported through the nick-change hook, like a real server would.
func (t *Transport) Run(ctx context.Context, h channel.Hooks) error {
	t.mu.Lock()
	t.hooks = h
	t.mu.Unlock()

	assigned := t.hub.join(t)
	t.mu.Lock()
	requested := t.nick
	t.nick = assigned
	t.mu.Unlock()

	h.OnConnect()
	h.OnTopic("pitmesh in-memory hub: " + t.hub.name)
	h.OnWelcome()
	if assigned != requested {
		h.OnNickChange(assigned)
	}

	defer func() {
		t.hub.leave(t, t.currentNick())
		h.OnDisconnect()
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.done:
			return nil
		case fn := <-t.inbox:
			fn(h)
		}
	}
}

func (t *Transport) Shutdown() error {
	t.shutdown.Do(func() { close(t.done) })
	return nil
}

func (t *Transport) SendPublic(text string) error {
	from := t.currentNick()
	t.hub.mu.Lock()
	others := t.hub.snapshotLocked(t)
	t.hub.mu.Unlock()
	for _, o := range others {
		o.post(func(hk channel.Hooks) { hk.OnPublicMessage(from, text) })
	}
	return nil
}

func (t *Transport) SendPrivate(counterparty, text string) error {
	from := t.currentNick()
	t.hub.mu.Lock()
	to, ok := t.hub.members[counterparty]
	t.hub.mu.Unlock()
	if !ok {
		return errors.New("mem: no such nick: " + counterparty)
	}
	to.post(func(hk channel.Hooks) { hk.OnPrivateMessage(from, text) })
	return nil
}

func (t *Transport) currentNick() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nick
}

// post enqueues an inbound event for the member's Run loop. A member that
// stopped draining is skipped rather than blocked on.
func (t *Transport) post(fn func(hk channel.Hooks)) {
	select {
	case t.inbox <- fn:
	case <-t.done:
	}
}
