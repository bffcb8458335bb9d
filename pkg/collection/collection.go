// Package collection multiplexes a fixed set of message channels. Public
// messages broadcast over every available channel; private conversations are
// pinned to the channel they started on and re-routed when that channel
// drops a counterparty or dies entirely. The pin for a counterparty is only
// ever a currently-available channel.
package collection

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"pitmesh/pkg/api"
	"pitmesh/pkg/channel"
	"pitmesh/pkg/protocol"
)

// Handlers is the full business callback surface. Every slot is optional;
// unset slots default to no-ops. Welcome, disconnect, nick-leave and
// nick-change are aggregated here across all channels; the remaining slots
// are distributed to the individual channels.
type Handlers struct {
	// OnWelcome fires exactly once, when every channel has reported in or
	// the readiness grace period expired, whichever comes first.
	OnWelcome func()
	OnTopic   func(topic string)
	// OnConnect fires each time a channel (re)connects.
	OnConnect func()
	// OnDisconnect fires only when no channel is left available.
	OnDisconnect func()
	// OnNickLeave fires when a counterparty is gone from every channel we
	// could still reach it on.
	OnNickLeave        func(nick string)
	OnNickChange       func(newNick string)
	OnOrderSeen        func(counterparty string, o protocol.Order)
	OnOrderCancel      func(nick string, oid int)
	OnFidelityBondSeen func(nick, cmd, proof string)
	OnError            func(errmsg string)
	OnPubkey           func(nick, pubkey string)
	OnIoauth           func(nick string, utxos []string, authPub, cjAddr, changeAddr, btcSig string)
	OnSig              func(nick, sig string)
}

func (h *Handlers) normalize() {
	if h.OnWelcome == nil {
		h.OnWelcome = func() {}
	}
	if h.OnTopic == nil {
		h.OnTopic = func(string) {}
	}
	if h.OnConnect == nil {
		h.OnConnect = func() {}
	}
	if h.OnDisconnect == nil {
		h.OnDisconnect = func() {}
	}
	if h.OnNickLeave == nil {
		h.OnNickLeave = func(string) {}
	}
	if h.OnNickChange == nil {
		h.OnNickChange = func(string) {}
	}
	if h.OnOrderSeen == nil {
		h.OnOrderSeen = func(string, protocol.Order) {}
	}
	if h.OnOrderCancel == nil {
		h.OnOrderCancel = func(string, int) {}
	}
	if h.OnFidelityBondSeen == nil {
		h.OnFidelityBondSeen = func(string, string, string) {}
	}
	if h.OnError == nil {
		h.OnError = func(string) {}
	}
	if h.OnPubkey == nil {
		h.OnPubkey = func(string, string) {}
	}
	if h.OnIoauth == nil {
		h.OnIoauth = func(string, []string, string, string, string, string) {}
	}
	if h.OnSig == nil {
		h.OnSig = func(string, string) {}
	}
}

// Config assembles the collection's channel set and collaborators.
type Config struct {
	Channels  []*channel.Channel
	Scheduler api.Scheduler
	Signer    api.Signer
	Keys      api.KeyExchange

	// WelcomeGrace bounds how long we wait for stragglers once the first
	// channel is ready. Zero means the 60 s default.
	WelcomeGrace time.Duration
}

const defaultWelcomeGrace = 60 * time.Second

// Collection owns the channel set. The set is fixed at construction; adding
// channels to a running collection is not supported.
type Collection struct {
	channels []*channel.Channel
	sched    api.Scheduler
	signer   api.Signer
	keys     api.KeyExchange
	grace    time.Duration

	// mu guards the pin map, the per-channel seen-sets, the status map and
	// the welcome-aggregation state. Triggers fire concurrently from the
	// channels' receive loops. Business handlers are always invoked with
	// mu released.
	mu           sync.Mutex
	active       map[string]*channel.Channel
	status       map[*channel.Channel]channel.Status
	seen         map[*channel.Channel]map[string]struct{}
	welcomeTimer api.Handle

	welcomed atomic.Bool
	giveUp   atomic.Bool
	nick     string

	handlers Handlers
	log      *zap.Logger
}

// New builds a collection over a fixed channel set and binds itself to each
// channel's trigger slots.
func New(cfg Config) *Collection {
	grace := cfg.WelcomeGrace
	if grace <= 0 {
		grace = defaultWelcomeGrace
	}
	c := &Collection{
		channels: cfg.Channels,
		sched:    cfg.Scheduler,
		signer:   cfg.Signer,
		keys:     cfg.Keys,
		grace:    grace,
		active:   make(map[string]*channel.Channel),
		status:   make(map[*channel.Channel]channel.Status),
		seen:     make(map[*channel.Channel]map[string]struct{}),
		log:      zap.L().Named("collection"),
	}
	c.handlers.normalize()
	for _, mc := range c.channels {
		c.status[mc] = channel.StatusNotStarted
		c.seen[mc] = make(map[string]struct{})
		c.BindTriggers(mc)
	}
	return c
}

// BindTriggers wires one channel's event slots into this collection.
func (c *Collection) BindTriggers(mc *channel.Channel) {
	mc.BindTriggers(channel.Triggers{
		Connect:     c.onConnect,
		Welcome:     c.onWelcome,
		Disconnect:  c.onDisconnect,
		NickLeave:   c.onNickLeave,
		NickChange:  c.onNickChange,
		OrderSeen:   c.onOrderSeen,
		PubmsgSeen:  c.onPubmsgSeen,
		PrivmsgSeen: c.onPrivmsgSeen,
	})
}

// SetHandlers installs the business callbacks, distributing the per-channel
// slots down to each channel. Call once at setup, before Run.
func (c *Collection) SetHandlers(h Handlers) {
	h.normalize()
	c.handlers = h
	for _, mc := range c.channels {
		mc.SetHandlers(channel.Handlers{
			OnTopic:            h.OnTopic,
			OnOrderCancel:      h.OnOrderCancel,
			OnFidelityBondSeen: h.OnFidelityBondSeen,
			OnError:            h.OnError,
			OnPubkey:           h.OnPubkey,
			OnIoauth:           h.OnIoauth,
			OnSig:              h.OnSig,
		})
	}
}

// SetNick assigns the local nick across all channels.
func (c *Collection) SetNick(nick string) {
	if nick == c.nick {
		return
	}
	c.nick = nick
	for _, mc := range c.channels {
		mc.SetNick(nick)
	}
}

// Nick returns the currently assigned local nick.
func (c *Collection) Nick() string { return c.nick }

// Welcomed reports whether the aggregated ready event has fired.
func (c *Collection) Welcomed() bool { return c.welcomed.Load() }

// Run starts every channel's receive loop. Each loop runs concurrently;
// the call itself returns immediately.
func (c *Collection) Run(ctx context.Context) {
	for _, mc := range c.channels {
		go func(mc *channel.Channel) {
			if err := mc.Run(ctx); err != nil {
				c.log.Warn("channel run ended", zap.String("hostid", mc.HostID()), zap.Error(err))
			}
		}(mc)
	}
}

// Shutdown cooperatively stops every channel and marks the collection as
// deliberately closing, which suppresses failover churn from the resulting
// disconnect events.
func (c *Collection) Shutdown() {
	c.giveUp.Store(true)
	for _, mc := range c.channels {
		mc.Shutdown()
	}
}

// AvailableChannels returns the channels currently marked connected.
func (c *Collection) AvailableChannels() []*channel.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.availableLocked()
}

// UnavailableChannels returns the channels not currently connected,
// including ones that never started.
func (c *Collection) UnavailableChannels() []*channel.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unavailableLocked()
}

func (c *Collection) availableLocked() []*channel.Channel {
	var out []*channel.Channel
	for _, mc := range c.channels {
		if c.status[mc] == channel.StatusConnected {
			out = append(out, mc)
		}
	}
	return out
}

func (c *Collection) unavailableLocked() []*channel.Channel {
	var out []*channel.Channel
	for _, mc := range c.channels {
		if c.status[mc] != channel.StatusConnected {
			out = append(out, mc)
		}
	}
	return out
}

// ActiveChannel returns the channel a counterparty is pinned to, if any.
func (c *Collection) ActiveChannel(nick string) (*channel.Channel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mc, ok := c.active[nick]
	return mc, ok
}

// Pubmsg broadcasts a message to the pit on every available channel.
func (c *Collection) Pubmsg(msg string) {
	c.log.Debug("pubmsg broadcast", zap.String("msg", msg))
	for _, mc := range c.AvailableChannels() {
		mc.Pubmsg(msg)
	}
}

// CancelOrders broadcasts cancellations on every available channel. Whether
// a cancel heard on one channel should be mirrored to the others is an
// unresolved protocol question; we deliberately do no reconciliation here.
func (c *Collection) CancelOrders(oids []int) {
	for _, mc := range c.AvailableChannels() {
		mc.CancelOrders(oids)
	}
}

// RequestOrderbook broadcasts an orderbook request on every available channel.
func (c *Collection) RequestOrderbook() {
	for _, mc := range c.AvailableChannels() {
		mc.RequestOrderbook()
	}
}
