// Package channel implements one message channel: the binding between a
// single transport instance and the market's line protocol. The transport
// (IRC server, onion service, in-process hub, ...) owns the socket and its
// reconnection policy; the channel owns protocol framing on the way out and
// command dispatch on the way in. Channels never talk to the business layer
// about routing; the collection package does that.
package channel

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"pitmesh/pkg/api"
	"pitmesh/pkg/protocol"
)

// Status is the connectivity state of one channel.
type Status int

const (
	StatusNotStarted Status = iota
	StatusConnecting
	StatusConnected
	StatusUnavailable
	StatusShutdown
)

func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "not-started"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusUnavailable:
		return "unavailable"
	case StatusShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Transport is the externally implemented link to one network. The
// implementation owns connection state and reconnects; it reports both
// expected and unexpected disconnections through the hooks it is given
// at Run time.
type Transport interface {
	// Run starts the receive loop and blocks until ctx is done or the
	// transport shuts down. Inbound events are delivered through h.
	Run(ctx context.Context, h Hooks) error
	// Shutdown stops the transport gracefully. In-flight sends are not
	// interrupted.
	Shutdown() error
	SendPublic(text string) error
	SendPrivate(counterparty, text string) error
	SetNick(nick string)
	ChangeNick(nick string) error
}

// Hooks is the inbound event surface a transport drives on its own
// schedule. *Channel implements it.
type Hooks interface {
	OnConnect()
	OnWelcome()
	OnTopic(topic string)
	OnDisconnect()
	OnNickLeave(nick string)
	OnNickChange(newNick string)
	OnPublicMessage(nick, text string)
	OnPrivateMessage(nick, text string)
}

// Handlers are the business callbacks a single channel invokes directly.
// Unset slots default to no-ops. Routing-relevant events (welcome, connect,
// disconnect, nick-leave, nick-change, order-seen) instead flow through
// Triggers to the collection, which decides what reaches the business layer.
type Handlers struct {
	OnTopic            func(topic string)
	OnOrderCancel      func(nick string, oid int)
	OnFidelityBondSeen func(nick, cmd, proof string)
	OnError            func(errmsg string)
	OnPubkey           func(nick, pubkey string)
	OnIoauth           func(nick string, utxos []string, authPub, cjAddr, changeAddr, btcSig string)
	OnSig              func(nick, sig string)
}

func (h *Handlers) normalize() {
	if h.OnTopic == nil {
		h.OnTopic = func(string) {}
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

// Triggers are the collection-facing event slots. The collection binds them
// once at construction; a channel never calls the business layer for these.
type Triggers struct {
	Connect     func(c *Channel)
	Welcome     func(c *Channel)
	Disconnect  func(c *Channel)
	NickLeave   func(nick string, c *Channel)
	NickChange  func(newNick string)
	OrderSeen   func(c *Channel, counterparty string, o protocol.Order)
	PubmsgSeen  func(nick string, c *Channel)
	PrivmsgSeen func(nick string, c *Channel)
}

func (t *Triggers) normalize() {
	if t.Connect == nil {
		t.Connect = func(*Channel) {}
	}
	if t.Welcome == nil {
		t.Welcome = func(*Channel) {}
	}
	if t.Disconnect == nil {
		t.Disconnect = func(*Channel) {}
	}
	if t.NickLeave == nil {
		t.NickLeave = func(string, *Channel) {}
	}
	if t.NickChange == nil {
		t.NickChange = func(string) {}
	}
	if t.OrderSeen == nil {
		t.OrderSeen = func(*Channel, string, protocol.Order) {}
	}
	if t.PubmsgSeen == nil {
		t.PubmsgSeen = func(string, *Channel) {}
	}
	if t.PrivmsgSeen == nil {
		t.PrivmsgSeen = func(string, *Channel) {}
	}
}

// Config assembles one channel's identity and collaborators.
type Config struct {
	// HostID identifies the transport (e.g. "irc.darkscience.net:6697").
	// It is embedded in signing payloads to scope signatures to this
	// channel.
	HostID    string
	Transport Transport
	Scheduler api.Scheduler
	Verifier  api.Verifier
	Keys      api.KeyExchange

	// Inbound public-message budget; zero values mean a permissive
	// default. This is a blunt flood guard in front of command parsing.
	MsgRate  rate.Limit
	MsgBurst int
}

// Channel binds one transport to the protocol dispatcher.
type Channel struct {
	hostid   string
	tr       Transport
	sched    api.Scheduler
	verifier api.Verifier
	keys     api.KeyExchange

	nick     string
	status   atomic.Int32
	limiter  *rate.Limiter
	handlers Handlers
	triggers Triggers
	log      *zap.Logger
}

const (
	defaultMsgRate  rate.Limit = 50
	defaultMsgBurst            = 100
)

// New builds a channel. Triggers and handlers start as no-ops; the
// collection binds them before Run.
func New(cfg Config) *Channel {
	r, b := cfg.MsgRate, cfg.MsgBurst
	if r <= 0 {
		r = defaultMsgRate
	}
	if b <= 0 {
		b = defaultMsgBurst
	}
	c := &Channel{
		hostid:   cfg.HostID,
		tr:       cfg.Transport,
		sched:    cfg.Scheduler,
		verifier: cfg.Verifier,
		keys:     cfg.Keys,
		limiter:  rate.NewLimiter(r, b),
		log:      zap.L().Named("channel").With(zap.String("hostid", cfg.HostID)),
	}
	c.handlers.normalize()
	c.triggers.normalize()
	return c
}

// HostID returns the transport identifier of this channel.
func (c *Channel) HostID() string { return c.hostid }

// Nick returns the nick currently assigned to this channel.
func (c *Channel) Nick() string { return c.nick }

// Status returns the last observed connectivity state.
func (c *Channel) Status() Status { return Status(c.status.Load()) }

func (c *Channel) setStatus(s Status) { c.status.Store(int32(s)) }

// SetHandlers installs the business callbacks invoked directly by this
// channel. Unset slots become no-ops.
func (c *Channel) SetHandlers(h Handlers) {
	h.normalize()
	c.handlers = h
}

// BindTriggers installs the collection-facing event slots.
func (c *Channel) BindTriggers(t Triggers) {
	t.normalize()
	c.triggers = t
}

// SetNick assigns the local nick for this channel.
func (c *Channel) SetNick(nick string) {
	c.nick = nick
	c.tr.SetNick(nick)
}

// ChangeNick asks the transport to switch to a new nick.
func (c *Channel) ChangeNick(nick string) {
	c.nick = nick
	if err := c.tr.ChangeNick(nick); err != nil {
		c.log.Warn("change nick failed", zap.String("nick", nick), zap.Error(err))
	}
}

// Run drives the transport's receive loop until ctx is done.
func (c *Channel) Run(ctx context.Context) error {
	c.setStatus(StatusConnecting)
	return c.tr.Run(ctx, c)
}

// Shutdown stops the transport gracefully.
func (c *Channel) Shutdown() {
	c.setStatus(StatusShutdown)
	if err := c.tr.Shutdown(); err != nil {
		c.log.Warn("shutdown", zap.Error(err))
	}
}

// Pubmsg sends a message to the shared public channel (the pit).
func (c *Channel) Pubmsg(msg string) {
	c.log.Debug("pubmsg out", zap.String("msg", msg))
	if err := c.tr.SendPublic(msg); err != nil {
		c.log.Warn("pubmsg send failed", zap.Error(err))
	}
}

// Privmsg frames and sends one command to a counterparty. message must
// already carry the signature trailer when the protocol requires one.
func (c *Channel) Privmsg(nick, cmd, message string) {
	c.log.Debug("privmsg out",
		zap.String("nick", nick), zap.String("cmd", cmd), zap.String("msg", message))
	if err := c.tr.SendPrivate(nick, protocol.Prefix+cmd+" "+message); err != nil {
		c.log.Warn("privmsg send failed", zap.String("nick", nick), zap.Error(err))
	}
}

// AnnounceOrders publishes pre-rendered orderlines to the pit.
func (c *Channel) AnnounceOrders(orderlines []string) {
	c.Pubmsg(strings.Join(orderlines, ""))
}

// CancelOrders publishes cancellations for the given order ids.
func (c *Channel) CancelOrders(oids []int) {
	var b strings.Builder
	for _, oid := range oids {
		b.WriteString(protocol.Prefix + "cancel " + strconv.Itoa(oid))
	}
	c.Pubmsg(b.String())
}

// RequestOrderbook asks all makers on this channel to announce their offers.
func (c *Channel) RequestOrderbook() {
	c.Pubmsg(protocol.Prefix + "orderbook")
}

// FillOrders sends a fill for each counterparty's chosen order.
func (c *Channel) FillOrders(orders map[string]protocol.Order, cjAmount int64, takerPubkey, commitment string) {
	for nick, o := range orders {
		msg := strconv.Itoa(o.OID) + " " + strconv.FormatInt(cjAmount, 10) +
			" " + takerPubkey + " " + commitment
		c.Privmsg(nick, "fill", msg)
	}
}
