package collection

import (
	"encoding/base64"
	"strings"

	"go.uber.org/zap"

	"pitmesh/pkg/channel"
	"pitmesh/pkg/protocol"
)

// ChannelRef selects the channel for an explicitly routed send. Two identity
// spaces are accepted and normalized by lookup against the available set: a
// *channel.Channel handle, or a transport hostid string. A nil ref means
// "use the counterparty's pinned channel". Callers that hold a stale handle
// for a channel that went down are matched by hostid as a second chance.
type ChannelRef = any

// resolveRef normalizes ref to exactly one available channel. A failed
// resolution is logged and reported, never raised: a channel can go down
// moments before a send and the caller's workflow must survive that.
func (c *Collection) resolveRef(ref ChannelRef) (*channel.Channel, bool) {
	avail := c.AvailableChannels()
	var hostid string
	switch v := ref.(type) {
	case *channel.Channel:
		for _, mc := range avail {
			if mc == v {
				return mc, true
			}
		}
		hostid = v.HostID()
	case string:
		hostid = v
	default:
		c.log.Error("unusable channel reference", zap.Any("ref", ref))
		return nil, false
	}
	var matches []*channel.Channel
	for _, mc := range avail {
		if mc.HostID() == hostid {
			matches = append(matches, mc)
		}
	}
	if len(matches) != 1 {
		c.log.Error("tried to communicate on this message channel but failed",
			zap.String("hostid", hostid), zap.Int("matches", len(matches)))
		return nil, false
	}
	return matches[0], true
}

// ensureRoute guarantees the counterparty has a pinned, available channel
// before a routed send, re-pinning from the seen-sets when needed. If the
// counterparty has never been seen on any available channel the send is
// abandoned: failure to send can sink one transaction, but must not sink
// the bot, so the caller's larger workflow just times out.
func (c *Collection) ensureRoute(nick string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.active[nick]; ok {
		return true
	}
	for _, mc := range c.availableLocked() {
		if _, ok := c.seen[mc][nick]; ok {
			c.log.Debug("dynamic switch nick", zap.String("nick", nick), zap.String("hostid", mc.HostID()))
			c.active[nick] = mc
			return true
		}
	}
	c.log.Warn("couldn't find a route to send privmsg", zap.String("nick", nick))
	return false
}

// Privmsg sends an already-framed message to one counterparty, over the
// given channel ref or the pinned channel when ref is nil. No signing
// happens here; authenticated sends go through PreparePrivmsg.
func (c *Collection) Privmsg(nick, cmd, message string, via ChannelRef) {
	if via != nil {
		mc, ok := c.resolveRef(via)
		if !ok {
			return
		}
		mc.Privmsg(nick, cmd, message)
		return
	}
	mc, ok := c.ActiveChannel(nick)
	if !ok {
		c.log.Info("failed to send message, nick not found on any channel", zap.String("nick", nick))
		return
	}
	mc.Privmsg(nick, cmd, message)
}

// PreparePrivmsg encrypts (when the command calls for it) and hands the
// message to the signer. The chosen channel's hostid is appended to the
// signing payload so a snooper cannot replay the signed message on another
// channel; replay on the same channel remains the verifier nonce's problem,
// not ours.
func (c *Collection) PreparePrivmsg(nick, cmd, message string, via ChannelRef) {
	if !c.ensureRoute(nick) {
		return
	}
	if !protocol.IsPlaintextCmd(cmd) {
		key, ok := c.keys.SessionKeyFor(nick)
		if !ok {
			c.log.Debug("no session key, dropping message",
				zap.String("nick", nick), zap.String("cmd", cmd))
			return
		}
		wiretext, err := key.Encrypt([]byte(message))
		if err != nil {
			c.log.Debug("encrypt failed, dropping message",
				zap.String("nick", nick), zap.String("cmd", cmd), zap.Error(err))
			return
		}
		message = wiretext
	}

	var hostid string
	switch v := via.(type) {
	case nil:
		mc, ok := c.ActiveChannel(nick)
		if !ok {
			c.log.Info("failed to send message, nick not found on any channel", zap.String("nick", nick))
			return
		}
		hostid = mc.HostID()
	case *channel.Channel:
		hostid = v.HostID()
	case string:
		hostid = v
	default:
		c.log.Error("unusable channel reference", zap.Any("ref", via))
		return
	}

	payload := message + hostid
	msg := message
	c.sched.After(0, func() {
		c.signer.RequestSignedMessage(nick, cmd, msg, payload, hostid)
	})
}

// SendError reports a protocol error to a counterparty as a signed privmsg.
func (c *Collection) SendError(nick, errmsg string) {
	if !c.ensureRoute(nick) {
		return
	}
	c.log.Info("sending error", zap.String("nick", nick), zap.String("error", errmsg))
	c.PreparePrivmsg(nick, "error", errmsg, nil)
}

// PushTX asks one counterparty to broadcast the transaction.
func (c *Collection) PushTX(nick string, tx []byte) {
	if !c.ensureRoute(nick) {
		return
	}
	c.PreparePrivmsg(nick, "push", base64.StdEncoding.EncodeToString(tx), nil)
}

// SendTX pushes the transaction to the listed counterparties, grouped by
// the channel each one is pinned to. A counterparty with no pin aborts the
// whole send; the transaction can be recreated, the bot keeps running.
func (c *Collection) SendTX(nicks []string, tx []byte) {
	groups := make(map[*channel.Channel][]string)
	c.mu.Lock()
	for _, nick := range nicks {
		mc, ok := c.active[nick]
		if !ok {
			c.mu.Unlock()
			c.log.Info("cannot send transaction to nick, not active", zap.String("nick", nick))
			return
		}
		groups[mc] = append(groups[mc], nick)
	}
	c.mu.Unlock()
	txb64 := base64.StdEncoding.EncodeToString(tx)
	for mc, group := range groups {
		for _, nick := range group {
			c.PreparePrivmsg(nick, "tx", txb64, mc)
		}
	}
}

// AnnounceOrders publishes the orders either to the pit on every available
// channel (nick empty), or privately to one counterparty. A fidelity bond
// proof may only ride along on the private form.
func (c *Collection) AnnounceOrders(orders []protocol.Order, nick, fidelityBondProof string, via ChannelRef) {
	if len(orders) == 0 {
		return
	}
	orderlines := make([]string, len(orders))
	for i, o := range orders {
		orderlines[i] = protocol.Orderline(o)
	}

	var mc *channel.Channel
	if via != nil {
		var ok bool
		if mc, ok = c.resolveRef(via); !ok {
			c.log.Info("tried to announce orders on an unavailable message channel")
			return
		}
	}
	if nick == "" {
		if fidelityBondProof != "" {
			c.log.Warn("fidelity bond proof requires a private announcement, ignoring")
		}
		for _, ac := range c.AvailableChannels() {
			ac.AnnounceOrders(orderlines)
		}
		return
	}

	// Private announcement: the first orderline's command becomes the
	// privmsg command, everything after it is the message body.
	cmd := orders[0].OrderType
	msg := strings.TrimPrefix(orderlines[0], protocol.Prefix+cmd+" ") +
		strings.Join(orderlines[1:], "")
	if fidelityBondProof != "" {
		msg += protocol.Prefix + protocol.FidelityBondCmd + " " + fidelityBondProof
	}
	if mc != nil {
		c.PreparePrivmsg(nick, cmd, msg, mc)
		return
	}
	c.mu.Lock()
	var targets []*channel.Channel
	for _, ac := range c.availableLocked() {
		if _, ok := c.seen[ac][nick]; ok {
			targets = append(targets, ac)
		}
	}
	c.mu.Unlock()
	for _, ac := range targets {
		c.PreparePrivmsg(nick, cmd, msg, ac)
	}
}

// FillOrders sends fills to each counterparty over the channel it is pinned
// to. The business layer knows nothing about channels, so the pin recorded
// at order-seen time decides the grouping here.
func (c *Collection) FillOrders(orders map[string]protocol.Order, cjAmount int64, takerPubkey, commitment string) {
	for _, mc := range c.AvailableChannels() {
		filtered := make(map[string]protocol.Order)
		c.mu.Lock()
		for nick, o := range orders {
			if c.active[nick] == mc {
				filtered[nick] = o
			}
		}
		c.mu.Unlock()
		if len(filtered) > 0 {
			mc.FillOrders(filtered, cjAmount, takerPubkey, commitment)
		}
	}
}
