package collection

import (
	"go.uber.org/zap"

	"pitmesh/pkg/channel"
	"pitmesh/pkg/protocol"
)

// onConnect marks the channel as (re)connected.
func (c *Collection) onConnect(mc *channel.Channel) {
	c.mu.Lock()
	c.status[mc] = channel.StatusConnected
	c.mu.Unlock()
	c.handlers.OnConnect()
}

// onDisconnect marks the channel unavailable, flushes its peer state and
// re-pins its counterparties elsewhere. Only when no channel at all is left
// does the business layer hear about it.
func (c *Collection) onDisconnect(mc *channel.Channel) {
	c.mu.Lock()
	c.status[mc] = channel.StatusUnavailable
	c.flushNicksLocked()
	anyUp := len(c.availableLocked()) > 0
	c.mu.Unlock()
	c.log.Debug("channel disconnected", zap.String("hostid", mc.HostID()))
	if c.giveUp.Load() {
		return
	}
	if !anyUp {
		c.handlers.OnDisconnect()
	}
}

// flushNicksLocked wipes the seen-set of every unavailable channel and
// migrates its pins. A counterparty seen on another live channel is re-pinned
// there; otherwise the pin is dropped and future sightings must rebuild it.
// Callers hold c.mu.
func (c *Collection) flushNicksLocked() {
	for _, mc := range c.unavailableLocked() {
		c.seen[mc] = make(map[string]struct{})
		for nick, pinned := range c.active {
			if pinned != mc {
				continue
			}
			repinned := false
			for _, mc2 := range c.availableLocked() {
				if _, ok := c.seen[mc2][nick]; ok {
					c.log.Debug("dynamically switching",
						zap.String("nick", nick), zap.String("hostid", mc2.HostID()))
					c.active[nick] = mc2
					repinned = true
					break
				}
			}
			if !repinned {
				delete(c.active, nick)
			}
		}
	}
}

// onWelcome records a successful login on one channel and aggregates
// startup readiness. The aggregated ready event fires at most once per
// process: either when every channel has reached a non-initial status, or
// when the grace timer set at first readiness runs out.
func (c *Collection) onWelcome(mc *channel.Channel) {
	c.mu.Lock()
	c.status[mc] = channel.StatusConnected
	if c.welcomed.Load() {
		c.mu.Unlock()
		return
	}
	waiting := false
	for _, other := range c.channels {
		if c.status[other] == channel.StatusNotStarted {
			waiting = true
			break
		}
	}
	if waiting {
		c.log.Info("could not connect to all servers yet, waiting",
			zap.Duration("grace", c.grace))
		if c.welcomeTimer == nil {
			c.welcomeTimer = c.sched.After(c.grace, c.welcomeSetupFinished)
		}
		c.mu.Unlock()
		return
	}
	c.log.Info("all message channels connected, starting execution")
	if c.welcomeTimer != nil {
		c.welcomeTimer.Cancel()
		c.welcomeTimer = nil
	}
	c.mu.Unlock()
	c.welcomeSetupFinished()
}

// welcomeSetupFinished fires the aggregated ready event. The CAS makes the
// once-only guarantee hold even if the grace timer and full readiness race.
func (c *Collection) welcomeSetupFinished() {
	if !c.welcomed.CompareAndSwap(false, true) {
		return
	}
	c.handlers.OnWelcome()
}

// onNickLeave handles a counterparty leaving one channel. Leaving a channel
// we are not talking on is ignored; leaving the pinned channel triggers a
// silent re-pin when possible, and only a counterparty gone from everywhere
// reaches the business layer, exactly once.
func (c *Collection) onNickLeave(nick string, mc *channel.Channel) {
	c.mu.Lock()
	delete(c.seen[mc], nick)
	pinned, ok := c.active[nick]
	if !ok {
		c.mu.Unlock()
		c.handlers.OnNickLeave(nick)
		return
	}
	if pinned != mc {
		// An active conversation elsewhere is not interrupted by this.
		c.mu.Unlock()
		return
	}
	delete(c.active, nick)
	for _, oc := range c.availableLocked() {
		if oc == mc {
			continue
		}
		if _, seen := c.seen[oc][nick]; seen {
			c.log.Debug("found a new channel for nick",
				zap.String("nick", nick), zap.String("hostid", oc.HostID()))
			c.active[nick] = oc
			c.mu.Unlock()
			return
		}
	}
	c.mu.Unlock()
	c.log.Debug("nick has left", zap.String("nick", nick))
	c.handlers.OnNickLeave(nick)
}

// onNickChange propagates a forced local nick change to every channel: the
// bot must present one identity everywhere or quit.
func (c *Collection) onNickChange(newNick string) {
	for _, mc := range c.AvailableChannels() {
		mc.ChangeNick(newNick)
	}
	c.handlers.OnNickChange(newNick)
}

// onOrderSeen is the entry point into private messaging: the announcement
// fixes which channel the rest of the conversation with this counterparty
// runs over. It fires once per channel the order was announced on, so the
// pin ends up on the last channel to deliver it.
func (c *Collection) onOrderSeen(mc *channel.Channel, counterparty string, o protocol.Order) {
	c.mu.Lock()
	c.seen[mc][counterparty] = struct{}{}
	c.active[counterparty] = mc
	c.mu.Unlock()
	c.handlers.OnOrderSeen(counterparty, o)
}

// onPubmsgSeen records an unauthenticated sighting from the pit.
func (c *Collection) onPubmsgSeen(nick string, mc *channel.Channel) {
	c.seeNick(nick, mc)
}

// onPrivmsgSeen records an authenticated sighting; the dispatcher only
// fires this after signature verification.
func (c *Collection) onPrivmsgSeen(nick string, mc *channel.Channel) {
	c.seeNick(nick, mc)
}

func (c *Collection) seeNick(nick string, mc *channel.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status[mc] != channel.StatusConnected {
		return
	}
	c.seen[mc][nick] = struct{}{}
}

// OnVerifiedPrivmsg re-enters the dispatch pipeline after the external
// verifier accepted a signature, routing the message back to the channel it
// arrived on by hostid. If that channel is gone the message is dropped; the
// sender will retry or time out.
func (c *Collection) OnVerifiedPrivmsg(nick, message, hostid string) {
	for _, mc := range c.channels {
		if mc.HostID() == hostid {
			mc.OnVerifiedPrivmsg(nick, message)
			return
		}
	}
	c.log.Warn("verified privmsg for unknown channel, dropping",
		zap.String("nick", nick), zap.String("hostid", hostid))
}
