package channel

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"pitmesh/pkg/api"
	"pitmesh/pkg/protocol"
)

// OnConnect marks the link up and notifies the collection.
func (c *Channel) OnConnect() {
	c.setStatus(StatusConnected)
	c.triggers.Connect(c)
}

// OnWelcome reports a completed login on this channel.
func (c *Channel) OnWelcome() {
	c.setStatus(StatusConnected)
	c.triggers.Welcome(c)
}

// OnTopic relays the public channel topic.
func (c *Channel) OnTopic(topic string) {
	c.handlers.OnTopic(topic)
}

// OnDisconnect marks the link down and notifies the collection.
func (c *Channel) OnDisconnect() {
	c.setStatus(StatusUnavailable)
	c.triggers.Disconnect(c)
}

// OnNickLeave reports a counterparty leaving this channel.
func (c *Channel) OnNickLeave(nick string) {
	c.triggers.NickLeave(nick, c)
}

// OnNickChange reports that the local nick had to change (e.g. collision).
func (c *Channel) OnNickChange(newNick string) {
	c.triggers.NickChange(newNick)
}

// OnPublicMessage parses one inbound pit message. Any message, legal or not,
// marks the sender as seen on this channel; sightings from the pit are
// unauthenticated.
func (c *Channel) OnPublicMessage(nick, msg string) {
	if !c.limiter.Allow() {
		c.log.Debug("public message rate limited", zap.String("nick", nick))
		return
	}
	c.triggers.PubmsgSeen(nick, c)
	if !strings.HasPrefix(msg, protocol.Prefix) {
		return
	}
	cmds := strings.Split(msg[1:], protocol.Prefix)
	// DoS guard: repeated orderbook requests in one message discard it whole.
	n := 0
	for _, cmd := range cmds {
		if cmd == "orderbook" {
			n++
		}
	}
	if n > 1 {
		c.log.Debug("duplicate orderbook request dropped", zap.String("nick", nick))
		return
	}
	for _, cmd := range cmds {
		if cmd == "" {
			continue
		}
		chunks := strings.Split(cmd, " ")
		if c.checkForOrders(nick, chunks) {
			continue
		}
		if chunks[0] == "cancel" {
			// !cancel [oid]
			if len(chunks) < 2 {
				c.log.Debug("cancel without oid", zap.String("nick", nick))
				continue
			}
			oid, err := strconv.Atoi(chunks[1])
			if err != nil {
				c.log.Debug("cancel with bad oid", zap.String("nick", nick), zap.Error(err))
				continue
			}
			c.handlers.OnOrderCancel(nick, oid)
		}
	}
}

// checkForOrders reports whether chunks start an offer sub-command, and on a
// clean parse hands the order to the collection (which pins the nick before
// the business layer sees it). A malformed offer needs no user action.
func (c *Channel) checkForOrders(nick string, chunks []string) bool {
	if !protocol.IsOfferType(chunks[0]) {
		return false
	}
	o, err := protocol.ParseOrder(chunks)
	if err != nil {
		c.log.Debug("malformed offer", zap.String("nick", nick), zap.Error(err))
		return true
	}
	c.triggers.OrderSeen(c, nick, o)
	return true
}

func (c *Channel) checkForFidelityBond(nick string, chunks []string) bool {
	if chunks[0] != protocol.FidelityBondCmd {
		return false
	}
	if len(chunks) < 2 {
		c.log.Debug("fidelity bond without proof", zap.String("nick", nick))
		return true
	}
	c.handlers.OnFidelityBondSeen(nick, chunks[0], chunks[1])
	return true
}

// OnPrivateMessage is phase one of the private pipeline: synchronous,
// syntactic only. It rejects garbage cheaply and hands plausible messages to
// the verifier; nothing is marked seen and nothing is dispatched until the
// signature checks out.
func (c *Channel) OnPrivateMessage(nick, msg string) {
	if len(msg) < protocol.MinPrivmsgLen {
		return
	}
	if !strings.HasPrefix(msg, protocol.Prefix) {
		c.log.Debug("privmsg not a cmd", zap.String("nick", nick))
		return
	}
	tokens := strings.Split(msg[1:], " ")
	if !protocol.IsKnownCmd(tokens[0]) {
		c.log.Debug("privmsg cmd unknown", zap.String("nick", nick), zap.String("cmd", tokens[0]))
		return
	}
	// The trailing two tokens must be a hex pubkey and a base64 signature.
	if len(tokens) < 4 {
		c.log.Debug("privmsg sig trailer missing", zap.String("nick", nick))
		return
	}
	pub, sig := tokens[len(tokens)-2], tokens[len(tokens)-1]
	rawmessage := strings.Join(tokens[1:len(tokens)-2], " ")
	if rawmessage == "" {
		c.log.Debug("privmsg body empty", zap.String("nick", nick))
		return
	}
	// The signature itself may be any garbage (the verifier swallows that),
	// but reject undecodable encodings before paying for an async round-trip.
	if !protocol.ValidPubKeyHex(pub) || !protocol.ValidSigBase64(sig) {
		c.log.Debug("privmsg sig trailer malformed", zap.String("nick", nick))
		return
	}
	req := api.VerifyRequest{
		SigningPayload: rawmessage + c.hostid,
		Message:        msg,
		Signature:      sig,
		PubKey:         pub,
		Counterparty:   nick,
		HostID:         c.hostid,
	}
	c.sched.After(0, func() { c.verifier.RequestVerifySignature(req) })
}

// OnVerifiedPrivmsg is phase two, entered only after the verifier accepted
// the signature. This is the one path allowed to establish a private-message
// sighting; anything weaker would let a squatter steer our privmsgs.
func (c *Channel) OnVerifiedPrivmsg(nick, msg string) {
	c.triggers.PrivmsgSeen(nick, c)
	// Strip the prefix and the verified trailer before semantic parsing.
	tokens := strings.Split(msg[1:], " ")
	if len(tokens) < 3 {
		return
	}
	body := strings.Join(tokens[:len(tokens)-2], " ")
	for _, cmd := range strings.Split(body, protocol.Prefix) {
		if cmd == "" {
			continue
		}
		chunks := strings.Split(cmd, " ")
		if protocol.IsEncryptedCmd(chunks[0]) {
			var ok bool
			if chunks, ok = c.decryptChunks(nick, chunks); !ok {
				continue
			}
		}
		c.dispatchVerified(nick, chunks)
	}
}

// decryptChunks replaces the ciphertext tokens of an encrypted sub-command
// with the decrypted plaintext tokens. A missing session key or a decrypt
// failure drops this sub-command only.
func (c *Channel) decryptChunks(nick string, chunks []string) ([]string, bool) {
	key, ok := c.keys.SessionKeyFor(nick)
	if !ok {
		c.log.Debug("no session key, dropping sub-command",
			zap.String("nick", nick), zap.String("cmd", chunks[0]))
		return nil, false
	}
	plaintext, err := key.Decrypt(strings.Join(chunks[1:], ""))
	if err != nil {
		c.log.Debug("decrypt failed, skipping sub-command",
			zap.String("nick", nick), zap.String("cmd", chunks[0]), zap.Error(err))
		return nil, false
	}
	return append([]string{chunks[0]}, strings.Split(string(plaintext), " ")...), true
}

// dispatchVerified routes one authenticated sub-command to its handler. A
// parse error skips this sub-command; the rest of the message still runs.
func (c *Channel) dispatchVerified(nick string, chunks []string) {
	if c.checkForOrders(nick, chunks) {
		return
	}
	if c.checkForFidelityBond(nick, chunks) {
		return
	}
	switch chunks[0] {
	case "error":
		c.handlers.OnError(strings.Join(chunks[1:], " "))
	case "pubkey":
		if len(chunks) < 2 {
			c.log.Debug("pubkey missing field", zap.String("nick", nick))
			return
		}
		c.handlers.OnPubkey(nick, chunks[1])
	case "ioauth":
		if len(chunks) < 6 {
			c.log.Debug("ioauth missing fields", zap.String("nick", nick), zap.Int("got", len(chunks)-1))
			return
		}
		utxos := strings.Split(chunks[1], ",")
		c.handlers.OnIoauth(nick, utxos, chunks[2], chunks[3], chunks[4], chunks[5])
	case "sig":
		if len(chunks) < 2 {
			c.log.Debug("sig missing field", zap.String("nick", nick))
			return
		}
		c.handlers.OnSig(nick, chunks[1])
	}
}
