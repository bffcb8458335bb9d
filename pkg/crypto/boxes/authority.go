package boxes

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"

	"go.uber.org/zap"

	"pitmesh/pkg/api"
)

// Authority signs outbound private messages and verifies inbound signature
// trailers with ed25519. It is wired back into the collection through the
// two Bind callbacks, keeping the dependency direction collection -> api.
type Authority struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey

	// send delivers a completed signed message for transmission
	// (collection.Privmsg with an explicit hostid).
	send func(counterparty, cmd, message string, hostid string)
	// verified re-enters the dispatch pipeline
	// (collection.OnVerifiedPrivmsg).
	verified func(counterparty, message, hostid string)

	log *zap.Logger
}

// NewAuthority builds an authority around a signing key. Bind must be
// called before any request arrives.
func NewAuthority(priv ed25519.PrivateKey) *Authority {
	return &Authority{
		priv: priv,
		pub:  priv.Public().(ed25519.PublicKey),
		log:  zap.L().Named("authority"),
	}
}

// Bind installs the delivery callbacks.
func (a *Authority) Bind(
	send func(counterparty, cmd, message, hostid string),
	verified func(counterparty, message, hostid string),
) {
	a.send = send
	a.verified = verified
}

// RequestSignedMessage implements api.Signer: it appends the pubkey and
// signature trailer and hands the finished message back for sending on the
// channel the payload was scoped to.
func (a *Authority) RequestSignedMessage(counterparty, cmd, message, signingPayload, hostid string) {
	sig := ed25519.Sign(a.priv, []byte(signingPayload))
	full := message +
		" " + hex.EncodeToString(a.pub) +
		" " + base64.StdEncoding.EncodeToString(sig)
	a.send(counterparty, cmd, full, hostid)
}

// RequestVerifySignature implements api.Verifier. Any failure just drops the
// message: an invalid signature must have no semantic effect at all.
func (a *Authority) RequestVerifySignature(req api.VerifyRequest) {
	pub, err := hex.DecodeString(req.PubKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		a.log.Debug("bad pubkey in privmsg trailer", zap.String("nick", req.Counterparty))
		return
	}
	sig, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		a.log.Debug("bad signature encoding in privmsg trailer", zap.String("nick", req.Counterparty))
		return
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), []byte(req.SigningPayload), sig) {
		a.log.Debug("privmsg signature verify failed",
			zap.String("nick", req.Counterparty), zap.String("hostid", req.HostID))
		return
	}
	a.verified(req.Counterparty, req.Message, req.HostID)
}

// PubKeyHex returns the authority's public key in trailer encoding.
func (a *Authority) PubKeyHex() string { return hex.EncodeToString(a.pub) }
