package api

// SessionKey is an established per-counterparty encryption session. Wiretext
// is an encoded ASCII string safe to embed in a space-separated line protocol.
type SessionKey interface {
	Encrypt(plaintext []byte) (string, error)
	// Decrypt fails with a decode error on malformed ciphertext.
	Decrypt(wiretext string) ([]byte, error)
}

// KeyExchange hands out session keys negotiated elsewhere. The routing layer
// never creates keys; a missing key for an encrypted command means the
// message is dropped.
type KeyExchange interface {
	SessionKeyFor(counterparty string) (SessionKey, bool)
}

// Signer produces signed outbound private messages. RequestSignedMessage
// must not block: implementations sign on their own schedule and send the
// completed message back through the collection (privmsg with the signature
// trailer appended). signingPayload already carries the anti-replay channel
// identifier; hostid names the channel the message must leave on.
type Signer interface {
	RequestSignedMessage(counterparty, cmd, message, signingPayload, hostid string)
}

// VerifyRequest carries everything needed to check an inbound private
// message signature and re-enter the dispatch pipeline on success.
type VerifyRequest struct {
	// SigningPayload is the message body with the receiving channel's
	// identifier appended; a signature made for another channel fails here.
	SigningPayload string
	// Message is the raw inbound line, trailer included.
	Message      string
	Signature    string // base64
	PubKey       string // hex
	Counterparty string
	HostID       string
}

// Verifier checks inbound signatures asynchronously. On success it must
// deliver the request back via the collection's verified-privmsg entry
// point; on failure it simply drops the message.
type Verifier interface {
	RequestVerifySignature(req VerifyRequest)
}
