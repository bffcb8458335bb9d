// Package protocol defines the market's line protocol: the command prefix,
// the command vocabulary, and positional-field parsing. The wire format is
// ASCII text; one reserved prefix character delimits sub-commands inside a
// single message and fields are space-separated tokens. Private messages
// carry a trailing hex pubkey and base64 signature pair.
package protocol

import (
	"encoding/base64"
	"encoding/hex"
)

// Prefix is the reserved sub-command delimiter. Payloads must not contain it;
// there is no escaping on the wire.
const Prefix = "!"

// MinPrivmsgLen is the shortest private message worth parsing (prefix plus
// at least one command character).
const MinPrivmsgLen = 2

// FidelityBondCmd announces a reputation credential. Only valid inside an
// authenticated private message.
const FidelityBondCmd = "tbond"

// OfferTypes are the recognized order announcement commands.
var OfferTypes = []string{
	"sw0reloffer", "sw0absoffer", "swreloffer", "swabsoffer", "reloffer", "absoffer",
}

// encrypted commands require a negotiated session key; everything else in
// the vocabulary travels as plaintext (still signed when private).
var encryptedCommands = map[string]struct{}{
	"auth":   {},
	"ioauth": {},
	"tx":     {},
	"sig":    {},
}

var plaintextCommands = map[string]struct{}{}

func init() {
	for _, c := range []string{"fill", "error", "pubkey", "orderbook", "push", FidelityBondCmd} {
		plaintextCommands[c] = struct{}{}
	}
	for _, c := range OfferTypes {
		plaintextCommands[c] = struct{}{}
	}
}

// IsEncryptedCmd reports whether cmd requires session encryption.
func IsEncryptedCmd(cmd string) bool {
	_, ok := encryptedCommands[cmd]
	return ok
}

// IsPlaintextCmd reports whether cmd travels unencrypted. Outbound commands
// not in the plaintext set are encrypted, known or not.
func IsPlaintextCmd(cmd string) bool {
	_, ok := plaintextCommands[cmd]
	return ok
}

// IsKnownCmd reports whether cmd belongs to the protocol vocabulary at all.
func IsKnownCmd(cmd string) bool {
	if _, ok := plaintextCommands[cmd]; ok {
		return true
	}
	_, ok := encryptedCommands[cmd]
	return ok
}

// IsOfferType reports whether cmd is an order announcement command.
func IsOfferType(cmd string) bool {
	for _, t := range OfferTypes {
		if cmd == t {
			return true
		}
	}
	return false
}

// ValidPubKeyHex cheaply checks that s plausibly encodes a public key. The
// cryptographic validity is the verifier's business; this only avoids
// spending an async verification round-trip on garbage.
func ValidPubKeyHex(s string) bool {
	if s == "" {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// ValidSigBase64 cheaply checks that s decodes as base64.
func ValidSigBase64(s string) bool {
	if s == "" {
		return false
	}
	_, err := base64.StdEncoding.DecodeString(s)
	return err == nil
}
