// Package boxes is the default implementation of the external crypto
// contracts: NaCl box session keys for encrypted commands and an ed25519
// authority for the privmsg signature trailer. The routing layer only ever
// sees the api interfaces; deployments with an external daemon plug theirs
// in instead.
package boxes

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"sync"

	"golang.org/x/crypto/nacl/box"

	"pitmesh/pkg/api"
)

var errCiphertext = errors.New("boxes: malformed ciphertext")

// Box is a precomputed session with one counterparty. Wiretext is
// base64(nonce || sealed) so it stays a single space-free token.
type Box struct {
	shared [32]byte
}

// NewBox precomputes the shared key from our private key and the
// counterparty's public key.
func NewBox(priv, peerPub *[32]byte) *Box {
	b := &Box{}
	box.Precompute(&b.shared, peerPub, priv)
	return b
}

// GenerateKey returns a fresh curve25519 keypair.
func GenerateKey() (pub, priv *[32]byte, err error) {
	return box.GenerateKey(rand.Reader)
}

func (b *Box) Encrypt(plaintext []byte) (string, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", err
	}
	sealed := box.SealAfterPrecomputation(nonce[:], plaintext, &nonce, &b.shared)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (b *Box) Decrypt(wiretext string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(wiretext)
	if err != nil {
		return nil, errCiphertext
	}
	if len(raw) < 24+box.Overhead {
		return nil, errCiphertext
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plaintext, ok := box.OpenAfterPrecomputation(nil, raw[24:], &nonce, &b.shared)
	if !ok {
		return nil, errCiphertext
	}
	return plaintext, nil
}

// Ring implements api.KeyExchange over an in-memory set of established
// sessions. Key negotiation itself happens elsewhere; the ring only stores
// the outcome.
type Ring struct {
	mu    sync.RWMutex
	boxes map[string]*Box
}

func NewRing() *Ring { return &Ring{boxes: make(map[string]*Box)} }

// Put records an established session for a counterparty, replacing any
// earlier one.
func (r *Ring) Put(counterparty string, b *Box) {
	r.mu.Lock()
	r.boxes[counterparty] = b
	r.mu.Unlock()
}

// Drop forgets the session for a counterparty.
func (r *Ring) Drop(counterparty string) {
	r.mu.Lock()
	delete(r.boxes, counterparty)
	r.mu.Unlock()
}

func (r *Ring) SessionKeyFor(counterparty string) (api.SessionKey, bool) {
	r.mu.RLock()
	b, ok := r.boxes[counterparty]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return b, true
}
