// Package orderbook keeps the offers and fidelity bonds announced by
// counterparties. It is fed from the order-seen, order-cancel and nick-leave
// callbacks and makes no trading decisions; it only remembers what the
// network said.
package orderbook

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"pitmesh/pkg/protocol"
)

// Entry is one remembered offer.
type Entry struct {
	Counterparty string         `json:"counterparty" cbor:"1,keyasint"`
	Order        protocol.Order `json:"order" cbor:"2,keyasint"`
}

// Bond is a remembered fidelity bond proof.
type Bond struct {
	Counterparty string `json:"counterparty" cbor:"1,keyasint"`
	Proof        string `json:"proof" cbor:"2,keyasint"`
}

// Snapshot is a point-in-time export of the book.
type Snapshot struct {
	Offers []Entry `json:"offers" cbor:"1,keyasint"`
	Bonds  []Bond  `json:"bonds,omitempty" cbor:"2,keyasint,omitempty"`
}

// Book is an in-memory orderbook keyed by counterparty and order id. A
// counterparty re-announcing an oid replaces the previous terms.
type Book struct {
	mu     sync.RWMutex
	offers map[string]map[int]protocol.Order
	bonds  map[string]string
	log    *zap.Logger
}

func New() *Book {
	return &Book{
		offers: make(map[string]map[int]protocol.Order),
		bonds:  make(map[string]string),
		log:    zap.L().Named("orderbook"),
	}
}

// UpsertOffer records or replaces one counterparty offer.
func (b *Book) UpsertOffer(counterparty string, o protocol.Order) {
	b.mu.Lock()
	m := b.offers[counterparty]
	if m == nil {
		m = make(map[int]protocol.Order)
		b.offers[counterparty] = m
	}
	m[o.OID] = o
	b.mu.Unlock()
	b.log.Debug("offer upsert", zap.String("counterparty", counterparty),
		zap.Int("oid", o.OID), zap.String("ordertype", o.OrderType))
}

// Cancel removes one offer. A cancel heard on one channel is applied
// unconditionally; whether the other channels agree is an unresolved
// protocol question and no reconciliation is attempted.
func (b *Book) Cancel(counterparty string, oid int) {
	b.mu.Lock()
	if m := b.offers[counterparty]; m != nil {
		delete(m, oid)
		if len(m) == 0 {
			delete(b.offers, counterparty)
		}
	}
	b.mu.Unlock()
	b.log.Debug("offer cancel", zap.String("counterparty", counterparty), zap.Int("oid", oid))
}

// SetBond records a counterparty's fidelity bond proof.
func (b *Book) SetBond(counterparty, proof string) {
	b.mu.Lock()
	b.bonds[counterparty] = proof
	b.mu.Unlock()
}

// RemoveCounterparty forgets everything announced by a departed nick.
func (b *Book) RemoveCounterparty(counterparty string) {
	b.mu.Lock()
	delete(b.offers, counterparty)
	delete(b.bonds, counterparty)
	b.mu.Unlock()
}

// OffersOf returns the offers currently held for one counterparty.
func (b *Book) OffersOf(counterparty string) []protocol.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m := b.offers[counterparty]
	out := make([]protocol.Order, 0, len(m))
	for _, o := range m {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OID < out[j].OID })
	return out
}

// Snapshot exports the whole book, ordered for stable output.
func (b *Book) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var s Snapshot
	for cp, m := range b.offers {
		for _, o := range m {
			s.Offers = append(s.Offers, Entry{Counterparty: cp, Order: o})
		}
	}
	sort.Slice(s.Offers, func(i, j int) bool {
		if s.Offers[i].Counterparty != s.Offers[j].Counterparty {
			return s.Offers[i].Counterparty < s.Offers[j].Counterparty
		}
		return s.Offers[i].Order.OID < s.Offers[j].Order.OID
	})
	for cp, proof := range b.bonds {
		s.Bonds = append(s.Bonds, Bond{Counterparty: cp, Proof: proof})
	}
	sort.Slice(s.Bonds, func(i, j int) bool { return s.Bonds[i].Counterparty < s.Bonds[j].Counterparty })
	return s
}

// MarshalJSON exports a snapshot for human-facing tooling.
func (b *Book) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Snapshot())
}

// MarshalCBOR exports a compact snapshot for machine consumers.
func (b *Book) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(b.Snapshot())
}

// DecodeSnapshotCBOR reads back a CBOR snapshot.
func DecodeSnapshotCBOR(data []byte) (Snapshot, error) {
	var s Snapshot
	err := cbor.Unmarshal(data, &s)
	return s, err
}
