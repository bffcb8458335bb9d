package orderbook

import (
	"testing"

	"pitmesh/pkg/protocol"
)

func TestBookLifecycle(t *testing.T) {
	b := New()
	b.UpsertOffer("maker1", protocol.Order{OID: 1, OrderType: "absoffer", MinSize: 1000, MaxSize: 5000, TxFee: 10, CJFee: "500"})
	b.UpsertOffer("maker1", protocol.Order{OID: 0, OrderType: "reloffer", MinSize: 2000, MaxSize: 9000, TxFee: 5, CJFee: "0.0002"})
	b.UpsertOffer("maker2", protocol.Order{OID: 0, OrderType: "absoffer", MinSize: 100, MaxSize: 200, TxFee: 1, CJFee: "50"})

	offers := b.OffersOf("maker1")
	if len(offers) != 2 || offers[0].OID != 0 || offers[1].OID != 1 {
		t.Fatalf("offers must come back sorted by oid: %+v", offers)
	}

	// Re-announcing an oid replaces the terms.
	b.UpsertOffer("maker1", protocol.Order{OID: 1, OrderType: "absoffer", MinSize: 1, MaxSize: 2, TxFee: 3, CJFee: "4"})
	offers = b.OffersOf("maker1")
	if len(offers) != 2 || offers[1].MinSize != 1 {
		t.Fatalf("upsert should replace, not duplicate: %+v", offers)
	}

	b.Cancel("maker1", 1)
	if got := b.OffersOf("maker1"); len(got) != 1 || got[0].OID != 0 {
		t.Fatalf("cancel should remove exactly one offer: %+v", got)
	}
	// Cancelling the unknown is a no-op.
	b.Cancel("maker1", 42)
	b.Cancel("ghost", 0)

	b.SetBond("maker2", "proof123")
	b.RemoveCounterparty("maker1")
	snap := b.Snapshot()
	if len(snap.Offers) != 1 || snap.Offers[0].Counterparty != "maker2" {
		t.Fatalf("remove should drop all of maker1: %+v", snap.Offers)
	}
	if len(snap.Bonds) != 1 || snap.Bonds[0].Proof != "proof123" {
		t.Fatalf("bond missing from snapshot: %+v", snap.Bonds)
	}
}

func TestSnapshotCBOR(t *testing.T) {
	b := New()
	b.UpsertOffer("maker1", protocol.Order{OID: 3, OrderType: "sw0absoffer", MinSize: 1000, MaxSize: 5000, TxFee: 10, CJFee: "500"})
	b.SetBond("maker1", "proof")

	data, err := b.MarshalCBOR()
	if err != nil {
		t.Fatalf("MarshalCBOR: %v", err)
	}
	snap, err := DecodeSnapshotCBOR(data)
	if err != nil {
		t.Fatalf("DecodeSnapshotCBOR: %v", err)
	}
	if len(snap.Offers) != 1 || snap.Offers[0].Order.OID != 3 {
		t.Fatalf("snapshot roundtrip: %+v", snap)
	}
	if len(snap.Bonds) != 1 || snap.Bonds[0].Counterparty != "maker1" {
		t.Fatalf("bond roundtrip: %+v", snap)
	}
}
