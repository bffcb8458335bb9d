package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Order is the advertised terms for one coordination round. CJFee stays a
// string because relative offers quote a decimal fraction while absolute
// offers quote satoshis; interpretation is the business layer's call.
type Order struct {
	OID       int
	OrderType string
	MinSize   int64
	MaxSize   int64
	TxFee     int64
	CJFee     string
}

// ParseOrder parses the positional fields of an offer sub-command,
// chunks[0] being the offer-type keyword.
func ParseOrder(chunks []string) (Order, error) {
	if len(chunks) < 6 {
		return Order{}, fmt.Errorf("offer %q: want 6 fields, got %d", strings.Join(chunks, " "), len(chunks))
	}
	if !IsOfferType(chunks[0]) {
		return Order{}, fmt.Errorf("not an offer type: %q", chunks[0])
	}
	oid, err := strconv.Atoi(chunks[1])
	if err != nil {
		return Order{}, fmt.Errorf("offer oid: %w", err)
	}
	minsize, err := strconv.ParseInt(chunks[2], 10, 64)
	if err != nil {
		return Order{}, fmt.Errorf("offer minsize: %w", err)
	}
	maxsize, err := strconv.ParseInt(chunks[3], 10, 64)
	if err != nil {
		return Order{}, fmt.Errorf("offer maxsize: %w", err)
	}
	txfee, err := strconv.ParseInt(chunks[4], 10, 64)
	if err != nil {
		return Order{}, fmt.Errorf("offer txfee: %w", err)
	}
	return Order{
		OID:       oid,
		OrderType: chunks[0],
		MinSize:   minsize,
		MaxSize:   maxsize,
		TxFee:     txfee,
		CJFee:     chunks[5],
	}, nil
}

// Orderline renders an order as one prefixed wire sub-command.
func Orderline(o Order) string {
	return Prefix + o.OrderType + " " + strconv.Itoa(o.OID) +
		" " + strconv.FormatInt(o.MinSize, 10) +
		" " + strconv.FormatInt(o.MaxSize, 10) +
		" " + strconv.FormatInt(o.TxFee, 10) +
		" " + o.CJFee
}
