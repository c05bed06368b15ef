package fees

import (
	"fmt"
	"math/big"
)

// MaxBps is the denominator for basis-point fee rates.
const MaxBps uint32 = 10_000

// Default fee rates applied when the marketplace is initialised without
// explicit configuration. Both sides pay 0.25%.
const (
	DefaultBuyerFeeBps  uint32 = 25
	DefaultSellerFeeBps uint32 = 25
)

// Policy holds the buyer and seller fee rates and the treasury address that
// collects both shares. The registry owns the mutable policy; settlement
// reads it at the moment a sale completes, so rate changes apply to listings
// that were already active.
//
// Fee convention: the buyer fee is charged on top of the price for
// fixed-price purchases only. Auction winners pay exactly their bid; the
// seller fee is deducted from the bid at finalization and no separate buyer
// fee is added.
type Policy struct {
	BuyerFeeBps  uint32
	SellerFeeBps uint32
	Treasury     [20]byte
}

// Sanitize validates the rate bounds and returns the policy unchanged.
func (p Policy) Sanitize() (Policy, error) {
	if p.BuyerFeeBps > MaxBps {
		return Policy{}, fmt.Errorf("fees: buyer fee bps out of range: %d", p.BuyerFeeBps)
	}
	if p.SellerFeeBps > MaxBps {
		return Policy{}, fmt.Errorf("fees: seller fee bps out of range: %d", p.SellerFeeBps)
	}
	return p, nil
}

// BuyerFee computes floor(price * BuyerFeeBps / 10000).
func (p Policy) BuyerFee(price *big.Int) *big.Int {
	return feeOf(price, p.BuyerFeeBps)
}

// SellerFee computes floor(price * SellerFeeBps / 10000).
func (p Policy) SellerFee(price *big.Int) *big.Int {
	return feeOf(price, p.SellerFeeBps)
}

// BuyerTotal is the full amount a fixed-price buyer owes: price plus the
// buyer fee.
func (p Policy) BuyerTotal(price *big.Int) *big.Int {
	if price == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Add(price, p.BuyerFee(price))
}

// Arithmetic is integer and truncating on the smallest currency unit. The
// treasury receives exactly the computed fee amounts; truncation loss is
// never redistributed.
func feeOf(price *big.Int, bps uint32) *big.Int {
	if price == nil || price.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(price, new(big.Int).SetUint64(uint64(bps)))
	return fee.Div(fee, big.NewInt(int64(MaxBps)))
}
