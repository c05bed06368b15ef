package fees

import (
	"math/big"
	"testing"
)

func TestFeeComputation(t *testing.T) {
	policy := Policy{BuyerFeeBps: DefaultBuyerFeeBps, SellerFeeBps: DefaultSellerFeeBps}

	cases := []struct {
		name   string
		price  int64
		buyer  int64
		seller int64
	}{
		{"ten thousand units", 10_000, 25, 25},
		{"truncates down", 100, 0, 0},
		{"one million units", 1_000_000, 2_500, 2_500},
		{"odd price truncates", 40_001, 100, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			price := big.NewInt(tc.price)
			if got := policy.BuyerFee(price); got.Int64() != tc.buyer {
				t.Fatalf("buyer fee for %d: got %s, want %d", tc.price, got, tc.buyer)
			}
			if got := policy.SellerFee(price); got.Int64() != tc.seller {
				t.Fatalf("seller fee for %d: got %s, want %d", tc.price, got, tc.seller)
			}
		})
	}
}

func TestBuyerTotal(t *testing.T) {
	policy := Policy{BuyerFeeBps: 250, SellerFeeBps: 250}
	total := policy.BuyerTotal(big.NewInt(1000))
	if total.Int64() != 1025 {
		t.Fatalf("buyer total: got %s, want 1025", total)
	}
}

func TestZeroAndNilPrices(t *testing.T) {
	policy := Policy{BuyerFeeBps: 500, SellerFeeBps: 500}
	if got := policy.BuyerFee(nil); got.Sign() != 0 {
		t.Fatalf("nil price fee should be zero, got %s", got)
	}
	if got := policy.SellerFee(big.NewInt(0)); got.Sign() != 0 {
		t.Fatalf("zero price fee should be zero, got %s", got)
	}
	if got := policy.BuyerTotal(nil); got.Sign() != 0 {
		t.Fatalf("nil price total should be zero, got %s", got)
	}
}

func TestSanitizeBounds(t *testing.T) {
	if _, err := (Policy{BuyerFeeBps: MaxBps + 1}).Sanitize(); err == nil {
		t.Fatal("expected error for buyer bps above range")
	}
	if _, err := (Policy{SellerFeeBps: MaxBps + 1}).Sanitize(); err == nil {
		t.Fatal("expected error for seller bps above range")
	}
	if _, err := (Policy{BuyerFeeBps: 25, SellerFeeBps: 25}).Sanitize(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
