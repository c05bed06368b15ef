package market

import (
	"math/big"
	"testing"
)

func TestNewListedEventAttributes(t *testing.T) {
	l := &Listing{
		ID:       7,
		AssetID:  42,
		Quantity: 1,
		Kind:     AssetKindUnique,
		Price:    big.NewInt(1234),
		Sale:     SaleAuction,
		EndTime:  5000,
	}
	evt := NewListedEvent(l)
	if evt.Type != EventTypeListed {
		t.Fatalf("type: %s", evt.Type)
	}
	if evt.Attributes["listingId"] != "7" {
		t.Fatalf("listingId: %s", evt.Attributes["listingId"])
	}
	if evt.Attributes["price"] != "1234" {
		t.Fatalf("price: %s", evt.Attributes["price"])
	}
	if evt.Attributes["saleType"] != "auction" {
		t.Fatalf("saleType: %s", evt.Attributes["saleType"])
	}
	if evt.Attributes["endTime"] != "5000" {
		t.Fatalf("endTime: %s", evt.Attributes["endTime"])
	}
	if evt.Attributes["paymentToken"] != "native" {
		t.Fatalf("paymentToken: %s", evt.Attributes["paymentToken"])
	}
}

func TestNewBidPlacedEventCarriesAmount(t *testing.T) {
	l := &Listing{ID: 3, HighestBid: big.NewInt(900)}
	evt := NewBidPlacedEvent(l)
	if evt.Attributes["amount"] != "900" {
		t.Fatalf("amount: %s", evt.Attributes["amount"])
	}
}

func TestEventConstructorsTolerateNil(t *testing.T) {
	for _, evt := range []struct {
		typ string
		got string
	}{
		{EventTypeListed, NewListedEvent(nil).Type},
		{EventTypeBidPlaced, NewBidPlacedEvent(nil).Type},
		{EventTypeAuctionFinalized, NewAuctionFinalizedEvent(nil).Type},
		{EventTypeWithdrawn, NewWithdrawnEvent(nil).Type},
	} {
		if evt.got != evt.typ {
			t.Fatalf("expected %s, got %s", evt.typ, evt.got)
		}
	}
}
