package market

import (
	"strconv"

	"nftmarket/core/types"
	"nftmarket/crypto"
)

const (
	EventTypeListed           = "market.listed"
	EventTypePurchased        = "market.purchased"
	EventTypeBidPlaced        = "market.bid_placed"
	EventTypeAuctionFinalized = "market.auction_finalized"
	EventTypeWithdrawn        = "market.withdrawn"
)

// NewListedEvent returns the canonical event payload for a newly created
// listing, carrying every listing field including the resolved end time.
func NewListedEvent(l *Listing) *types.Event {
	attrs := make(map[string]string)
	if l == nil {
		return &types.Event{Type: EventTypeListed, Attributes: attrs}
	}
	attrs["listingId"] = strconv.FormatUint(l.ID, 10)
	attrs["seller"] = addressString(l.Seller)
	attrs["assetSource"] = addressString(l.AssetSource)
	attrs["assetId"] = strconv.FormatUint(l.AssetID, 10)
	attrs["quantity"] = strconv.FormatUint(l.Quantity, 10)
	attrs["kind"] = l.Kind.String()
	if l.Price != nil {
		attrs["price"] = l.Price.String()
	}
	attrs["paymentToken"] = tokenString(l.PaymentToken)
	attrs["saleType"] = l.Sale.String()
	attrs["endTime"] = strconv.FormatInt(l.EndTime, 10)
	attrs["createdAt"] = strconv.FormatInt(l.CreatedAt, 10)
	return &types.Event{Type: EventTypeListed, Attributes: attrs}
}

// NewPurchasedEvent returns the event payload for a completed fixed-price
// purchase.
func NewPurchasedEvent(l *Listing, buyer [20]byte) *types.Event {
	attrs := make(map[string]string)
	if l != nil {
		attrs["listingId"] = strconv.FormatUint(l.ID, 10)
	}
	attrs["buyer"] = addressString(buyer)
	return &types.Event{Type: EventTypePurchased, Attributes: attrs}
}

// NewBidPlacedEvent returns the event payload for an accepted auction bid.
func NewBidPlacedEvent(l *Listing) *types.Event {
	attrs := make(map[string]string)
	if l == nil {
		return &types.Event{Type: EventTypeBidPlaced, Attributes: attrs}
	}
	attrs["listingId"] = strconv.FormatUint(l.ID, 10)
	attrs["bidder"] = addressString(l.HighestBidder)
	if l.HighestBid != nil {
		attrs["amount"] = l.HighestBid.String()
	}
	return &types.Event{Type: EventTypeBidPlaced, Attributes: attrs}
}

// NewAuctionFinalizedEvent returns the event payload emitted when a timed
// auction settles to the highest bidder.
func NewAuctionFinalizedEvent(l *Listing) *types.Event {
	attrs := make(map[string]string)
	if l == nil {
		return &types.Event{Type: EventTypeAuctionFinalized, Attributes: attrs}
	}
	attrs["listingId"] = strconv.FormatUint(l.ID, 10)
	attrs["highestBidder"] = addressString(l.HighestBidder)
	if l.HighestBid != nil {
		attrs["highestBid"] = l.HighestBid.String()
	}
	return &types.Event{Type: EventTypeAuctionFinalized, Attributes: attrs}
}

// NewWithdrawnEvent returns the event payload emitted when the seller takes
// an unsold listing back out of escrow.
func NewWithdrawnEvent(l *Listing) *types.Event {
	attrs := make(map[string]string)
	if l != nil {
		attrs["listingId"] = strconv.FormatUint(l.ID, 10)
		attrs["seller"] = addressString(l.Seller)
	}
	return &types.Event{Type: EventTypeWithdrawn, Attributes: attrs}
}

func addressString(addr [20]byte) string {
	return crypto.NewAddress(crypto.MktPrefix, addr[:]).String()
}

func tokenString(token [20]byte) string {
	if token == NativeToken {
		return "native"
	}
	return addressString(token)
}
