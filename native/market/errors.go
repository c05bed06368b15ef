package market

import "errors"

// Validation errors surfaced to the caller. Every mutating operation fails
// synchronously; nothing is retried by the engine itself.
var (
	ErrListingNotFound  = errors.New("market: listing does not exist")
	ErrInvalidPrice     = errors.New("market: price must be greater than zero")
	ErrInvalidDuration  = errors.New("market: duration must be greater than zero for auction")
	ErrInvalidQuantity  = errors.New("market: quantity must be at least 1")
	ErrQuantityNotOne   = errors.New("market: quantity must be 1 for unique items")
	ErrInvalidSaleType  = errors.New("market: unsupported sale type")
	ErrUnsupportedAsset = errors.New("market: unsupported asset standard")
	ErrUnsupportedToken = errors.New("market: unsupported payment token")

	ErrNotFixedPrice   = errors.New("market: not a fixed price listing")
	ErrNotAuction      = errors.New("market: not an auction listing")
	ErrAlreadySold     = errors.New("market: listing already sold")
	ErrWithdrawn       = errors.New("market: listing withdrawn")
	ErrIncorrectAmount = errors.New("market: incorrect native payment amount")

	ErrZeroBid         = errors.New("market: bid amount must be greater than zero")
	ErrBidTooLow       = errors.New("market: bid must be higher than the current highest bid")
	ErrAuctionEnded    = errors.New("market: auction has ended")
	ErrAuctionNotEnded = errors.New("market: auction has not ended yet")
	ErrNoBids          = errors.New("market: no bids placed")

	ErrNotSeller = errors.New("market: caller is not the seller")
	ErrNotAdmin  = errors.New("market: caller is not the administrator")

	// ErrReentrantCall rejects nested mutating entry on a listing while an
	// outbound collaborator call for that listing is still in flight.
	ErrReentrantCall = errors.New("market: reentrant call on listing")
)

var (
	errNilState  = errors.New("market engine: state not configured")
	errNilAssets = errors.New("market engine: asset resolver not configured")
	errNilLedger = errors.New("market engine: currency ledger not configured")
)
