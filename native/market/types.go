package market

import (
	"fmt"
	"math/big"
)

// SaleType selects the sale mode of a listing.
type SaleType uint8

const (
	SaleFixedPrice SaleType = iota
	SaleAuction
)

// Valid reports whether the sale type is within the supported range.
func (s SaleType) Valid() bool {
	switch s {
	case SaleFixedPrice, SaleAuction:
		return true
	default:
		return false
	}
}

func (s SaleType) String() string {
	switch s {
	case SaleFixedPrice:
		return "fixed_price"
	case SaleAuction:
		return "auction"
	default:
		return fmt.Sprintf("sale_type(%d)", uint8(s))
	}
}

// ListingStatus represents the lifecycle states of a listing. Listings are
// never deleted; terminal records are retained for audit and query.
type ListingStatus uint8

const (
	StatusActive ListingStatus = iota
	StatusSold
	StatusFinalized
	StatusWithdrawn
)

// Valid reports whether the status value is within the supported range.
func (s ListingStatus) Valid() bool {
	switch s {
	case StatusActive, StatusSold, StatusFinalized, StatusWithdrawn:
		return true
	default:
		return false
	}
}

// Terminal reports whether the listing has left escrow. Exactly one
// terminal transition may succeed per listing.
func (s ListingStatus) Terminal() bool {
	return s != StatusActive
}

func (s ListingStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusSold:
		return "sold"
	case StatusFinalized:
		return "finalized"
	case StatusWithdrawn:
		return "withdrawn"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// AssetKind is the capability probe result for an asset source: unique
// items carry exactly one unit per identifier, quantity items carry fungible
// units of the same identifier.
type AssetKind uint8

const (
	AssetKindUnknown AssetKind = iota
	AssetKindUnique
	AssetKindQuantity
)

func (k AssetKind) String() string {
	switch k {
	case AssetKindUnique:
		return "unique"
	case AssetKindQuantity:
		return "quantity"
	default:
		return "unknown"
	}
}

// NativeToken is the payment-token sentinel meaning "native currency".
var NativeToken [20]byte

// Listing captures one asset held in engine custody for sale. The identifier
// is monotonically assigned starting at 1 and never reused.
type Listing struct {
	ID           uint64        `json:"id"`
	Seller       [20]byte      `json:"seller"`
	AssetSource  [20]byte      `json:"assetSource"`
	AssetID      uint64        `json:"assetId"`
	Quantity     uint64        `json:"quantity"`
	Kind         AssetKind     `json:"kind"`
	Price        *big.Int      `json:"price"`
	PaymentToken [20]byte      `json:"paymentToken"`
	Sale         SaleType      `json:"sale"`
	EndTime      int64         `json:"endTime"`
	CreatedAt    int64         `json:"createdAt"`
	Status       ListingStatus `json:"status"`

	// Auction bookkeeping. HighestBid stays nil until a first bid lands.
	HighestBidder [20]byte `json:"highestBidder"`
	HighestBid    *big.Int `json:"highestBid,omitempty"`
}

// Clone returns a deep copy of the listing so callers can safely mutate the
// copy without affecting the stored instance.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	if l.Price != nil {
		clone.Price = new(big.Int).Set(l.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	if l.HighestBid != nil {
		clone.HighestBid = new(big.Int).Set(l.HighestBid)
	}
	return &clone
}

// HasBid reports whether a bid has been recorded on the listing.
func (l *Listing) HasBid() bool {
	return l != nil && l.HighestBid != nil && l.HighestBid.Sign() > 0
}

// SanitizeListing validates the supplied listing and returns a cloned
// instance with a non-nil price field. The original value is not mutated.
func SanitizeListing(l *Listing) (*Listing, error) {
	if l == nil {
		return nil, fmt.Errorf("market: nil listing")
	}
	clone := l.Clone()
	if clone.ID == 0 {
		return nil, fmt.Errorf("market: listing id must be positive")
	}
	if clone.Price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if !clone.Sale.Valid() {
		return nil, ErrInvalidSaleType
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("market: invalid listing status: %d", clone.Status)
	}
	if clone.Quantity == 0 {
		return nil, ErrInvalidQuantity
	}
	if clone.Kind == AssetKindUnique && clone.Quantity != 1 {
		return nil, ErrQuantityNotOne
	}
	if clone.Sale == SaleAuction && clone.EndTime <= 0 {
		return nil, fmt.Errorf("market: auction listing missing end time")
	}
	if clone.HighestBid != nil && clone.HighestBid.Sign() <= 0 {
		return nil, ErrZeroBid
	}
	return clone, nil
}
