package market

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"nftmarket/core/events"
	"nftmarket/core/types"
	"nftmarket/native/common"
	"nftmarket/native/fees"
)

var errNilTreasury = errors.New("market engine: fee treasury not configured")

// AssetRegistry is the custody adapter contract the engine calls to move an
// asset into and out of escrow. The engine never implements asset transfer
// logic itself. Kind is the capability probe distinguishing unique-item and
// quantity-item sources; it is resolved once at listing creation.
type AssetRegistry interface {
	Kind() AssetKind
	Pull(owner [20]byte, assetID uint64, quantity uint64) error
	Push(to [20]byte, assetID uint64, quantity uint64) error
}

// AssetResolver locates the custody adapter for an asset source.
type AssetResolver interface {
	ResolveAsset(source [20]byte) (AssetRegistry, bool)
}

// Ledger is the currency collaborator contract. Pull moves funds from an
// account into engine custody, Push moves funds from engine custody out to
// an account.
type Ledger interface {
	Pull(from [20]byte, amount *big.Int) error
	Push(to [20]byte, amount *big.Int) error
}

// LedgerResolver locates the ledger for a fungible payment token. The native
// currency ledger is configured separately via SetNativeLedger.
type LedgerResolver interface {
	ResolveLedger(token [20]byte) (Ledger, bool)
}

type engineState interface {
	ListingPut(*Listing) error
	ListingGet(id uint64) (*Listing, bool)
	ListingCounter() uint64
	SetListingCounter(uint64) error
	FeePolicyGet() (fees.Policy, bool)
	FeePolicyPut(fees.Policy) error
	BlacklistGet(addr [20]byte) bool
	BlacklistSet(addr [20]byte, flagged bool) error
}

type marketEvent struct {
	evt *types.Event
}

func (e marketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketEvent) Event() *types.Event { return e.evt }

// Engine owns the listing registry and drives every lifecycle transition:
// creation into escrow, fixed-price purchase, auction bidding, finalization
// and withdrawal. Mutating calls are expected to be serialized by the owner
// (a single mutex in core.Node); within one call the engine updates listing
// state before invoking any outbound collaborator transfer, so a re-entrant
// callback observes post-update state, and a per-listing guard rejects
// nested mutating entry outright.
type Engine struct {
	state   engineState
	assets  AssetResolver
	ledgers LedgerResolver
	native  Ledger
	emitter events.Emitter
	admin   [20]byte
	nowFn   func() int64
	entered map[uint64]bool
}

// NewEngine creates a marketplace engine with a no-op emitter. Callers wire
// state, collaborators and the emitter via the setters.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		entered: make(map[uint64]bool),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetAssetResolver configures the custody adapter lookup.
func (e *Engine) SetAssetResolver(r AssetResolver) { e.assets = r }

// SetLedgerResolver configures the fungible-token ledger lookup.
func (e *Engine) SetLedgerResolver(r LedgerResolver) { e.ledgers = r }

// SetNativeLedger configures the native currency ledger.
func (e *Engine) SetNativeLedger(l Ledger) { e.native = l }

// SetAdmin configures the administrator identity allowed to change fee rates
// and blacklist flags.
func (e *Engine) SetAdmin(addr [20]byte) { e.admin = addr }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily
// intended for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(marketEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

type stateRestrictions struct {
	state engineState
}

func (v stateRestrictions) IsBlacklisted(addr [20]byte) bool {
	if v.state == nil {
		return false
	}
	return v.state.BlacklistGet(addr)
}

func (e *Engine) guard(caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return common.Guard(stateRestrictions{state: e.state}, caller)
}

func (e *Engine) begin(id uint64) error {
	if e.entered == nil {
		e.entered = make(map[uint64]bool)
	}
	if e.entered[id] {
		return ErrReentrantCall
	}
	e.entered[id] = true
	return nil
}

func (e *Engine) end(id uint64) { delete(e.entered, id) }

func (e *Engine) loadListing(id uint64) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	listing, ok := e.state.ListingGet(id)
	if !ok {
		return nil, ErrListingNotFound
	}
	return listing, nil
}

func (e *Engine) storeListing(l *Listing) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.ListingPut(l)
}

func (e *Engine) ledgerFor(token [20]byte) (Ledger, error) {
	if token == NativeToken {
		if e.native == nil {
			return nil, errNilLedger
		}
		return e.native, nil
	}
	if e.ledgers == nil {
		return nil, errNilLedger
	}
	ledger, ok := e.ledgers.ResolveLedger(token)
	if !ok {
		return nil, ErrUnsupportedToken
	}
	return ledger, nil
}

func (e *Engine) assetFor(source [20]byte) (AssetRegistry, error) {
	if e.assets == nil {
		return nil, errNilAssets
	}
	registry, ok := e.assets.ResolveAsset(source)
	if !ok {
		return nil, ErrUnsupportedAsset
	}
	return registry, nil
}

func (e *Engine) feePolicy() (fees.Policy, error) {
	if e == nil || e.state == nil {
		return fees.Policy{}, errNilState
	}
	policy, ok := e.state.FeePolicyGet()
	if !ok {
		return fees.Policy{}, errNilTreasury
	}
	if policy.Treasury == ([20]byte{}) {
		return fees.Policy{}, errNilTreasury
	}
	return policy.Sanitize()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// unwindAll runs compensating actions in reverse order. Compensation calls
// hit the same untrusted collaborators; any of their failures are joined
// into the returned error rather than swallowed.
func unwindAll(undo []func() error) error {
	var errs []error
	for i := len(undo) - 1; i >= 0; i-- {
		if err := undo[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// abort restores the pre-call listing snapshot, unwinds completed outbound
// transfers, and folds any secondary failures into the cause.
func (e *Engine) abort(snapshot *Listing, undo []func() error, cause error) error {
	var errs []error
	if snapshot != nil {
		if err := e.storeListing(snapshot); err != nil {
			errs = append(errs, fmt.Errorf("market: restore listing %d: %w", snapshot.ID, err))
		}
	}
	if err := unwindAll(undo); err != nil {
		errs = append(errs, fmt.Errorf("market: unwind transfers: %w", err))
	}
	if len(errs) == 0 {
		return cause
	}
	return errors.Join(append([]error{cause}, errs...)...)
}

// CreateListing validates the request, pulls the asset into engine custody
// and records a new active listing. A custody failure aborts the whole
// operation with no state recorded. Returns the stored listing including the
// assigned identifier.
func (e *Engine) CreateListing(seller, assetSource [20]byte, assetID, quantity uint64, price *big.Int, paymentToken [20]byte, sale SaleType, duration int64) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.guard(seller); err != nil {
		return nil, err
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if !sale.Valid() {
		return nil, ErrInvalidSaleType
	}
	if sale == SaleAuction && duration <= 0 {
		return nil, ErrInvalidDuration
	}
	if quantity == 0 {
		return nil, ErrInvalidQuantity
	}
	registry, err := e.assetFor(assetSource)
	if err != nil {
		return nil, err
	}
	kind := registry.Kind()
	switch kind {
	case AssetKindUnique:
		if quantity != 1 {
			return nil, ErrQuantityNotOne
		}
	case AssetKindQuantity:
	default:
		return nil, ErrUnsupportedAsset
	}
	if _, err := e.ledgerFor(paymentToken); err != nil {
		return nil, err
	}
	now := e.now()
	var endTime int64
	if sale == SaleAuction {
		endTime = now + duration
	}

	// Custody transfer happens synchronously as part of creation; if the
	// asset cannot be pulled nothing is recorded.
	if err := registry.Pull(seller, assetID, quantity); err != nil {
		return nil, fmt.Errorf("market: pull asset into escrow: %w", err)
	}

	// The counter advances before the record is stored; if either write
	// fails the whole creation aborts and both are rolled back, so no
	// phantom listing record survives without its asset in custody.
	id := e.state.ListingCounter() + 1
	if err := e.state.SetListingCounter(id); err != nil {
		return nil, e.abort(nil, []func() error{func() error {
			return registry.Push(seller, assetID, quantity)
		}}, err)
	}
	listing := &Listing{
		ID:           id,
		Seller:       seller,
		AssetSource:  assetSource,
		AssetID:      assetID,
		Quantity:     quantity,
		Kind:         kind,
		Price:        cloneBigInt(price),
		PaymentToken: paymentToken,
		Sale:         sale,
		EndTime:      endTime,
		CreatedAt:    now,
		Status:       StatusActive,
	}
	if err := e.storeListing(listing); err != nil {
		return nil, e.abort(nil, []func() error{
			func() error { return registry.Push(seller, assetID, quantity) },
			func() error { return e.state.SetListingCounter(id - 1) },
		}, err)
	}
	e.emit(NewListedEvent(listing))
	return listing.Clone(), nil
}

// Purchase settles a fixed-price listing for the buyer. The buyer owes
// price plus the buyer fee; for native listings the attached value must
// match that total exactly, for fungible listings the total is pulled from
// the buyer's balance. All steps succeed or the whole call fails with no
// state change retained.
func (e *Engine) Purchase(listingID uint64, buyer [20]byte, value *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.guard(buyer); err != nil {
		return err
	}
	listing, err := e.loadListing(listingID)
	if err != nil {
		return err
	}
	if err := e.begin(listingID); err != nil {
		return err
	}
	defer e.end(listingID)

	switch listing.Status {
	case StatusActive:
	case StatusWithdrawn:
		return ErrWithdrawn
	default:
		return ErrAlreadySold
	}
	if listing.Sale != SaleFixedPrice {
		return ErrNotFixedPrice
	}
	policy, err := e.feePolicy()
	if err != nil {
		return err
	}
	ledger, err := e.ledgerFor(listing.PaymentToken)
	if err != nil {
		return err
	}
	buyerFee := policy.BuyerFee(listing.Price)
	sellerFee := policy.SellerFee(listing.Price)
	total := policy.BuyerTotal(listing.Price)
	if listing.PaymentToken == NativeToken {
		if value == nil || value.Cmp(total) != 0 {
			return ErrIncorrectAmount
		}
	} else if value != nil && value.Sign() > 0 {
		// Attached native value makes no sense on a token listing.
		return ErrIncorrectAmount
	}

	snapshot := listing.Clone()
	listing.Status = StatusSold
	if err := e.storeListing(listing); err != nil {
		return err
	}

	var undo []func() error
	if err := ledger.Pull(buyer, total); err != nil {
		return e.abort(snapshot, undo, fmt.Errorf("market: collect payment: %w", err))
	}
	undo = append(undo, func() error { return ledger.Push(buyer, total) })

	sellerNet := new(big.Int).Sub(listing.Price, sellerFee)
	if sellerNet.Sign() > 0 {
		if err := ledger.Push(listing.Seller, sellerNet); err != nil {
			return e.abort(snapshot, undo, fmt.Errorf("market: pay seller: %w", err))
		}
		undo = append(undo, func() error { return ledger.Pull(listing.Seller, sellerNet) })
	}
	treasuryCut := new(big.Int).Add(buyerFee, sellerFee)
	if treasuryCut.Sign() > 0 {
		if err := ledger.Push(policy.Treasury, treasuryCut); err != nil {
			return e.abort(snapshot, undo, fmt.Errorf("market: pay treasury: %w", err))
		}
		undo = append(undo, func() error { return ledger.Pull(policy.Treasury, treasuryCut) })
	}
	registry, err := e.assetFor(listing.AssetSource)
	if err != nil {
		return e.abort(snapshot, undo, err)
	}
	if err := registry.Push(buyer, listing.AssetID, listing.Quantity); err != nil {
		return e.abort(snapshot, undo, fmt.Errorf("market: release asset: %w", err))
	}
	e.emit(NewPurchasedEvent(listing, buyer))
	return nil
}

// PlaceBid records a new highest bid on an active auction listing. The bid
// amount is pulled into engine custody and the previous highest bid, if any,
// is refunded in full. A refund failure aborts the new bid.
func (e *Engine) PlaceBid(listingID uint64, bidder [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.guard(bidder); err != nil {
		return err
	}
	listing, err := e.loadListing(listingID)
	if err != nil {
		return err
	}
	if err := e.begin(listingID); err != nil {
		return err
	}
	defer e.end(listingID)

	switch listing.Status {
	case StatusActive:
	case StatusWithdrawn:
		return ErrWithdrawn
	default:
		return ErrAlreadySold
	}
	if listing.Sale != SaleAuction {
		return ErrNotAuction
	}
	if e.now() >= listing.EndTime {
		return ErrAuctionEnded
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroBid
	}
	if listing.HasBid() && amount.Cmp(listing.HighestBid) <= 0 {
		return ErrBidTooLow
	}
	ledger, err := e.ledgerFor(listing.PaymentToken)
	if err != nil {
		return err
	}

	snapshot := listing.Clone()
	prevBidder := listing.HighestBidder
	prevBid := listing.HighestBid
	listing.HighestBidder = bidder
	listing.HighestBid = cloneBigInt(amount)
	if err := e.storeListing(listing); err != nil {
		return err
	}

	var undo []func() error
	bid := cloneBigInt(amount)
	if err := ledger.Pull(bidder, bid); err != nil {
		return e.abort(snapshot, undo, fmt.Errorf("market: collect bid: %w", err))
	}
	undo = append(undo, func() error { return ledger.Push(bidder, bid) })

	if prevBid != nil && prevBid.Sign() > 0 {
		refund := cloneBigInt(prevBid)
		if err := ledger.Push(prevBidder, refund); err != nil {
			return e.abort(snapshot, undo, fmt.Errorf("market: refund outbid funds: %w", err))
		}
	}
	e.emit(NewBidPlacedEvent(listing))
	return nil
}

// FinalizeAuction settles an ended auction: the escrowed asset goes to the
// highest bidder, the seller receives the bid net of the seller fee, and the
// treasury receives the seller fee. Callable by anyone once the deadline has
// passed.
func (e *Engine) FinalizeAuction(listingID uint64, caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.guard(caller); err != nil {
		return err
	}
	listing, err := e.loadListing(listingID)
	if err != nil {
		return err
	}
	if err := e.begin(listingID); err != nil {
		return err
	}
	defer e.end(listingID)

	if listing.Sale != SaleAuction {
		return ErrNotAuction
	}
	switch listing.Status {
	case StatusActive:
	case StatusWithdrawn:
		return ErrWithdrawn
	default:
		return ErrAlreadySold
	}
	if e.now() < listing.EndTime {
		return ErrAuctionNotEnded
	}
	if !listing.HasBid() {
		return ErrNoBids
	}
	policy, err := e.feePolicy()
	if err != nil {
		return err
	}
	ledger, err := e.ledgerFor(listing.PaymentToken)
	if err != nil {
		return err
	}
	registry, err := e.assetFor(listing.AssetSource)
	if err != nil {
		return err
	}

	// The winning bid is already in engine custody; the winner pays no
	// additional buyer fee beyond the bid.
	bid := cloneBigInt(listing.HighestBid)
	sellerFee := policy.SellerFee(bid)
	sellerNet := new(big.Int).Sub(bid, sellerFee)

	snapshot := listing.Clone()
	listing.Status = StatusFinalized
	if err := e.storeListing(listing); err != nil {
		return err
	}

	var undo []func() error
	if err := registry.Push(listing.HighestBidder, listing.AssetID, listing.Quantity); err != nil {
		return e.abort(snapshot, undo, fmt.Errorf("market: release asset: %w", err))
	}
	undo = append(undo, func() error {
		return registry.Pull(listing.HighestBidder, listing.AssetID, listing.Quantity)
	})

	if sellerNet.Sign() > 0 {
		if err := ledger.Push(listing.Seller, sellerNet); err != nil {
			return e.abort(snapshot, undo, fmt.Errorf("market: pay seller: %w", err))
		}
		undo = append(undo, func() error { return ledger.Pull(listing.Seller, sellerNet) })
	}
	if sellerFee.Sign() > 0 {
		if err := ledger.Push(policy.Treasury, sellerFee); err != nil {
			return e.abort(snapshot, undo, fmt.Errorf("market: pay treasury: %w", err))
		}
	}
	e.emit(NewAuctionFinalizedEvent(listing))
	return nil
}

// Withdraw returns an unsold listing's asset to the seller, refunding any
// standing bid first. Only the seller may withdraw; a withdrawn or sold
// listing cannot be withdrawn again.
func (e *Engine) Withdraw(listingID uint64, caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.guard(caller); err != nil {
		return err
	}
	listing, err := e.loadListing(listingID)
	if err != nil {
		return err
	}
	if err := e.begin(listingID); err != nil {
		return err
	}
	defer e.end(listingID)

	if caller != listing.Seller {
		return ErrNotSeller
	}
	switch listing.Status {
	case StatusActive:
	case StatusWithdrawn:
		return ErrWithdrawn
	default:
		return ErrAlreadySold
	}

	snapshot := listing.Clone()
	listing.Status = StatusWithdrawn
	if err := e.storeListing(listing); err != nil {
		return err
	}

	var undo []func() error
	if listing.HasBid() {
		ledger, err := e.ledgerFor(listing.PaymentToken)
		if err != nil {
			return e.abort(snapshot, undo, err)
		}
		refund := cloneBigInt(listing.HighestBid)
		if err := ledger.Push(listing.HighestBidder, refund); err != nil {
			return e.abort(snapshot, undo, fmt.Errorf("market: refund standing bid: %w", err))
		}
		undo = append(undo, func() error { return ledger.Pull(listing.HighestBidder, refund) })
	}
	registry, err := e.assetFor(listing.AssetSource)
	if err != nil {
		return e.abort(snapshot, undo, err)
	}
	if err := registry.Push(listing.Seller, listing.AssetID, listing.Quantity); err != nil {
		return e.abort(snapshot, undo, fmt.Errorf("market: return asset: %w", err))
	}
	e.emit(NewWithdrawnEvent(listing))
	return nil
}

// --- Administrative surface ---

func (e *Engine) requireAdmin(caller [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.admin == ([20]byte{}) || caller != e.admin {
		return ErrNotAdmin
	}
	return nil
}

// SetBuyerFeeBps updates the buyer fee rate. Administrator only; the new
// rate applies to every subsequent settlement, including listings that are
// already active.
func (e *Engine) SetBuyerFeeBps(caller [20]byte, bps uint32) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	policy, ok := e.state.FeePolicyGet()
	if !ok {
		return errNilTreasury
	}
	policy.BuyerFeeBps = bps
	sanitized, err := policy.Sanitize()
	if err != nil {
		return err
	}
	return e.state.FeePolicyPut(sanitized)
}

// SetSellerFeeBps updates the seller fee rate. Administrator only.
func (e *Engine) SetSellerFeeBps(caller [20]byte, bps uint32) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	policy, ok := e.state.FeePolicyGet()
	if !ok {
		return errNilTreasury
	}
	policy.SellerFeeBps = bps
	sanitized, err := policy.Sanitize()
	if err != nil {
		return err
	}
	return e.state.FeePolicyPut(sanitized)
}

// SetBlacklisted flips the blacklist flag for an identity. Administrator
// only.
func (e *Engine) SetBlacklisted(caller, addr [20]byte, flagged bool) error {
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	return e.state.BlacklistSet(addr, flagged)
}

// --- Read surface ---

// Listing returns a copy of the listing record for the given id.
func (e *Engine) Listing(id uint64) (*Listing, error) {
	listing, err := e.loadListing(id)
	if err != nil {
		return nil, err
	}
	return listing.Clone(), nil
}

// ListingCounter returns the number of successful creations, which equals
// the most recently assigned listing id.
func (e *Engine) ListingCounter() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.state.ListingCounter(), nil
}

// FeePolicy returns the current fee configuration.
func (e *Engine) FeePolicy() (fees.Policy, error) {
	return e.feePolicy()
}

// IsBlacklisted reports the blacklist flag for an identity.
func (e *Engine) IsBlacklisted(addr [20]byte) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	return e.state.BlacklistGet(addr), nil
}
