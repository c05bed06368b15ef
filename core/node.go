package core

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"nftmarket/core/events"
	"nftmarket/core/genesis"
	"nftmarket/native/assets"
	"nftmarket/native/bank"
	"nftmarket/native/fees"
	"nftmarket/native/market"
	"nftmarket/state"
	"nftmarket/storage"
)

var genesisAppliedKey = []byte("genesis/applied")

// Node owns the marketplace engine and its collaborators and serializes
// every mutating operation behind a single mutex. The engine relies on this
// single-writer discipline; nothing below the node locks.
type Node struct {
	mu      sync.Mutex
	db      storage.Database
	state   *state.Manager
	engine  *market.Engine
	native  *bank.Ledger
	ledgers *bank.Directory
	catalog *assets.Catalog
	bus     *events.Bus
}

// NewNode wires a node over the given database and applies the genesis spec
// on first start. Re-opening an existing data directory skips balance and
// ownership seeding but still registers the spec's tokens and asset sources.
func NewNode(db storage.Database, spec *genesis.Spec) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("core: database required")
	}
	if spec == nil {
		return nil, fmt.Errorf("core: genesis spec required")
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	n := &Node{
		db:      db,
		state:   state.NewManager(db),
		engine:  market.NewEngine(),
		native:  bank.NewLedger(db, market.NativeToken),
		ledgers: bank.NewDirectory(),
		catalog: assets.NewCatalog(),
		bus:     events.NewBus(0),
	}

	if err := n.applyGenesis(spec); err != nil {
		return nil, err
	}

	admin, err := spec.AdminAddress()
	if err != nil {
		return nil, err
	}
	n.engine.SetState(n.state)
	n.engine.SetAssetResolver(n.catalog)
	n.engine.SetLedgerResolver(n.ledgers)
	n.engine.SetNativeLedger(n.native)
	n.engine.SetAdmin(admin)
	n.engine.SetEmitter(n.bus)
	return n, nil
}

func (n *Node) applyGenesis(spec *genesis.Spec) error {
	seeded := true
	if _, err := n.db.Get(genesisAppliedKey); err != nil {
		if !errors.Is(err, storage.ErrKeyNotFound) {
			return err
		}
		seeded = false
	}

	// Token ledgers and asset registries are in-memory routing; they are
	// rebuilt from the spec on every start.
	for _, token := range spec.Tokens {
		identity, err := genesis.ParseAddress(token.Token)
		if err != nil {
			return err
		}
		ledger := bank.NewLedger(n.db, identity)
		n.ledgers.Register(identity, ledger)
		if seeded {
			continue
		}
		for _, balance := range token.Balances {
			if err := mintBalance(ledger, balance); err != nil {
				return err
			}
		}
	}
	for _, source := range spec.AssetSources {
		identity, err := genesis.ParseAddress(source.Source)
		if err != nil {
			return err
		}
		switch source.Kind {
		case "unique":
			registry := assets.NewUniqueRegistry(n.db, identity)
			n.catalog.Register(identity, registry)
			if seeded {
				continue
			}
			for _, item := range source.Items {
				owner, err := genesis.ParseAddress(item.Owner)
				if err != nil {
					return err
				}
				if err := registry.Mint(owner, item.AssetID); err != nil {
					return err
				}
			}
		case "quantity":
			registry := assets.NewQuantityRegistry(n.db, identity)
			n.catalog.Register(identity, registry)
			if seeded {
				continue
			}
			for _, item := range source.Items {
				owner, err := genesis.ParseAddress(item.Owner)
				if err != nil {
					return err
				}
				if err := registry.Mint(owner, item.AssetID, item.Quantity); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("core: unknown asset source kind %q", source.Kind)
		}
	}

	if seeded {
		return nil
	}

	for _, balance := range spec.NativeBalances {
		if err := mintBalance(n.native, balance); err != nil {
			return err
		}
	}

	if strings.TrimSpace(spec.Treasury) == "" {
		return fmt.Errorf("core: treasury address required (genesis or daemon config)")
	}
	treasury, err := spec.TreasuryAddress()
	if err != nil {
		return err
	}
	policy := fees.Policy{
		BuyerFeeBps:  spec.BuyerFeeBps,
		SellerFeeBps: spec.SellerFeeBps,
		Treasury:     treasury,
	}
	if policy.BuyerFeeBps == 0 && policy.SellerFeeBps == 0 {
		policy.BuyerFeeBps = fees.DefaultBuyerFeeBps
		policy.SellerFeeBps = fees.DefaultSellerFeeBps
	}
	if err := n.state.FeePolicyPut(policy); err != nil {
		return err
	}
	return n.db.Put(genesisAppliedKey, []byte{1})
}

func mintBalance(ledger *bank.Ledger, spec genesis.BalanceSpec) error {
	addr, err := genesis.ParseAddress(spec.Address)
	if err != nil {
		return err
	}
	amount, err := genesis.ParseAmount(spec.Amount)
	if err != nil {
		return err
	}
	return ledger.Mint(addr, amount)
}

// Events returns the node's event bus for subscription.
func (n *Node) Events() *events.Bus { return n.bus }

// SetAdmin overrides the engine's administrator identity. The daemon uses
// this to fall back to the admin keystore address when the genesis spec
// does not name an admin.
func (n *Node) SetAdmin(addr [20]byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.engine.SetAdmin(addr)
}

// SetNowFunc overrides the engine time source. Intended for tests.
func (n *Node) SetNowFunc(now func() int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.engine.SetNowFunc(now)
}

// --- Mutating surface, serialized by the node mutex ---

// CreateListing escrows an asset and records a new listing.
func (n *Node) CreateListing(seller, assetSource [20]byte, assetID, quantity uint64, price *big.Int, paymentToken [20]byte, sale market.SaleType, duration int64) (*market.Listing, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.CreateListing(seller, assetSource, assetID, quantity, price, paymentToken, sale, duration)
}

// Purchase settles a fixed-price listing.
func (n *Node) Purchase(listingID uint64, buyer [20]byte, value *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Purchase(listingID, buyer, value)
}

// PlaceBid records a new highest bid on an auction listing.
func (n *Node) PlaceBid(listingID uint64, bidder [20]byte, amount *big.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.PlaceBid(listingID, bidder, amount)
}

// FinalizeAuction settles an ended auction.
func (n *Node) FinalizeAuction(listingID uint64, caller [20]byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.FinalizeAuction(listingID, caller)
}

// Withdraw returns an unsold listing's asset to the seller.
func (n *Node) Withdraw(listingID uint64, caller [20]byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Withdraw(listingID, caller)
}

// SetBuyerFeeBps updates the buyer fee rate. Admin only.
func (n *Node) SetBuyerFeeBps(caller [20]byte, bps uint32) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.SetBuyerFeeBps(caller, bps)
}

// SetSellerFeeBps updates the seller fee rate. Admin only.
func (n *Node) SetSellerFeeBps(caller [20]byte, bps uint32) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.SetSellerFeeBps(caller, bps)
}

// SetBlacklisted flips the blacklist flag for an identity. Admin only.
func (n *Node) SetBlacklisted(caller, addr [20]byte, flagged bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.SetBlacklisted(caller, addr, flagged)
}

// --- Read surface ---

// GetListing returns a copy of the listing record.
func (n *Node) GetListing(id uint64) (*market.Listing, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Listing(id)
}

// Listings returns every stored listing in id order.
func (n *Node) Listings() []*market.Listing {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.Listings()
}

// ListingCounter returns the most recently assigned listing id.
func (n *Node) ListingCounter() (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.ListingCounter()
}

// FeePolicy returns the current fee configuration.
func (n *Node) FeePolicy() (fees.Policy, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.FeePolicy()
}

// IsBlacklisted reports the blacklist flag for an identity.
func (n *Node) IsBlacklisted(addr [20]byte) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.IsBlacklisted(addr)
}

// BalanceOf returns the free balance of an account in the given currency.
// The zero token selects the native coin.
func (n *Node) BalanceOf(token, addr [20]byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if token == market.NativeToken {
		return n.native.BalanceOf(addr)
	}
	ledger, ok := n.ledgers.ResolveLedger(token)
	if !ok {
		return nil, market.ErrUnsupportedToken
	}
	bankLedger, ok := ledger.(*bank.Ledger)
	if !ok {
		return nil, market.ErrUnsupportedToken
	}
	return bankLedger.BalanceOf(addr)
}
