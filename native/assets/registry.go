// Package assets provides the custody-backed asset registries the
// marketplace engine escrows items through. A unique registry tracks one
// owner per asset identifier; a quantity registry tracks fungible unit
// balances per identifier. Both hand custody to a reserved escrow account
// while an item is listed.
package assets

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"nftmarket/native/market"
	"nftmarket/storage"
)

var (
	ErrUnknownAsset      = errors.New("assets: unknown asset")
	ErrNotOwner          = errors.New("assets: caller does not own the asset")
	ErrQuantityNotOne    = errors.New("assets: unique items move one unit at a time")
	ErrInsufficientUnits = errors.New("assets: insufficient units")
	ErrAlreadyMinted     = errors.New("assets: asset already minted")
)

// escrowAddress is the reserved custody account items are parked under
// while listed. No private key exists for it.
var escrowAddress = [20]byte{0xff, 'm', 'k', 't', '/', 'e', 's', 'c', 'r', 'o', 'w'}

// EscrowAddress returns the reserved custody account.
func EscrowAddress() [20]byte { return escrowAddress }

func uniqueKey(source [20]byte, assetID uint64) []byte {
	return []byte(fmt.Sprintf("assets/unique/%s/%d", hex.EncodeToString(source[:]), assetID))
}

func quantityKey(source [20]byte, assetID uint64, holder [20]byte) []byte {
	return []byte(fmt.Sprintf("assets/quantity/%s/%d/%s",
		hex.EncodeToString(source[:]), assetID, hex.EncodeToString(holder[:])))
}

// UniqueRegistry stores one owner per asset identifier.
type UniqueRegistry struct {
	db     storage.Database
	source [20]byte
}

// NewUniqueRegistry creates a unique-item registry for the given source
// identity over the supplied database.
func NewUniqueRegistry(db storage.Database, source [20]byte) *UniqueRegistry {
	return &UniqueRegistry{db: db, source: source}
}

// Kind reports the capability of this registry.
func (r *UniqueRegistry) Kind() market.AssetKind { return market.AssetKindUnique }

// Source returns the source identity the registry was created for.
func (r *UniqueRegistry) Source() [20]byte { return r.source }

// Owner returns the current owner of the asset.
func (r *UniqueRegistry) Owner(assetID uint64) ([20]byte, error) {
	var owner [20]byte
	raw, err := r.db.Get(uniqueKey(r.source, assetID))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return owner, ErrUnknownAsset
		}
		return owner, err
	}
	if len(raw) != len(owner) {
		return owner, fmt.Errorf("assets: corrupt owner record for asset %d", assetID)
	}
	copy(owner[:], raw)
	return owner, nil
}

// Mint records the initial owner of an asset. Used by genesis loading and
// tests; minting over an existing record is rejected.
func (r *UniqueRegistry) Mint(to [20]byte, assetID uint64) error {
	if _, err := r.Owner(assetID); err == nil {
		return ErrAlreadyMinted
	} else if !errors.Is(err, ErrUnknownAsset) {
		return err
	}
	return r.setOwner(assetID, to)
}

func (r *UniqueRegistry) setOwner(assetID uint64, owner [20]byte) error {
	return r.db.Put(uniqueKey(r.source, assetID), owner[:])
}

// Pull moves the asset from its owner into escrow custody.
func (r *UniqueRegistry) Pull(owner [20]byte, assetID, quantity uint64) error {
	if quantity != 1 {
		return ErrQuantityNotOne
	}
	current, err := r.Owner(assetID)
	if err != nil {
		return err
	}
	if current != owner {
		return ErrNotOwner
	}
	return r.setOwner(assetID, escrowAddress)
}

// Push releases the asset from escrow custody to the recipient.
func (r *UniqueRegistry) Push(to [20]byte, assetID, quantity uint64) error {
	if quantity != 1 {
		return ErrQuantityNotOne
	}
	current, err := r.Owner(assetID)
	if err != nil {
		return err
	}
	if current != escrowAddress {
		return fmt.Errorf("assets: asset %d not in escrow custody", assetID)
	}
	return r.setOwner(assetID, to)
}

// QuantityRegistry stores fungible unit balances per asset identifier and
// holder.
type QuantityRegistry struct {
	db     storage.Database
	source [20]byte
}

// NewQuantityRegistry creates a quantity-item registry for the given source
// identity over the supplied database.
func NewQuantityRegistry(db storage.Database, source [20]byte) *QuantityRegistry {
	return &QuantityRegistry{db: db, source: source}
}

// Kind reports the capability of this registry.
func (r *QuantityRegistry) Kind() market.AssetKind { return market.AssetKindQuantity }

// Source returns the source identity the registry was created for.
func (r *QuantityRegistry) Source() [20]byte { return r.source }

// Balance returns the unit balance a holder has for an asset identifier.
func (r *QuantityRegistry) Balance(holder [20]byte, assetID uint64) (uint64, error) {
	raw, err := r.db.Get(quantityKey(r.source, assetID, holder))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("assets: corrupt balance record for asset %d", assetID)
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (r *QuantityRegistry) setBalance(holder [20]byte, assetID, balance uint64) error {
	key := quantityKey(r.source, assetID, holder)
	if balance == 0 {
		err := r.db.Delete(key)
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil
		}
		return err
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, balance)
	return r.db.Put(key, buf)
}

// Mint credits units to a holder. Used by genesis loading and tests.
func (r *QuantityRegistry) Mint(to [20]byte, assetID, quantity uint64) error {
	balance, err := r.Balance(to, assetID)
	if err != nil {
		return err
	}
	return r.setBalance(to, assetID, balance+quantity)
}

func (r *QuantityRegistry) move(from, to [20]byte, assetID, quantity uint64) error {
	fromBal, err := r.Balance(from, assetID)
	if err != nil {
		return err
	}
	if fromBal < quantity {
		return ErrInsufficientUnits
	}
	toBal, err := r.Balance(to, assetID)
	if err != nil {
		return err
	}
	if err := r.setBalance(from, assetID, fromBal-quantity); err != nil {
		return err
	}
	return r.setBalance(to, assetID, toBal+quantity)
}

// Pull moves units from the owner into escrow custody.
func (r *QuantityRegistry) Pull(owner [20]byte, assetID, quantity uint64) error {
	return r.move(owner, escrowAddress, assetID, quantity)
}

// Push releases units from escrow custody to the recipient.
func (r *QuantityRegistry) Push(to [20]byte, assetID, quantity uint64) error {
	return r.move(escrowAddress, to, assetID, quantity)
}

// Catalog maps asset source identities to their registries and implements
// the engine's resolver contract.
type Catalog struct {
	mu         sync.RWMutex
	registries map[[20]byte]market.AssetRegistry
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{registries: make(map[[20]byte]market.AssetRegistry)}
}

// Register adds or replaces the registry for a source identity.
func (c *Catalog) Register(source [20]byte, registry market.AssetRegistry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registries[source] = registry
}

// ResolveAsset returns the registry for a source identity.
func (c *Catalog) ResolveAsset(source [20]byte) (market.AssetRegistry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	registry, ok := c.registries[source]
	return registry, ok
}
