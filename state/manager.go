// Package state persists the marketplace registry: listing records, the
// monotonic listing counter, the fee policy and blacklist flags. Records are
// JSON-encoded over the key-value store so they stay inspectable with plain
// tooling.
package state

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"nftmarket/native/fees"
	"nftmarket/native/market"
	"nftmarket/storage"
)

var errNilDatabase = errors.New("state: database not configured")

const (
	counterKey   = "market/counter"
	feePolicyKey = "market/params/fees"
)

func listingKey(id uint64) []byte {
	return []byte(fmt.Sprintf("market/listing/%020d", id))
}

func blacklistKey(addr [20]byte) []byte {
	return []byte("market/blacklist/" + hex.EncodeToString(addr[:]))
}

// Manager is the storage-backed state the engine operates on. Mutating calls
// are serialized by the node; the manager itself performs no locking.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager over the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// ListingPut validates and stores a listing record keyed by its id.
func (m *Manager) ListingPut(l *market.Listing) error {
	if m == nil || m.db == nil {
		return errNilDatabase
	}
	sanitized, err := market.SanitizeListing(l)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(sanitized)
	if err != nil {
		return fmt.Errorf("state: encode listing %d: %w", sanitized.ID, err)
	}
	return m.db.Put(listingKey(sanitized.ID), raw)
}

// ListingGet returns a copy of the listing record for the given id.
func (m *Manager) ListingGet(id uint64) (*market.Listing, bool) {
	if m == nil || m.db == nil {
		return nil, false
	}
	raw, err := m.db.Get(listingKey(id))
	if err != nil {
		return nil, false
	}
	var listing market.Listing
	if err := json.Unmarshal(raw, &listing); err != nil {
		return nil, false
	}
	return &listing, true
}

// ListingCounter returns the most recently assigned listing id, zero when no
// listing has ever been created.
func (m *Manager) ListingCounter() uint64 {
	if m == nil || m.db == nil {
		return 0
	}
	raw, err := m.db.Get([]byte(counterKey))
	if err != nil || len(raw) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(raw)
}

// SetListingCounter persists the listing counter.
func (m *Manager) SetListingCounter(v uint64) error {
	if m == nil || m.db == nil {
		return errNilDatabase
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return m.db.Put([]byte(counterKey), buf)
}

// FeePolicyGet returns the stored fee policy. The second return is false
// when no policy has been written yet.
func (m *Manager) FeePolicyGet() (fees.Policy, bool) {
	if m == nil || m.db == nil {
		return fees.Policy{}, false
	}
	raw, err := m.db.Get([]byte(feePolicyKey))
	if err != nil {
		return fees.Policy{}, false
	}
	var policy fees.Policy
	if err := json.Unmarshal(raw, &policy); err != nil {
		return fees.Policy{}, false
	}
	return policy, true
}

// FeePolicyPut validates and persists the fee policy.
func (m *Manager) FeePolicyPut(p fees.Policy) error {
	if m == nil || m.db == nil {
		return errNilDatabase
	}
	sanitized, err := p.Sanitize()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(sanitized)
	if err != nil {
		return fmt.Errorf("state: encode fee policy: %w", err)
	}
	return m.db.Put([]byte(feePolicyKey), raw)
}

// BlacklistGet reports whether an identity is flagged.
func (m *Manager) BlacklistGet(addr [20]byte) bool {
	if m == nil || m.db == nil {
		return false
	}
	raw, err := m.db.Get(blacklistKey(addr))
	if err != nil {
		return false
	}
	return len(raw) == 1 && raw[0] == 1
}

// BlacklistSet persists the blacklist flag for an identity. Clearing a flag
// removes the record.
func (m *Manager) BlacklistSet(addr [20]byte, flagged bool) error {
	if m == nil || m.db == nil {
		return errNilDatabase
	}
	if !flagged {
		err := m.db.Delete(blacklistKey(addr))
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil
		}
		return err
	}
	return m.db.Put(blacklistKey(addr), []byte{1})
}

// Listings returns every stored listing from id 1 through the counter, in
// id order. Intended for the query surface; ids whose records are missing
// are skipped.
func (m *Manager) Listings() []*market.Listing {
	if m == nil || m.db == nil {
		return nil
	}
	top := m.ListingCounter()
	out := make([]*market.Listing, 0, top)
	for id := uint64(1); id <= top; id++ {
		if listing, ok := m.ListingGet(id); ok {
			out = append(out, listing)
		}
	}
	return out
}
