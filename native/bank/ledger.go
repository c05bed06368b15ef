// Package bank provides the vault-backed currency ledgers the marketplace
// engine settles payments through. One ledger instance covers one currency:
// the native coin or a single fungible token. Funds pulled by the engine sit
// in the ledger's vault until pushed back out at settlement or refund.
package bank

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"nftmarket/native/market"
	"nftmarket/storage"
)

var (
	ErrInvalidAmount     = errors.New("bank: amount must be positive")
	ErrInsufficientFunds = errors.New("bank: insufficient funds")
	ErrVaultUnderflow    = errors.New("bank: vault balance underflow")
)

// Ledger tracks account balances and an escrow vault for one currency.
type Ledger struct {
	db    storage.Database
	token [20]byte
}

// NewLedger creates a ledger for the given currency over the supplied
// database. The zero token identifies the native coin.
func NewLedger(db storage.Database, token [20]byte) *Ledger {
	return &Ledger{db: db, token: token}
}

// Token returns the currency identity this ledger covers.
func (l *Ledger) Token() [20]byte { return l.token }

func (l *Ledger) balanceKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("bank/%s/balance/%s",
		hex.EncodeToString(l.token[:]), hex.EncodeToString(addr[:])))
}

func (l *Ledger) vaultKey() []byte {
	return []byte(fmt.Sprintf("bank/%s/vault", hex.EncodeToString(l.token[:])))
}

func (l *Ledger) read(key []byte) (*big.Int, error) {
	raw, err := l.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return big.NewInt(0), nil
		}
		return nil, err
	}
	return new(big.Int).SetBytes(raw), nil
}

func (l *Ledger) write(key []byte, value *big.Int) error {
	if value.Sign() == 0 {
		err := l.db.Delete(key)
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil
		}
		return err
	}
	return l.db.Put(key, value.Bytes())
}

// BalanceOf returns the free balance of an account.
func (l *Ledger) BalanceOf(addr [20]byte) (*big.Int, error) {
	return l.read(l.balanceKey(addr))
}

// Vault returns the escrowed total currently held by the ledger.
func (l *Ledger) Vault() (*big.Int, error) {
	return l.read(l.vaultKey())
}

// Mint credits an account. Used by genesis loading and tests.
func (l *Ledger) Mint(to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance, err := l.BalanceOf(to)
	if err != nil {
		return err
	}
	return l.write(l.balanceKey(to), balance.Add(balance, amount))
}

// Pull moves funds from an account into the vault.
func (l *Ledger) Pull(from [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance, err := l.BalanceOf(from)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	vault, err := l.Vault()
	if err != nil {
		return err
	}
	if err := l.write(l.balanceKey(from), balance.Sub(balance, amount)); err != nil {
		return err
	}
	return l.write(l.vaultKey(), vault.Add(vault, amount))
}

// Push releases funds from the vault to an account.
func (l *Ledger) Push(to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	vault, err := l.Vault()
	if err != nil {
		return err
	}
	if vault.Cmp(amount) < 0 {
		return ErrVaultUnderflow
	}
	balance, err := l.BalanceOf(to)
	if err != nil {
		return err
	}
	if err := l.write(l.vaultKey(), vault.Sub(vault, amount)); err != nil {
		return err
	}
	return l.write(l.balanceKey(to), balance.Add(balance, amount))
}

// Directory maps token identities to their ledgers and implements the
// engine's resolver contract. The native ledger is not registered here; the
// engine holds it directly.
type Directory struct {
	mu      sync.RWMutex
	ledgers map[[20]byte]market.Ledger
}

// NewDirectory creates an empty ledger directory.
func NewDirectory() *Directory {
	return &Directory{ledgers: make(map[[20]byte]market.Ledger)}
}

// Register adds or replaces the ledger for a token identity.
func (d *Directory) Register(token [20]byte, ledger market.Ledger) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ledgers[token] = ledger
}

// ResolveLedger returns the ledger for a token identity.
func (d *Directory) ResolveLedger(token [20]byte) (market.Ledger, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ledger, ok := d.ledgers[token]
	return ledger, ok
}
