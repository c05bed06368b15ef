package bank

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"nftmarket/storage"
)

var (
	testToken = [20]byte{0x10}
	alice     = [20]byte{0x01}
	bob       = [20]byte{0x02}
)

func TestLedgerPullPushRoundTrip(t *testing.T) {
	ledger := NewLedger(storage.NewMemDB(), testToken)
	require.NoError(t, ledger.Mint(alice, big.NewInt(1000)))

	require.ErrorIs(t, ledger.Pull(alice, big.NewInt(1001)), ErrInsufficientFunds)
	require.NoError(t, ledger.Pull(alice, big.NewInt(400)))

	balance, err := ledger.BalanceOf(alice)
	require.NoError(t, err)
	require.Equal(t, int64(600), balance.Int64())

	vault, err := ledger.Vault()
	require.NoError(t, err)
	require.Equal(t, int64(400), vault.Int64())

	require.ErrorIs(t, ledger.Push(bob, big.NewInt(401)), ErrVaultUnderflow)
	require.NoError(t, ledger.Push(bob, big.NewInt(400)))

	balance, err = ledger.BalanceOf(bob)
	require.NoError(t, err)
	require.Equal(t, int64(400), balance.Int64())

	vault, err = ledger.Vault()
	require.NoError(t, err)
	require.Zero(t, vault.Sign())
}

func TestLedgerRejectsNonPositiveAmounts(t *testing.T) {
	ledger := NewLedger(storage.NewMemDB(), testToken)
	require.ErrorIs(t, ledger.Mint(alice, nil), ErrInvalidAmount)
	require.ErrorIs(t, ledger.Mint(alice, big.NewInt(0)), ErrInvalidAmount)
	require.ErrorIs(t, ledger.Pull(alice, big.NewInt(-5)), ErrInvalidAmount)
	require.ErrorIs(t, ledger.Push(alice, big.NewInt(0)), ErrInvalidAmount)
}

func TestLedgersAreIsolatedPerToken(t *testing.T) {
	db := storage.NewMemDB()
	first := NewLedger(db, testToken)
	second := NewLedger(db, [20]byte{0x11})
	require.NoError(t, first.Mint(alice, big.NewInt(500)))

	balance, err := second.BalanceOf(alice)
	require.NoError(t, err)
	require.Zero(t, balance.Sign())
}

func TestDirectoryResolvesRegisteredTokens(t *testing.T) {
	directory := NewDirectory()
	ledger := NewLedger(storage.NewMemDB(), testToken)
	directory.Register(testToken, ledger)

	resolved, ok := directory.ResolveLedger(testToken)
	require.True(t, ok)
	require.NotNil(t, resolved)

	_, ok = directory.ResolveLedger([20]byte{0x99})
	require.False(t, ok)
}
