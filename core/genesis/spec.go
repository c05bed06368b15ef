// Package genesis describes the initial marketplace state: the admin and
// treasury identities, fee rates, currency balances and asset ownership. The
// spec is a YAML document loaded once at node start.
package genesis

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"nftmarket/crypto"
	"nftmarket/native/fees"
)

// BalanceSpec credits one account in one currency.
type BalanceSpec struct {
	Address string `yaml:"address"`
	Amount  string `yaml:"amount"`
}

// TokenSpec declares a fungible payment token and its initial balances.
type TokenSpec struct {
	Token    string        `yaml:"token"`
	Balances []BalanceSpec `yaml:"balances"`
}

// ItemSpec seeds ownership in an asset source. Quantity is ignored for
// unique sources, which always carry one unit per identifier.
type ItemSpec struct {
	AssetID  uint64 `yaml:"assetId"`
	Owner    string `yaml:"owner"`
	Quantity uint64 `yaml:"quantity"`
}

// AssetSourceSpec declares an asset source and its initial items.
type AssetSourceSpec struct {
	Source string     `yaml:"source"`
	Kind   string     `yaml:"kind"`
	Items  []ItemSpec `yaml:"items"`
}

// Spec is the root genesis document.
type Spec struct {
	NetworkName    string            `yaml:"networkName"`
	Admin          string            `yaml:"admin"`
	Treasury       string            `yaml:"treasury"`
	BuyerFeeBps    uint32            `yaml:"buyerFeeBps"`
	SellerFeeBps   uint32            `yaml:"sellerFeeBps"`
	NativeBalances []BalanceSpec     `yaml:"nativeBalances"`
	Tokens         []TokenSpec       `yaml:"tokens"`
	AssetSources   []AssetSourceSpec `yaml:"assetSources"`
}

// LoadFile reads and validates a genesis spec from a YAML file.
func LoadFile(path string) (*Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("genesis: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes and validates a genesis spec from YAML bytes.
func Parse(raw []byte) (*Spec, error) {
	spec := &Spec{}
	if err := yaml.Unmarshal(raw, spec); err != nil {
		return nil, fmt.Errorf("genesis: decode: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// Validate checks that the spec is internally consistent.
func (s *Spec) Validate() error {
	if s == nil {
		return fmt.Errorf("genesis: nil spec")
	}
	// The treasury may be left unset here and supplied by the daemon
	// configuration; the node rejects a spec that ends up without one.
	if strings.TrimSpace(s.Treasury) != "" {
		if _, err := ParseAddress(s.Treasury); err != nil {
			return fmt.Errorf("genesis: treasury: %w", err)
		}
	}
	if strings.TrimSpace(s.Admin) != "" {
		if _, err := ParseAddress(s.Admin); err != nil {
			return fmt.Errorf("genesis: admin: %w", err)
		}
	}
	if s.BuyerFeeBps > fees.MaxBps || s.SellerFeeBps > fees.MaxBps {
		return fmt.Errorf("genesis: fee rates exceed %d bps", fees.MaxBps)
	}
	for _, balance := range s.NativeBalances {
		if err := validateBalance(balance); err != nil {
			return fmt.Errorf("genesis: native balance: %w", err)
		}
	}
	for _, token := range s.Tokens {
		if _, err := ParseAddress(token.Token); err != nil {
			return fmt.Errorf("genesis: token %q: %w", token.Token, err)
		}
		for _, balance := range token.Balances {
			if err := validateBalance(balance); err != nil {
				return fmt.Errorf("genesis: token %q balance: %w", token.Token, err)
			}
		}
	}
	for _, source := range s.AssetSources {
		if _, err := ParseAddress(source.Source); err != nil {
			return fmt.Errorf("genesis: asset source %q: %w", source.Source, err)
		}
		switch source.Kind {
		case "unique", "quantity":
		default:
			return fmt.Errorf("genesis: asset source %q: unknown kind %q", source.Source, source.Kind)
		}
		for _, item := range source.Items {
			if _, err := ParseAddress(item.Owner); err != nil {
				return fmt.Errorf("genesis: asset %d owner: %w", item.AssetID, err)
			}
			if source.Kind == "quantity" && item.Quantity == 0 {
				return fmt.Errorf("genesis: asset %d: quantity required", item.AssetID)
			}
		}
	}
	return nil
}

func validateBalance(b BalanceSpec) error {
	if _, err := ParseAddress(b.Address); err != nil {
		return err
	}
	if _, err := ParseAmount(b.Amount); err != nil {
		return err
	}
	return nil
}

// ParseAddress decodes a bech32 account address into its raw form.
func ParseAddress(addr string) ([20]byte, error) {
	var out [20]byte
	decoded, err := crypto.DecodeAddress(strings.TrimSpace(addr))
	if err != nil {
		return out, err
	}
	return decoded.Bytes20(), nil
}

// ParseAmount parses a decimal amount string into a positive integer.
func ParseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount must not be empty")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount %q must be positive", raw)
	}
	return amount, nil
}

// ApplyConfigDefaults fills the treasury and fee rates from the daemon
// configuration wherever the genesis document leaves them unset. Values
// present in the document win over the configuration.
func (s *Spec) ApplyConfigDefaults(treasury string, buyerFeeBps, sellerFeeBps uint32) {
	if strings.TrimSpace(s.Treasury) == "" {
		s.Treasury = strings.TrimSpace(treasury)
	}
	if s.BuyerFeeBps == 0 && s.SellerFeeBps == 0 {
		s.BuyerFeeBps = buyerFeeBps
		s.SellerFeeBps = sellerFeeBps
	}
}

// TreasuryAddress returns the parsed treasury account.
func (s *Spec) TreasuryAddress() ([20]byte, error) {
	return ParseAddress(s.Treasury)
}

// AdminAddress returns the parsed admin account, zero when unset.
func (s *Spec) AdminAddress() ([20]byte, error) {
	if strings.TrimSpace(s.Admin) == "" {
		return [20]byte{}, nil
	}
	return ParseAddress(s.Admin)
}
