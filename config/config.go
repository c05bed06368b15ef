// Package config loads the marketplace daemon configuration from a TOML
// file, creating a commented default alongside a fresh admin keystore when
// none exists yet.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"nftmarket/crypto"
	"nftmarket/native/fees"

	"github.com/BurntSushi/toml"
)

type Config struct {
	RPCAddress        string `toml:"RPCAddress"`
	DataDir           string `toml:"DataDir"`
	GenesisFile       string `toml:"GenesisFile"`
	NetworkName       string `toml:"NetworkName"`
	AdminKeystorePath string `toml:"AdminKeystorePath"`
	AdminJWTSecretEnv string `toml:"AdminJWTSecretEnv"`

	LogFile       string `toml:"LogFile"`
	LogMaxSizeMB  int    `toml:"LogMaxSizeMB"`
	LogMaxBackups int    `toml:"LogMaxBackups"`

	RateLimitPerSecond float64 `toml:"RateLimitPerSecond"`
	RateLimitBurst     int     `toml:"RateLimitBurst"`

	BuyerFeeBps  uint32 `toml:"BuyerFeeBps"`
	SellerFeeBps uint32 `toml:"SellerFeeBps"`
	Treasury     string `toml:"Treasury"`
}

// Load loads the configuration from the given path. A missing file is not an
// error: a default configuration is created, persisted and returned.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = "mkt-local"
	}
	if c.RPCAddress == "" {
		c.RPCAddress = ":8080"
	}
	if c.DataDir == "" {
		c.DataDir = "./mkt-data"
	}
	if c.AdminJWTSecretEnv == "" {
		c.AdminJWTSecretEnv = "MKT_ADMIN_JWT_SECRET"
	}
	if c.LogMaxSizeMB <= 0 {
		c.LogMaxSizeMB = 100
	}
	if c.LogMaxBackups < 0 {
		c.LogMaxBackups = 0
	}
	if c.RateLimitPerSecond <= 0 {
		c.RateLimitPerSecond = 50
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = 100
	}
	if c.BuyerFeeBps == 0 && c.SellerFeeBps == 0 {
		c.BuyerFeeBps = fees.DefaultBuyerFeeBps
		c.SellerFeeBps = fees.DefaultSellerFeeBps
	}
}

// Validate checks value ranges that cannot be repaired by defaulting.
func (c *Config) Validate() error {
	if c.BuyerFeeBps > fees.MaxBps {
		return fmt.Errorf("config: BuyerFeeBps %d exceeds %d", c.BuyerFeeBps, fees.MaxBps)
	}
	if c.SellerFeeBps > fees.MaxBps {
		return fmt.Errorf("config: SellerFeeBps %d exceeds %d", c.SellerFeeBps, fees.MaxBps)
	}
	if c.Treasury != "" {
		if _, err := c.TreasuryAddress(); err != nil {
			return err
		}
	}
	return nil
}

// TreasuryAddress parses the configured treasury bech32 address. The zero
// address is returned when the field is unset; callers decide whether that
// is acceptable.
func (c *Config) TreasuryAddress() ([20]byte, error) {
	var out [20]byte
	if strings.TrimSpace(c.Treasury) == "" {
		return out, nil
	}
	addr, err := crypto.DecodeAddress(c.Treasury)
	if err != nil {
		return out, fmt.Errorf("config: invalid Treasury address: %w", err)
	}
	return addr.Bytes20(), nil
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.AdminKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.AdminKeystorePath != keystorePath {
		cfg.AdminKeystorePath = keystorePath
		return persist(configPath, cfg)
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := &Config{AdminKeystorePath: keystorePath}
	cfg.applyDefaults()

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "admin.keystore")
}
