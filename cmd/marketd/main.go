package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"nftmarket/config"
	"nftmarket/core"
	"nftmarket/core/genesis"
	"nftmarket/crypto"
	"nftmarket/observability"
	"nftmarket/observability/logging"
	"nftmarket/rpc"
	"nftmarket/storage"
)

const (
	genesisPathEnv = "MKT_GENESIS"
	adminPassEnv   = "MKT_ADMIN_PASS"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis YAML file (overrides MKT_GENESIS and config GenesisFile)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup("marketd", cfg.NetworkName, logging.Options{
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})

	genesisPath := resolveGenesisPath(*genesisFlag, cfg.GenesisFile, os.LookupEnv)
	if genesisPath == "" {
		logger.Error("No genesis file configured; set GenesisFile, MKT_GENESIS or --genesis")
		os.Exit(1)
	}
	spec, err := genesis.LoadFile(genesisPath)
	if err != nil {
		logger.Error("Failed to load genesis", slog.Any("error", err))
		os.Exit(1)
	}
	spec.ApplyConfigDefaults(cfg.Treasury, cfg.BuyerFeeBps, cfg.SellerFeeBps)

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	node, err := core.NewNode(db, spec)
	if err != nil {
		logger.Error("Failed to initialise node", slog.Any("error", err))
		os.Exit(1)
	}

	// When the genesis document names no admin, the daemon's own keystore
	// identity administers fees and the blacklist.
	admin, err := spec.AdminAddress()
	if err != nil {
		logger.Error("Failed to parse admin address", slog.Any("error", err))
		os.Exit(1)
	}
	if admin == ([20]byte{}) {
		key, err := crypto.LoadFromKeystore(cfg.AdminKeystorePath, os.Getenv(adminPassEnv))
		if err != nil {
			logger.Error("Failed to load admin keystore", slog.Any("error", err))
			os.Exit(1)
		}
		address := key.PubKey().Address()
		node.SetAdmin(address.Bytes20())
		logger.Info("Using admin keystore identity", slog.String("address", address.String()))
	}

	server := rpc.NewServer(node, observability.SharedMetrics(), rpc.ServerOptions{
		JWTSecretEnv:  cfg.AdminJWTSecretEnv,
		RatePerSecond: cfg.RateLimitPerSecond,
		RateBurst:     cfg.RateLimitBurst,
	})

	logger.Info("Starting marketplace JSON-RPC server",
		slog.String("address", cfg.RPCAddress),
		slog.String("network", cfg.NetworkName),
		slog.String("genesis", genesisPath),
	)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func resolveGenesisPath(flagValue, configValue string, lookup func(string) (string, bool)) string {
	if trimmed := strings.TrimSpace(flagValue); trimmed != "" {
		return trimmed
	}
	if value, ok := lookup(genesisPathEnv); ok {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return strings.TrimSpace(configValue)
}
