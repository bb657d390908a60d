package main

import (
	"flag"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"telemart/config"
	"telemart/native/settlement"
	"telemart/observability"
	"telemart/rpc"
	"telemart/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("TELEMART_ENV"))
	logger := observability.SetupLogging("telemartd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	dataDir := cfg.DataDir
	if strings.TrimSpace(dataDir) == "" {
		dataDir = "./telemart-data"
	}
	db, err := storage.NewLevelDB(filepath.Join(dataDir, "settlement"))
	if err != nil {
		logger.Error("failed to open database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	admin, err := cfg.Admin()
	if err != nil {
		logger.Error("invalid admin address", "err", err)
		os.Exit(1)
	}
	store := settlement.NewStore(db)
	if err := store.Initialize(&settlement.ContractState{
		AdminAddress:          admin,
		CommissionBps:         cfg.CommissionBps,
		AccumulatedCommission: big.NewInt(0),
		Balance:               big.NewInt(0),
	}); err != nil {
		logger.Error("failed to initialize contract state", "err", err)
		os.Exit(1)
	}

	policy, err := cfg.BuildPolicy()
	if err != nil {
		logger.Error("failed to build commission policy", "err", err)
		os.Exit(1)
	}

	hub := rpc.NewHub()
	engine := settlement.NewEngine(policy)
	engine.SetState(store)
	engine.SetEmitter(hub)
	if cfg.ReserveCoins > 0 {
		engine.SetReserve(new(big.Int).SetUint64(cfg.ReserveCoins))
	}

	logger.Info("settlement engine ready",
		"network", cfg.NetworkName,
		"admin", cfg.AdminAddress,
		"commissionBps", cfg.CommissionBps,
		"policy", cfg.CommissionPolicy,
	)

	server := rpc.NewServer(engine, hub, logger)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("rpc server stopped", "err", err)
		os.Exit(1)
	}
}
