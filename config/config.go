package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"telemart/crypto"
	"telemart/native/commission"
)

// Policy names accepted in CommissionPolicy.
const (
	PolicyFlat   = "flat"
	PolicyTiered = "tiered"
)

// Tier is one bracket of the tiered commission table. Threshold is a decimal
// string in the ledger's smallest unit.
type Tier struct {
	Threshold string `toml:"Threshold"`
	Bps       uint16 `toml:"Bps"`
}

type Config struct {
	RPCAddress       string `toml:"RPCAddress"`
	DataDir          string `toml:"DataDir"`
	NetworkName      string `toml:"NetworkName"`
	AdminAddress     string `toml:"AdminAddress"`
	CommissionBps    uint16 `toml:"CommissionBps"`
	CommissionPolicy string `toml:"CommissionPolicy"`
	Tiers            []Tier `toml:"CommissionTier"`
	ReserveCoins     uint64 `toml:"ReserveCoins"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "telemart-local"
	}
	if strings.TrimSpace(cfg.CommissionPolicy) == "" {
		cfg.CommissionPolicy = PolicyFlat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded configuration for deploy-time mistakes. A bad
// commission table here is exactly the misconfiguration the engine later
// refuses to settle with, so it is caught before the daemon starts.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.AdminAddress) == "" {
		return fmt.Errorf("config: AdminAddress is required")
	}
	if _, err := crypto.DecodeAddress(c.AdminAddress); err != nil {
		return fmt.Errorf("config: invalid AdminAddress: %w", err)
	}
	if err := commission.ValidateBps(c.CommissionBps); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.CommissionPolicy {
	case PolicyFlat:
		if len(c.Tiers) > 0 {
			return fmt.Errorf("config: CommissionTier requires CommissionPolicy = %q", PolicyTiered)
		}
	case PolicyTiered:
		if len(c.Tiers) == 0 {
			return fmt.Errorf("config: tiered policy requires at least one CommissionTier")
		}
		for _, tier := range c.Tiers {
			if _, ok := new(big.Int).SetString(strings.TrimSpace(tier.Threshold), 10); !ok {
				return fmt.Errorf("config: invalid tier threshold %q", tier.Threshold)
			}
			if err := commission.ValidateBps(tier.Bps); err != nil {
				return fmt.Errorf("config: tier: %w", err)
			}
		}
	default:
		return fmt.Errorf("config: unknown CommissionPolicy %q", c.CommissionPolicy)
	}
	return nil
}

// Admin returns the decoded admin address.
func (c *Config) Admin() ([20]byte, error) {
	var out [20]byte
	addr, err := crypto.DecodeAddress(c.AdminAddress)
	if err != nil {
		return out, err
	}
	copy(out[:], addr.Bytes())
	return out, nil
}

// BuildPolicy constructs the commission policy selected by the config.
func (c *Config) BuildPolicy() (commission.Policy, error) {
	switch c.CommissionPolicy {
	case PolicyFlat:
		return commission.NewFlatPolicy(), nil
	case PolicyTiered:
		tiers := make([]commission.Tier, 0, len(c.Tiers))
		for _, tier := range c.Tiers {
			threshold, ok := new(big.Int).SetString(strings.TrimSpace(tier.Threshold), 10)
			if !ok {
				return nil, fmt.Errorf("config: invalid tier threshold %q", tier.Threshold)
			}
			tiers = append(tiers, commission.Tier{Threshold: threshold, Bps: tier.Bps})
		}
		return commission.NewTieredPolicy(tiers)
	default:
		return nil, fmt.Errorf("config: unknown CommissionPolicy %q", c.CommissionPolicy)
	}
}

func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keystorePath := filepath.Join(filepath.Dir(path), "admin.keystore")
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}
	cfg := &Config{
		RPCAddress:       "127.0.0.1:8646",
		DataDir:          "./telemart-data",
		NetworkName:      "telemart-local",
		AdminAddress:     key.PubKey().Address().String(),
		CommissionBps:    500,
		CommissionPolicy: PolicyFlat,
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
