package commission

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
)

// MaxBps is the upper bound of the canonical basis-point representation
// (10000 bps = 100%).
const MaxBps uint16 = 10_000

var (
	// ErrRateOutOfRange reports a basis-point value outside [0, 10000].
	ErrRateOutOfRange = errors.New("commission: rate out of range")
	// ErrNilAmount reports a missing trade amount.
	ErrNilAmount = errors.New("commission: nil amount")
)

// Policy computes the commission owed on a trade amount. The base rate is
// supplied by the caller because it lives in the persistent contract state and
// is mutable by the admin; the policy shape itself is fixed at construction.
type Policy interface {
	// Deduction returns the commission retained by the contract for the
	// supplied gross amount. Integer division truncates toward zero; the
	// remainder stays with the contract, never with the seller.
	Deduction(amount *big.Int, baseBps uint16) (*big.Int, error)
}

// ValidateBps reports whether the supplied basis-point value is canonical.
func ValidateBps(bps uint16) error {
	if bps > MaxBps {
		return fmt.Errorf("%w: %d", ErrRateOutOfRange, bps)
	}
	return nil
}

func deduct(amount *big.Int, bps uint16) (*big.Int, error) {
	if amount == nil {
		return nil, ErrNilAmount
	}
	if err := ValidateBps(bps); err != nil {
		return nil, err
	}
	if amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0), nil
	}
	fee := new(big.Int).Mul(amount, big.NewInt(int64(bps)))
	fee.Div(fee, big.NewInt(int64(MaxBps)))
	return fee, nil
}

// FlatPolicy applies the base rate uniformly to every trade amount.
type FlatPolicy struct{}

// NewFlatPolicy constructs the uniform basis-point policy.
func NewFlatPolicy() FlatPolicy { return FlatPolicy{} }

// Deduction implements Policy.
func (FlatPolicy) Deduction(amount *big.Int, baseBps uint16) (*big.Int, error) {
	return deduct(amount, baseBps)
}

// Tier overrides the base rate for amounts at or above its threshold.
type Tier struct {
	Threshold *big.Int
	Bps       uint16
}

// TieredPolicy selects a rate by amount bracket. Amounts below every
// threshold fall back to the base rate; otherwise the highest matching
// threshold wins.
type TieredPolicy struct {
	tiers []Tier
}

// NewTieredPolicy validates and sorts the tier table by ascending threshold.
func NewTieredPolicy(tiers []Tier) (*TieredPolicy, error) {
	cloned := make([]Tier, 0, len(tiers))
	for _, tier := range tiers {
		if tier.Threshold == nil || tier.Threshold.Sign() <= 0 {
			return nil, fmt.Errorf("commission: tier threshold must be positive")
		}
		if err := ValidateBps(tier.Bps); err != nil {
			return nil, err
		}
		cloned = append(cloned, Tier{Threshold: new(big.Int).Set(tier.Threshold), Bps: tier.Bps})
	}
	sort.Slice(cloned, func(i, j int) bool {
		return cloned[i].Threshold.Cmp(cloned[j].Threshold) < 0
	})
	for i := 1; i < len(cloned); i++ {
		if cloned[i].Threshold.Cmp(cloned[i-1].Threshold) == 0 {
			return nil, fmt.Errorf("commission: duplicate tier threshold %s", cloned[i].Threshold)
		}
	}
	return &TieredPolicy{tiers: cloned}, nil
}

// RateFor resolves the effective basis-point rate for the supplied amount.
func (p *TieredPolicy) RateFor(amount *big.Int, baseBps uint16) uint16 {
	rate := baseBps
	if amount == nil {
		return rate
	}
	for _, tier := range p.tiers {
		if amount.Cmp(tier.Threshold) >= 0 {
			rate = tier.Bps
		}
	}
	return rate
}

// Deduction implements Policy.
func (p *TieredPolicy) Deduction(amount *big.Int, baseBps uint16) (*big.Int, error) {
	if amount == nil {
		return nil, ErrNilAmount
	}
	return deduct(amount, p.RateFor(amount, baseBps))
}
