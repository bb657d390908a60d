package commission

import (
	"errors"
	"math/big"
	"testing"
)

func TestFlatDeduction(t *testing.T) {
	policy := NewFlatPolicy()
	cases := []struct {
		name   string
		amount int64
		bps    uint16
		want   int64
	}{
		{"three percent", 50_000_000_000, 300, 1_500_000_000},
		{"five percent", 10_000, 500, 500},
		{"zero rate", 10_000, 0, 0},
		{"full rate", 10_000, 10_000, 10_000},
		{"truncates down", 999, 300, 29},
		{"tiny amount", 1, 300, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fee, err := policy.Deduction(big.NewInt(tc.amount), tc.bps)
			if err != nil {
				t.Fatalf("deduction: %v", err)
			}
			if fee.Cmp(big.NewInt(tc.want)) != 0 {
				t.Fatalf("fee %s, want %d", fee, tc.want)
			}
		})
	}
}

func TestFlatDeductionRejectsBadInput(t *testing.T) {
	policy := NewFlatPolicy()
	if _, err := policy.Deduction(nil, 300); !errors.Is(err, ErrNilAmount) {
		t.Fatalf("expected nil amount error, got %v", err)
	}
	if _, err := policy.Deduction(big.NewInt(100), 10_001); !errors.Is(err, ErrRateOutOfRange) {
		t.Fatalf("expected rate error, got %v", err)
	}
}

func TestFlatDeductionNeverExceedsAmount(t *testing.T) {
	policy := NewFlatPolicy()
	for _, amount := range []int64{1, 33, 9_999, 1_000_000_007} {
		for _, bps := range []uint16{1, 250, 9_999, 10_000} {
			fee, err := policy.Deduction(big.NewInt(amount), bps)
			if err != nil {
				t.Fatalf("deduction(%d, %d): %v", amount, bps, err)
			}
			if fee.Cmp(big.NewInt(amount)) > 0 {
				t.Fatalf("fee %s exceeds amount %d at %d bps", fee, amount, bps)
			}
		}
	}
}

func TestTieredPolicySelectsBracket(t *testing.T) {
	policy, err := NewTieredPolicy([]Tier{
		{Threshold: big.NewInt(1_000_000), Bps: 200},
		{Threshold: big.NewInt(1_000), Bps: 400},
	})
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}

	// Below every threshold the base rate applies.
	fee, err := policy.Deduction(big.NewInt(500), 500)
	if err != nil {
		t.Fatalf("deduction: %v", err)
	}
	if fee.Cmp(big.NewInt(25)) != 0 {
		t.Fatalf("base bracket fee %s, want 25", fee)
	}

	// At the first threshold the tier rate takes over.
	fee, _ = policy.Deduction(big.NewInt(1_000), 500)
	if fee.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("mid bracket fee %s, want 40", fee)
	}

	// The highest matching threshold wins.
	fee, _ = policy.Deduction(big.NewInt(2_000_000), 500)
	if fee.Cmp(big.NewInt(40_000)) != 0 {
		t.Fatalf("top bracket fee %s, want 40000", fee)
	}
}

func TestTieredPolicyValidation(t *testing.T) {
	if _, err := NewTieredPolicy([]Tier{{Threshold: big.NewInt(0), Bps: 100}}); err == nil {
		t.Fatalf("zero threshold accepted")
	}
	if _, err := NewTieredPolicy([]Tier{{Threshold: nil, Bps: 100}}); err == nil {
		t.Fatalf("nil threshold accepted")
	}
	if _, err := NewTieredPolicy([]Tier{{Threshold: big.NewInt(10), Bps: 10_001}}); err == nil {
		t.Fatalf("out-of-range tier rate accepted")
	}
	if _, err := NewTieredPolicy([]Tier{
		{Threshold: big.NewInt(10), Bps: 100},
		{Threshold: big.NewInt(10), Bps: 200},
	}); err == nil {
		t.Fatalf("duplicate threshold accepted")
	}
}

func TestTieredRateForIgnoresOrder(t *testing.T) {
	unordered, err := NewTieredPolicy([]Tier{
		{Threshold: big.NewInt(5_000), Bps: 100},
		{Threshold: big.NewInt(100), Bps: 300},
		{Threshold: big.NewInt(1_000), Bps: 200},
	})
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}
	for amount, want := range map[int64]uint16{
		50:    500,
		100:   300,
		999:   300,
		1_000: 200,
		5_000: 100,
		9_999: 100,
	} {
		if got := unordered.RateFor(big.NewInt(amount), 500); got != want {
			t.Fatalf("rate for %d: %d, want %d", amount, got, want)
		}
	}
}

func TestValidateBps(t *testing.T) {
	if err := ValidateBps(0); err != nil {
		t.Fatalf("zero bps: %v", err)
	}
	if err := ValidateBps(10_000); err != nil {
		t.Fatalf("max bps: %v", err)
	}
	if err := ValidateBps(10_001); !errors.Is(err, ErrRateOutOfRange) {
		t.Fatalf("expected range error, got %v", err)
	}
}
