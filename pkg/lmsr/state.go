package lmsr

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	OutcomeFor     = 0
	OutcomeAgainst = 1

	// BinaryOutcomes is the number of outcomes in a for/against market.
	BinaryOutcomes = 2

	// AtomicScale is the number of decimal places between one whole unit of
	// value and one atomic unit.
	AtomicScale = 18
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrDegenerateMarket = errors.New("degenerate market")
	ErrNumericOverflow  = errors.New("numeric overflow")
)

// ToAtomic converts a value in whole units into atomic units, truncating
// anything finer than one atomic unit.
func ToAtomic(d decimal.Decimal) decimal.Decimal {
	return d.Shift(AtomicScale).Truncate(0)
}

// FromAtomic converts atomic units into whole units.
func FromAtomic(d decimal.Decimal) decimal.Decimal {
	return d.Shift(-AtomicScale)
}

// State is the per-outcome share totals of a market. It is never mutated;
// Buy returns a new State.
type State struct {
	shares []decimal.Decimal
}

// NewState validates and copies the given share totals.
func NewState(shares ...decimal.Decimal) (State, error) {
	if err := validateShares(shares); err != nil {
		return State{}, err
	}
	return State{shares: clone(shares)}, nil
}

// Shares returns a copy of the share totals.
func (s State) Shares() []decimal.Decimal {
	return clone(s.shares)
}

func (s State) Len() int {
	return len(s.shares)
}

// Buy returns the state after qty shares of outcome have been issued.
func (s State) Buy(outcome int, qty decimal.Decimal) (State, error) {
	if err := validateOutcome(outcome, len(s.shares)); err != nil {
		return State{}, err
	}
	if err := validateAtomic("share quantity", qty); err != nil {
		return State{}, err
	}
	return State{shares: bought(s.shares, outcome, qty)}, nil
}

func (s State) String() string {
	return fmt.Sprint(s.shares)
}

func clone(shares []decimal.Decimal) []decimal.Decimal {
	c := make([]decimal.Decimal, len(shares))
	copy(c, shares)
	return c
}

func bought(shares []decimal.Decimal, outcome int, qty decimal.Decimal) []decimal.Decimal {
	c := clone(shares)
	c[outcome] = c[outcome].Add(qty)
	return c
}

func validateShares(shares []decimal.Decimal) error {
	if len(shares) < 2 {
		return fmt.Errorf("%w: need at least 2 outcomes, got %d", ErrInvalidInput, len(shares))
	}
	for i, q := range shares {
		if err := validateAtomic(fmt.Sprintf("share total %d", i), q); err != nil {
			return err
		}
	}
	return nil
}

func validateAtomic(what string, d decimal.Decimal) error {
	if d.IsNegative() {
		return fmt.Errorf("%w: %s is negative (%s)", ErrInvalidInput, what, d)
	}
	if !d.Equal(d.Truncate(0)) {
		return fmt.Errorf("%w: %s is not a whole number of atomic units (%s)", ErrInvalidInput, what, d)
	}
	return nil
}

func validateOutcome(outcome, n int) error {
	if outcome < 0 || outcome >= n {
		return fmt.Errorf("%w: outcome %d out of range [0, %d)", ErrInvalidInput, outcome, n)
	}
	return nil
}

func validateLiquidity(b decimal.Decimal) error {
	if !b.IsPositive() {
		return fmt.Errorf("%w: liquidity must be positive, got %s", ErrDegenerateMarket, b)
	}
	if !b.Equal(b.Truncate(0)) {
		return fmt.Errorf("%w: liquidity is not a whole number of atomic units (%s)", ErrInvalidInput, b)
	}
	return nil
}
