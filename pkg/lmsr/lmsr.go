// Package lmsr implements a Logarithmic Market Scoring Rule market maker
// over share totals expressed in integral atomic units.
package lmsr

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// costGuard, in atomic units, is added to every nonzero cost before rounding
// up. It is far above the error of the log-sum-exp at logPlaces, so a rounded
// cost is never below the exact one.
var costGuard = decimal.New(1, -9)

// Price calculates the price (a probability in [0,1]) of the outcome at
// index `outcome`, given the outstanding shares for all outcomes and the
// liquidity parameter b.
//
// A zero b is a misconfigured market; Price falls back to a uniform price
// so a display can still render, and logs the event. A negative b is an
// error.
func Price(outcome int, shares []decimal.Decimal, b decimal.Decimal) (float64, error) {
	if err := validateShares(shares); err != nil {
		return 0, err
	}
	if err := validateOutcome(outcome, len(shares)); err != nil {
		return 0, err
	}
	ps, err := prices(shares, b)
	if err != nil {
		return 0, err
	}
	return ps[outcome], nil
}

// Prices returns the price of every outcome. The prices sum to 1.
func Prices(shares []decimal.Decimal, b decimal.Decimal) ([]float64, error) {
	if err := validateShares(shares); err != nil {
		return nil, err
	}
	return prices(shares, b)
}

func prices(shares []decimal.Decimal, b decimal.Decimal) ([]float64, error) {
	if b.IsZero() {
		log.Warn().Int("outcomes", len(shares)).Msg("zero-liquidity-uniform-price")
		return uniform(len(shares)), nil
	}
	if err := validateLiquidity(b); err != nil {
		return nil, err
	}
	bf, err := liquidityFloat(b)
	if err != nil {
		return nil, err
	}

	m := decimal.Max(shares[0], shares[1:]...)
	terms := make([]float64, len(shares))
	sum := float64(0)
	for i, q := range shares {
		terms[i] = math.Exp(q.Sub(m).InexactFloat64() / bf)
		sum += terms[i]
	}
	if sum == 0 || math.IsNaN(sum) {
		log.Warn().Int("outcomes", len(shares)).Float64("sum", sum).Msg("degenerate-exp-sum-uniform-price")
		return uniform(len(shares)), nil
	}
	for i := range terms {
		terms[i] /= sum
	}
	return terms, nil
}

func uniform(n int) []float64 {
	p := make([]float64, n)
	for i := range p {
		p[i] = 1 / float64(n)
	}
	return p
}

// CostToMove calculates the cost of moving the market from oldShares to
// newShares, C(new) - C(old), where C(q) = b * ln(sum(exp(q_i / b))).
// The cost is rounded up to a whole atomic unit. A negative difference is
// a rebate, which this engine never pays out, so it is reported as zero.
func CostToMove(oldShares, newShares []decimal.Decimal, b decimal.Decimal) (decimal.Decimal, error) {
	if err := validateShares(oldShares); err != nil {
		return decimal.Zero, err
	}
	if err := validateShares(newShares); err != nil {
		return decimal.Zero, err
	}
	if len(oldShares) != len(newShares) {
		return decimal.Zero, fmt.Errorf("%w: states have %d and %d outcomes",
			ErrInvalidInput, len(oldShares), len(newShares))
	}
	if err := validateLiquidity(b); err != nil {
		return decimal.Zero, err
	}
	return costToMove(oldShares, newShares, b)
}

// costToMove assumes validated inputs.
func costToMove(oldShares, newShares []decimal.Decimal, b decimal.Decimal) (decimal.Decimal, error) {
	if sameState(oldShares, newShares) {
		return decimal.Zero, nil
	}
	c, err := costFrom(oldShares, b)
	if err != nil {
		return decimal.Zero, err
	}
	return c.to(newShares), nil
}

// coster prices moves out of one fixed state.
type coster struct {
	b      decimal.Decimal
	places int32
	from   potential
}

func costFrom(shares []decimal.Decimal, b decimal.Decimal) (coster, error) {
	places, err := logPlaces(b)
	if err != nil {
		return coster{}, err
	}
	return coster{b: b, places: places, from: potentialOf(shares, b, places)}, nil
}

// to is the cost of moving to shares, guarded and rounded up, with rebates
// clamped to zero.
func (c coster) to(shares []decimal.Decimal) decimal.Decimal {
	exact := c.from.exactCostTo(potentialOf(shares, c.b, c.places), c.b)
	cost := exact.Add(costGuard).Ceil()
	if cost.IsNegative() {
		return decimal.Zero
	}
	return cost
}

func liquidityFloat(b decimal.Decimal) (float64, error) {
	if !b.IsPositive() {
		return 0, fmt.Errorf("%w: liquidity %s", ErrDegenerateMarket, b)
	}
	bf := b.InexactFloat64()
	if math.IsInf(bf, 0) || bf == 0 {
		return 0, fmt.Errorf("%w: liquidity %s out of float64 range", ErrNumericOverflow, b)
	}
	return bf, nil
}

func sameState(a, b []decimal.Decimal) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// MaxLoss returns the most the market maker can lose over the life of a
// market with n outcomes, b * ln(n), rounded up to a whole atomic unit.
func MaxLoss(b decimal.Decimal, n int) (decimal.Decimal, error) {
	if n < 2 {
		return decimal.Zero, fmt.Errorf("%w: need at least 2 outcomes, got %d", ErrInvalidInput, n)
	}
	if err := validateLiquidity(b); err != nil {
		return decimal.Zero, err
	}
	places, err := logPlaces(b)
	if err != nil {
		return decimal.Zero, err
	}
	ln := lnAtLeastOne(decimal.NewFromInt(int64(n)), places)
	return b.Mul(ln).Ceil(), nil
}
