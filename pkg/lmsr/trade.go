package lmsr

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

const (
	// initialBoundFactor sizes the first upper bound of the share search as a
	// multiple of the bet amount.
	initialBoundFactor = 10
	// maxBoundDoublings caps how often the upper bound can grow before the
	// search gives up.
	maxBoundDoublings = 256
)

// Trade is the outcome of spending a cash amount on one outcome.
type Trade struct {
	Shares decimal.Decimal
	// Cost is the exact cost of Shares, never more than the amount spent.
	Cost         decimal.Decimal
	OldPrice     float64
	NewPrice     float64
	PriceImpact  float64
	AveragePrice decimal.Decimal
	State        State
	// OldPrices and NewPrices are the prices of every outcome before and
	// after the trade.
	OldPrices []float64
	NewPrices []float64
}

// SharesForCost finds the largest number of shares of `outcome` that can be
// bought for at most `amount`. The search is conservative: any rounding goes
// against the trader.
func SharesForCost(amount decimal.Decimal, outcome int, shares []decimal.Decimal, b decimal.Decimal) (Trade, error) {
	if err := validateShares(shares); err != nil {
		return Trade{}, err
	}
	if err := validateOutcome(outcome, len(shares)); err != nil {
		return Trade{}, err
	}
	if err := validateAtomic("bet amount", amount); err != nil {
		return Trade{}, err
	}
	if err := validateLiquidity(b); err != nil {
		return Trade{}, err
	}

	oldPrices, err := prices(shares, b)
	if err != nil {
		return Trade{}, err
	}
	oldPrice := oldPrices[outcome]
	if amount.IsZero() {
		return Trade{
			Shares:       decimal.Zero,
			Cost:         decimal.Zero,
			OldPrice:     oldPrice,
			NewPrice:     oldPrice,
			AveragePrice: decimal.Zero,
			State:        State{shares: clone(shares)},
			OldPrices:    oldPrices,
			NewPrices:    append([]float64(nil), oldPrices...),
		}, nil
	}

	c, err := costFrom(shares, b)
	if err != nil {
		return Trade{}, err
	}
	qty, err := searchShares(c, amount, outcome, shares)
	if err != nil {
		return Trade{}, err
	}
	after := bought(shares, outcome, qty)
	cost := c.to(after)
	newPrices, err := prices(after, b)
	if err != nil {
		return Trade{}, err
	}
	newPrice := newPrices[outcome]

	avg := decimal.Zero
	if qty.IsPositive() {
		avg = cost.Div(qty)
	}
	return Trade{
		Shares:       qty,
		Cost:         cost,
		OldPrice:     oldPrice,
		NewPrice:     newPrice,
		PriceImpact:  priceImpact(oldPrice, newPrice),
		AveragePrice: avg,
		State:        State{shares: after},
		OldPrices:    oldPrices,
		NewPrices:    newPrices,
	}, nil
}

// searchShares brackets the answer in [low, high) with cost(low) <= amount
// < cost(high), growing high geometrically, then bisects down to one unit.
func searchShares(c coster, amount decimal.Decimal, outcome int, shares []decimal.Decimal) (decimal.Decimal, error) {
	over := func(qty decimal.Decimal) bool {
		return c.to(bought(shares, outcome, qty)).GreaterThan(amount)
	}

	low := decimal.Zero
	high := amount.Mul(decimal.NewFromInt(initialBoundFactor))
	for i := 0; !over(high); i++ {
		if i == maxBoundDoublings {
			return decimal.Zero, fmt.Errorf("%w: no share bound found for amount %s", ErrNumericOverflow, amount)
		}
		low = high
		high = high.Mul(two)
	}

	for high.Sub(low).GreaterThan(one) {
		mid := low.Add(high).Div(two).Floor()
		if over(mid) {
			high = mid
		} else {
			low = mid
		}
	}
	return low, nil
}

// priceImpact is the relative price change. A move away from a zero price
// has no finite relative size and is reported as +Inf.
func priceImpact(oldPrice, newPrice float64) float64 {
	if oldPrice == 0 {
		if newPrice == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return math.Abs(newPrice-oldPrice) / oldPrice
}

// Payout is what sharesHeld of `outcome` redeem for once winningOutcome has
// been declared: one unit per share on the winner, nothing otherwise. Payout
// has no outcome count and rejects only negative indices; State.Payout checks
// both against the market.
func Payout(sharesHeld decimal.Decimal, outcome, winningOutcome int) (decimal.Decimal, error) {
	if err := validateAtomic("shares held", sharesHeld); err != nil {
		return decimal.Zero, err
	}
	if outcome < 0 || winningOutcome < 0 {
		return decimal.Zero, fmt.Errorf("%w: negative outcome index (%d, %d)", ErrInvalidInput, outcome, winningOutcome)
	}
	if outcome != winningOutcome {
		return decimal.Zero, nil
	}
	return sharesHeld, nil
}

// Payout is Payout with both outcome indices checked against the market's
// outcomes.
func (s State) Payout(sharesHeld decimal.Decimal, outcome, winningOutcome int) (decimal.Decimal, error) {
	if err := validateOutcome(outcome, len(s.shares)); err != nil {
		return decimal.Zero, err
	}
	if err := validateOutcome(winningOutcome, len(s.shares)); err != nil {
		return decimal.Zero, err
	}
	return Payout(sharesHeld, outcome, winningOutcome)
}

// PricingResult is everything a caller needs to show a prospective bet.
type PricingResult struct {
	Prices    []float64
	Outcome   int
	BetAmount decimal.Decimal
	Trade     Trade
	NewPrices []float64
	// MaxPayout is what the granted shares redeem for if Outcome wins.
	MaxPayout decimal.Decimal
	MaxLoss   decimal.Decimal
}

// Snapshot prices every outcome and the prospective trade. It does not
// change anything and returns identical results for identical inputs.
func Snapshot(shares []decimal.Decimal, amount decimal.Decimal, outcome int, b decimal.Decimal) (PricingResult, error) {
	trade, err := SharesForCost(amount, outcome, shares, b)
	if err != nil {
		return PricingResult{}, err
	}
	maxPayout, err := Payout(trade.Shares, outcome, outcome)
	if err != nil {
		return PricingResult{}, err
	}
	maxLoss, err := MaxLoss(b, len(shares))
	if err != nil {
		return PricingResult{}, err
	}
	return PricingResult{
		Prices:    trade.OldPrices,
		Outcome:   outcome,
		BetAmount: amount,
		Trade:     trade,
		NewPrices: trade.NewPrices,
		MaxPayout: maxPayout,
		MaxLoss:   maxLoss,
	}, nil
}
