package lmsr

import (
	"errors"
	"math"
	"testing"

	"github.com/matryer/is"
	"github.com/shopspring/decimal"
)

func TestSharesForCostFreshMarket(t *testing.T) {
	is := is.New(t)
	shares := ds(0, 0)
	before, err := Prices(shares, d(1_000_000))
	is.NoErr(err)
	is.Equal(before, []float64{0.5, 0.5})

	trade, err := SharesForCost(d(100), OutcomeFor, shares, d(1_000_000))
	is.NoErr(err)
	is.Equal(trade.Shares.String(), "199")
	is.Equal(trade.Cost.String(), "100")
	is.Equal(trade.OldPrice, 0.5)
	is.True(trade.NewPrice > 0.5)
	is.True(trade.PriceImpact > 0)
	is.True(withinEpsilon(trade.PriceImpact, (trade.NewPrice-0.5)/0.5))
	is.Equal(trade.State.Shares()[OutcomeFor].String(), "199")
	is.True(trade.State.Shares()[OutcomeAgainst].IsZero())
	// the caller's slice is untouched
	is.True(shares[OutcomeFor].IsZero())
}

func TestSharesForCostZeroAmount(t *testing.T) {
	is := is.New(t)
	for _, shares := range [][]decimal.Decimal{ds(0, 0), ds(5_000, 100), ds(0, 900_000)} {
		trade, err := SharesForCost(decimal.Zero, OutcomeAgainst, shares, d(10_000))
		is.NoErr(err)
		p, err := Price(OutcomeAgainst, shares, d(10_000))
		is.NoErr(err)
		is.True(trade.Shares.IsZero())
		is.True(trade.Cost.IsZero())
		is.Equal(trade.PriceImpact, 0.0)
		is.Equal(trade.OldPrice, p)
		is.Equal(trade.NewPrice, p)
	}
}

func TestSharesForCostZeroLiquidity(t *testing.T) {
	is := is.New(t)
	_, err := SharesForCost(d(100), OutcomeFor, ds(0, 0), decimal.Zero)
	is.True(errors.Is(err, ErrDegenerateMarket))

	_, err = SharesForCost(decimal.Zero, OutcomeFor, ds(0, 0), decimal.Zero)
	is.True(errors.Is(err, ErrDegenerateMarket))

	// Price alone falls back to uniform
	p, err := Price(OutcomeFor, ds(0, 0), decimal.Zero)
	is.NoErr(err)
	is.Equal(p, 0.5)
}

func TestSharesForCostInvalidInput(t *testing.T) {
	is := is.New(t)
	_, err := SharesForCost(d(-1), OutcomeFor, ds(0, 0), d(100))
	is.True(errors.Is(err, ErrInvalidInput))

	_, err = SharesForCost(decimal.RequireFromString("0.5"), OutcomeFor, ds(0, 0), d(100))
	is.True(errors.Is(err, ErrInvalidInput))

	_, err = SharesForCost(d(10), 2, ds(0, 0), d(100))
	is.True(errors.Is(err, ErrInvalidInput))

	_, err = SharesForCost(d(10), OutcomeFor, ds(0), d(100))
	is.True(errors.Is(err, ErrInvalidInput))

	_, err = SharesForCost(d(10), OutcomeFor, ds(-4, 0), d(100))
	is.True(errors.Is(err, ErrInvalidInput))
}

// Buying the cheap side of a lopsided market costs well under one unit per
// share, so the answer lies far past ten times the amount.
func TestSharesForCostGrowsBound(t *testing.T) {
	is := is.New(t)
	shares := ds(5_000_000, 0)
	trade, err := SharesForCost(d(1000), OutcomeAgainst, shares, d(1_000_000))
	is.NoErr(err)
	is.True(trade.Shares.GreaterThan(d(10 * 1000)))
	is.True(trade.Cost.LessThanOrEqual(d(1000)))

	// one more share would overspend
	over, err := CostToMove(shares, bought(shares, OutcomeAgainst, trade.Shares.Add(d(1))), d(1_000_000))
	is.NoErr(err)
	is.True(over.GreaterThan(d(1000)))
}

func TestSharesForCostSweep(t *testing.T) {
	is := is.New(t)
	states := [][]decimal.Decimal{ds(0, 0), ds(3_000, 1_000), ds(0, 40_000), ds(12_345, 12_345)}
	b := d(10_000)
	for _, shares := range states {
		for _, outcome := range []int{OutcomeFor, OutcomeAgainst} {
			prev := decimal.Zero
			for amount := int64(0); amount <= 5_000; amount += 37 {
				trade, err := SharesForCost(d(amount), outcome, shares, b)
				is.NoErr(err)
				is.True(trade.Shares.GreaterThanOrEqual(prev))
				cost, err := CostToMove(shares, trade.State.Shares(), b)
				is.NoErr(err)
				is.True(cost.LessThanOrEqual(d(amount)))
				is.True(cost.Equal(trade.Cost))
				prev = trade.Shares
			}
		}
	}
}

func TestSharesForCostAveragePrice(t *testing.T) {
	is := is.New(t)
	trade, err := SharesForCost(d(5_000), OutcomeFor, ds(0, 0), d(10_000))
	is.NoErr(err)
	is.True(trade.Shares.IsPositive())
	is.True(trade.AveragePrice.Equal(trade.Cost.Div(trade.Shares)))
	// buying pushes the price up, so the average paid lies between the
	// old and new prices
	avg := trade.AveragePrice.InexactFloat64()
	is.True(avg >= trade.OldPrice-Epsilon)
	is.True(avg <= trade.NewPrice+1e-3)
}

func TestPriceImpactZeroPrice(t *testing.T) {
	is := is.New(t)
	is.Equal(priceImpact(0, 0), 0.0)
	is.True(math.IsInf(priceImpact(0, 0.1), 1))
	is.True(withinEpsilon(priceImpact(0.5, 0.25), 0.5))
}

func TestPayout(t *testing.T) {
	is := is.New(t)
	won, err := Payout(d(250), OutcomeFor, OutcomeFor)
	is.NoErr(err)
	is.Equal(won.String(), "250")

	lost, err := Payout(d(250), OutcomeAgainst, OutcomeFor)
	is.NoErr(err)
	is.True(lost.IsZero())

	lost, err = Payout(d(9_999_999), OutcomeFor, OutcomeAgainst)
	is.NoErr(err)
	is.True(lost.IsZero())

	none, err := Payout(decimal.Zero, OutcomeFor, OutcomeFor)
	is.NoErr(err)
	is.True(none.IsZero())
}

func TestPayoutInvalidInput(t *testing.T) {
	is := is.New(t)
	_, err := Payout(d(-1), OutcomeFor, OutcomeFor)
	is.True(errors.Is(err, ErrInvalidInput))
	_, err = Payout(decimal.RequireFromString("2.5"), OutcomeFor, OutcomeFor)
	is.True(errors.Is(err, ErrInvalidInput))
	_, err = Payout(d(1), -1, OutcomeFor)
	is.True(errors.Is(err, ErrInvalidInput))
}

func TestSnapshot(t *testing.T) {
	is := is.New(t)
	res, err := Snapshot(ds(0, 0), d(100), OutcomeFor, d(1_000_000))
	is.NoErr(err)
	is.Equal(res.Prices, []float64{0.5, 0.5})
	is.Equal(res.Outcome, OutcomeFor)
	is.Equal(res.BetAmount.String(), "100")
	is.Equal(res.Trade.Shares.String(), "199")
	is.True(res.NewPrices[OutcomeFor] > 0.5)
	is.True(withinEpsilon(res.NewPrices[OutcomeFor]+res.NewPrices[OutcomeAgainst], 1))
	is.Equal(res.NewPrices[OutcomeFor], res.Trade.NewPrice)
	is.True(res.MaxPayout.Equal(res.Trade.Shares))
	is.Equal(res.MaxLoss.String(), "693148")
}

func TestSnapshotIdempotent(t *testing.T) {
	is := is.New(t)
	shares := ds(123_456, 654_321)
	first, err := Snapshot(shares, d(77_777), OutcomeFor, d(250_000))
	is.NoErr(err)
	second, err := Snapshot(shares, d(77_777), OutcomeFor, d(250_000))
	is.NoErr(err)
	is.Equal(first.Prices, second.Prices)
	is.Equal(first.NewPrices, second.NewPrices)
	is.Equal(first.Trade.NewPrice, second.Trade.NewPrice)
	is.Equal(first.Trade.PriceImpact, second.Trade.PriceImpact)
	is.True(first.Trade.Shares.Equal(second.Trade.Shares))
	is.True(first.Trade.Cost.Equal(second.Trade.Cost))
	is.True(first.MaxLoss.Equal(second.MaxLoss))
}

func TestSnapshotErrors(t *testing.T) {
	is := is.New(t)
	_, err := Snapshot(ds(0, 0), d(100), OutcomeFor, decimal.Zero)
	is.True(errors.Is(err, ErrDegenerateMarket))
	_, err = Snapshot(ds(0, 0), d(-100), OutcomeFor, d(100))
	is.True(errors.Is(err, ErrInvalidInput))
}

func TestSharesForCostDeepMarket(t *testing.T) {
	is := is.New(t)
	b := ToAtomic(d(1_000_000))
	for _, shares := range [][]decimal.Decimal{ds(0, 0), {ToAtomic(d(3_000_000)), decimal.Zero}} {
		for _, outcome := range []int{OutcomeFor, OutcomeAgainst} {
			prev := decimal.Zero
			for i := int64(0); i < 40; i++ {
				amount := ToAtomic(d(1)).Add(d(i * 50_000_000))
				trade, err := SharesForCost(amount, outcome, shares, b)
				is.NoErr(err)
				is.True(trade.Shares.GreaterThanOrEqual(prev))
				is.True(trade.Cost.LessThanOrEqual(amount))
				is.True(exactCost(t, shares, trade.State.Shares(), b).LessThanOrEqual(amount))

				over, err := CostToMove(shares, bought(shares, outcome, trade.Shares.Add(d(1))), b)
				is.NoErr(err)
				is.True(over.GreaterThan(amount))
				prev = trade.Shares
			}
		}
	}
}

func TestTradePrices(t *testing.T) {
	is := is.New(t)
	shares := ds(40_000, 10_000)
	trade, err := SharesForCost(d(2_500), OutcomeAgainst, shares, d(25_000))
	is.NoErr(err)
	before, err := Prices(shares, d(25_000))
	is.NoErr(err)
	after, err := Prices(trade.State.Shares(), d(25_000))
	is.NoErr(err)
	is.Equal(trade.OldPrices, before)
	is.Equal(trade.NewPrices, after)
	is.Equal(trade.NewPrices[OutcomeAgainst], trade.NewPrice)

	idle, err := SharesForCost(decimal.Zero, OutcomeAgainst, shares, d(25_000))
	is.NoErr(err)
	is.Equal(idle.OldPrices, before)
	is.Equal(idle.NewPrices, before)
	idle.NewPrices[OutcomeFor] = 0
	is.Equal(idle.OldPrices, before)
}

func TestStatePayout(t *testing.T) {
	is := is.New(t)
	s, err := NewState(ds(500, 700)...)
	is.NoErr(err)

	won, err := s.Payout(d(250), OutcomeAgainst, OutcomeAgainst)
	is.NoErr(err)
	is.Equal(won.String(), "250")
	lost, err := s.Payout(d(250), OutcomeFor, OutcomeAgainst)
	is.NoErr(err)
	is.True(lost.IsZero())

	_, err = s.Payout(d(250), 2, 2)
	is.True(errors.Is(err, ErrInvalidInput))
	_, err = s.Payout(d(250), OutcomeFor, 5)
	is.True(errors.Is(err, ErrInvalidInput))
	_, err = s.Payout(d(-1), OutcomeFor, OutcomeFor)
	is.True(errors.Is(err, ErrInvalidInput))
}
