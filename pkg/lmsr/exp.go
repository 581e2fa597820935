package lmsr

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// extraPlaces is how many decimal places the log-sum-exp carries beyond
	// the integer digits of b, so b times its error stays below 1e-15 atomic
	// units.
	extraPlaces = 16
	// workPlaces is added while a series is summed or squared.
	workPlaces = 8
	// maxLiquidityDigits bounds b at 10^60 atomic units.
	maxLiquidityDigits = 60
)

var (
	one       = decimal.NewFromInt(1)
	two       = decimal.NewFromInt(2)
	half      = decimal.New(5, -1)
	sixteenth = decimal.New(625, -4)
	// slightly above ln(10), so the term cutoff errs toward keeping terms
	ln10Ceil = decimal.New(231, -2)
	ln2      = atanhLog(two, maxLiquidityDigits+extraPlaces+2*workPlaces)
)

// logPlaces is the number of decimal places log terms are computed to for a
// market with liquidity b.
func logPlaces(b decimal.Decimal) (int32, error) {
	digits := len(b.Truncate(0).String())
	if digits > maxLiquidityDigits {
		return 0, fmt.Errorf("%w: liquidity %s has more than %d digits",
			ErrNumericOverflow, b, maxLiquidityDigits)
	}
	return int32(digits) + extraPlaces, nil
}

// potential splits the cost function as C(q) = max + b*ln, where ln is
// ln(sum(exp((q_i - max) / b))) and lies in [0, ln n].
type potential struct {
	max decimal.Decimal
	ln  decimal.Decimal
}

func potentialOf(shares []decimal.Decimal, b decimal.Decimal, places int32) potential {
	m := decimal.Max(shares[0], shares[1:]...)
	// terms below e^cutoff move the log by less than 10^-(places+2)
	cutoff := decimal.NewFromInt(int64(places + 2)).Mul(ln10Ceil).Neg()
	sum := decimal.Zero
	for _, q := range shares {
		x := q.Sub(m).DivRound(b, places+workPlaces)
		if x.LessThan(cutoff) {
			continue
		}
		sum = sum.Add(expNeg(x, places))
	}
	return potential{max: m, ln: lnAtLeastOne(sum, places)}
}

// exactCostTo is C(next) - C(p), unrounded.
func (p potential) exactCostTo(next potential, b decimal.Decimal) decimal.Decimal {
	return next.max.Sub(p.max).Add(b.Mul(next.ln.Sub(p.ln)))
}

// expNeg is e^x for x <= 0, to the given decimal places. The argument is
// halved until it is at most 1/16, the series is summed, and the result is
// squared back up.
func expNeg(x decimal.Decimal, places int32) decimal.Decimal {
	if x.IsZero() {
		return one
	}
	wp := places + workPlaces
	r := x.Neg()
	k := 0
	for r.GreaterThan(sixteenth) {
		r = r.Mul(half)
		k++
	}

	eps := decimal.New(1, -wp)
	negR := r.Neg()
	sum := one
	term := one
	for n := int64(1); ; n++ {
		term = term.Mul(negR).DivRound(decimal.NewFromInt(n), wp)
		if term.Abs().LessThan(eps) {
			break
		}
		sum = sum.Add(term)
	}
	for ; k > 0; k-- {
		sum = sum.Mul(sum).Round(wp)
	}
	return sum.Round(places)
}

// lnAtLeastOne is ln(s) for s >= 1, to the given decimal places.
func lnAtLeastOne(s decimal.Decimal, places int32) decimal.Decimal {
	wp := places + workPlaces
	j := int64(0)
	for s.GreaterThanOrEqual(two) {
		s = s.Mul(half)
		j++
	}
	result := atanhLog(s, wp)
	if j > 0 {
		result = result.Add(ln2.Mul(decimal.NewFromInt(j)))
	}
	return result.Round(places)
}

// atanhLog is ln(t) = 2*atanh((t-1)/(t+1)) for t in [1, 2].
func atanhLog(t decimal.Decimal, wp int32) decimal.Decimal {
	z := t.Sub(one).DivRound(t.Add(one), wp)
	z2 := z.Mul(z).Round(wp)
	eps := decimal.New(1, -wp)
	sum := decimal.Zero
	term := z
	for n := int64(1); term.GreaterThanOrEqual(eps); n += 2 {
		sum = sum.Add(term.DivRound(decimal.NewFromInt(n), wp))
		term = term.Mul(z2).Round(wp)
	}
	return sum.Mul(two).Round(wp)
}
