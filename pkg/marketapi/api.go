package marketapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/decentralbet/amm/pkg/lmsr"
)

// maxBetAttempts bounds how often a bet is re-priced after losing a
// version race to a concurrent bet on the same market.
const maxBetAttempts = 16

var (
	ErrMarketNotFound    = errors.New("market not found")
	ErrBetNotFound       = errors.New("bet not found")
	ErrMarketClosed      = errors.New("market is not open for betting")
	ErrMarketNotResolved = errors.New("market is not yet resolved")
	ErrAlreadyResolved   = errors.New("market is already resolved")
	ErrAlreadyClaimed    = errors.New("payout already claimed")
	ErrStaleMarket       = errors.New("market changed since it was read")
	ErrNoShares          = errors.New("bet amount too small to buy any shares")
)

type Outcome struct {
	Description string
	LastPrice   float64
}

// Market is a market as last read from the store. Version increases with
// every write, and writes are only accepted against the current version.
type Market struct {
	ID          string
	Description string
	Liquidity   decimal.Decimal
	Outcomes    []Outcome
	State       lmsr.State
	Version     int64
	IsOpen      bool
	IsResolved  bool
	// WinningOutcome is -1 until the market is resolved.
	WinningOutcome int
	DateCreated    string
}

type Bet struct {
	ID       string
	MarketID string
	Username string
	Outcome  int
	// Amount is what the bettor offered; Cost is what the shares cost and
	// what the escrow should collect.
	Amount      decimal.Decimal
	Cost        decimal.Decimal
	Shares      decimal.Decimal
	Price       float64
	Claimed     bool
	Payout      decimal.NullDecimal
	DateCreated string
}

// Store persists markets and bets. CommitBet must fail with ErrStaleMarket
// if the market's version no longer matches m.Version.
type Store interface {
	CreateMarket(ctx context.Context, description string, liquidity decimal.Decimal, outcomes []string) (string, error)
	GetMarket(ctx context.Context, marketID string) (*Market, error)
	CommitBet(ctx context.Context, m *Market, bet *Bet, next lmsr.State, prices []float64) error
	CloseMarket(ctx context.Context, marketID string) error
	ResolveMarket(ctx context.Context, marketID string, winningOutcome int) error
	GetBet(ctx context.Context, betID string) (*Bet, error)
	GetBets(ctx context.Context, marketID, username string) ([]*Bet, error)
	MarkClaimed(ctx context.Context, betID string, payout decimal.Decimal) error
}

// MarketService prices bets with the lmsr engine against the state in a
// Store. It owns serializing bets on one market.
type MarketService struct {
	store Store
}

func NewMarketService(store Store) *MarketService {
	return &MarketService{store: store}
}

// Quote prices a prospective bet without placing it.
func (m *MarketService) Quote(ctx context.Context, marketID string, outcome int, amount decimal.Decimal) (lmsr.PricingResult, error) {
	market, err := m.store.GetMarket(ctx, marketID)
	if err != nil {
		return lmsr.PricingResult{}, err
	}
	return lmsr.Snapshot(market.State.Shares(), amount, outcome, market.Liquidity)
}

// PlaceBet spends up to amount on outcome. If another bet lands first, the
// bet is priced again against the new state.
func (m *MarketService) PlaceBet(ctx context.Context, username, marketID string, outcome int, amount decimal.Decimal) (*Bet, error) {
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", lmsr.ErrInvalidInput)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: bet amount must be positive", lmsr.ErrInvalidInput)
	}
	for attempt := 1; attempt <= maxBetAttempts; attempt++ {
		market, err := m.store.GetMarket(ctx, marketID)
		if err != nil {
			return nil, err
		}
		if !market.IsOpen || market.IsResolved {
			return nil, ErrMarketClosed
		}
		trade, err := lmsr.SharesForCost(amount, outcome, market.State.Shares(), market.Liquidity)
		if err != nil {
			return nil, err
		}
		if trade.Shares.IsZero() {
			return nil, ErrNoShares
		}
		bet := &Bet{
			MarketID: marketID,
			Username: username,
			Outcome:  outcome,
			Amount:   amount,
			Cost:     trade.Cost,
			Shares:   trade.Shares,
			Price:    trade.NewPrice,
		}
		err = m.store.CommitBet(ctx, market, bet, trade.State, trade.NewPrices)
		if errors.Is(err, ErrStaleMarket) {
			log.Info().Str("marketID", marketID).Int64("version", market.Version).
				Int("attempt", attempt).Msg("stale-market-repricing")
			continue
		}
		if err != nil {
			return nil, err
		}
		log.Debug().Str("marketID", marketID).Str("betID", bet.ID).Str("shares", bet.Shares.String()).
			Str("cost", bet.Cost.String()).Float64("impact", trade.PriceImpact).Msg("bet-placed")
		return bet, nil
	}
	return nil, fmt.Errorf("%w: gave up after %d attempts", ErrStaleMarket, maxBetAttempts)
}

// ClaimPayout computes what a bet is owed once its market is resolved and
// marks it claimed. Transferring the amount is up to the caller.
func (m *MarketService) ClaimPayout(ctx context.Context, betID string) (decimal.Decimal, error) {
	bet, err := m.store.GetBet(ctx, betID)
	if err != nil {
		return decimal.Zero, err
	}
	if bet.Claimed {
		return decimal.Zero, ErrAlreadyClaimed
	}
	market, err := m.store.GetMarket(ctx, bet.MarketID)
	if err != nil {
		return decimal.Zero, err
	}
	if !market.IsResolved {
		return decimal.Zero, ErrMarketNotResolved
	}
	payout, err := market.State.Payout(bet.Shares, bet.Outcome, market.WinningOutcome)
	if err != nil {
		return decimal.Zero, err
	}
	if err := m.store.MarkClaimed(ctx, betID, payout); err != nil {
		return decimal.Zero, err
	}
	return payout, nil
}
