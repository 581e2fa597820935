package marketapi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lithammer/shortuuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/decentralbet/amm/pkg/lmsr"
)

type SqliteStore struct {
	db *sql.DB
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func NewSqliteStore(dbName string) (*SqliteStore, error) {
	dsn := dbName
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; queue writers here instead of failing
	// with SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return &SqliteStore{db: db}, nil
}

func (s *SqliteStore) Close() error {
	return s.db.Close()
}

func dbid(ctx context.Context, q queryRower, tableName, otheridName, otherid string) (int64, error) {
	var id int64

	query := fmt.Sprintf("SELECT id FROM %s WHERE %s = ?", tableName, otheridName)

	err := q.QueryRowContext(ctx, query, otherid).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *SqliteStore) CreateMarket(ctx context.Context, description string,
	liquidity decimal.Decimal, outcomes []string) (string, error) {

	if _, err := lmsr.MaxLoss(liquidity, len(outcomes)); err != nil {
		return "", err
	}
	prices, err := lmsr.Prices(make([]decimal.Decimal, len(outcomes)), liquidity)
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	uuid := shortuuid.New()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO markets (uuid, description, liquidity, date_created)
		VALUES (?, ?, ?, ?)`, uuid, description, liquidity, now())
	if err != nil {
		return "", err
	}
	marketID, err := res.LastInsertId()
	if err != nil {
		return "", err
	}
	for i, desc := range outcomes {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO outcomes (market_id, idx, description, shares_outstanding, last_price)
			VALUES (?, ?, ?, ?, ?)`, marketID, i, desc, decimal.Zero, prices[i])
		if err != nil {
			return "", err
		}
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	log.Info().Str("marketID", uuid).Str("liquidity", liquidity.String()).
		Int("outcomes", len(outcomes)).Msg("market-created")
	return uuid, nil
}

func (s *SqliteStore) GetMarket(ctx context.Context, marketID string) (*Market, error) {
	market := &Market{ID: marketID}
	var id int64
	var winner sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, description, liquidity, version, is_open, is_resolved,
		winning_outcome, date_created
		FROM markets
		WHERE uuid = ?`, marketID).Scan(&id, &market.Description, &market.Liquidity,
		&market.Version, &market.IsOpen, &market.IsResolved, &winner, &market.DateCreated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, marketID)
	}
	if err != nil {
		return nil, err
	}
	market.WinningOutcome = -1
	if winner.Valid {
		market.WinningOutcome = int(winner.Int64)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT description, shares_outstanding, last_price
		FROM outcomes
		WHERE market_id = ?
		ORDER BY idx`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	shares := []decimal.Decimal{}
	for rows.Next() {
		var o Outcome
		var q decimal.Decimal
		if err := rows.Scan(&o.Description, &q, &o.LastPrice); err != nil {
			return nil, err
		}
		market.Outcomes = append(market.Outcomes, o)
		shares = append(shares, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	market.State, err = lmsr.NewState(shares...)
	if err != nil {
		return nil, fmt.Errorf("market %s has corrupt share totals: %w", marketID, err)
	}
	return market, nil
}

// CommitBet writes the post-trade state and the bet, provided the market is
// still open and at the version it was read at.
func (s *SqliteStore) CommitBet(ctx context.Context, m *Market, bet *Bet,
	next lmsr.State, prices []float64) error {

	if next.Len() != len(m.Outcomes) || len(prices) != len(m.Outcomes) {
		return fmt.Errorf("%w: new state has %d outcomes, market has %d",
			lmsr.ErrInvalidInput, next.Len(), len(m.Outcomes))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE markets
		SET version = version + 1
		WHERE uuid = ? AND version = ? AND is_open = 1 AND is_resolved = 0`,
		m.ID, m.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStaleMarket
	}

	marketID, err := dbid(ctx, tx, "markets", "uuid", m.ID)
	if err != nil {
		return err
	}
	for i, q := range next.Shares() {
		_, err = tx.ExecContext(ctx, `
			UPDATE outcomes
			SET shares_outstanding = ?, last_price = ?
			WHERE market_id = ? AND idx = ?`, q, prices[i], marketID, i)
		if err != nil {
			return err
		}
	}

	bet.ID = shortuuid.New()
	bet.DateCreated = now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO bets (uuid, market_id, username, outcome_idx, amount, cost,
		shares, price, date_created)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bet.ID, marketID, bet.Username, bet.Outcome, bet.Amount, bet.Cost,
		bet.Shares, bet.Price, bet.DateCreated)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	m.Version++
	return nil
}

// CloseMarket stops betting on a market ahead of resolution.
func (s *SqliteStore) CloseMarket(ctx context.Context, marketID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE markets
		SET is_open = 0, version = version + 1
		WHERE uuid = ?`, marketID)
	if err != nil {
		return err
	}
	return expectRow(res, fmt.Errorf("%w: %s", ErrMarketNotFound, marketID))
}

// ResolveMarket records the winning outcome supplied by the resolver and
// closes the market. A market is resolved at most once.
func (s *SqliteStore) ResolveMarket(ctx context.Context, marketID string, winningOutcome int) error {
	market, err := s.GetMarket(ctx, marketID)
	if err != nil {
		return err
	}
	if market.IsResolved {
		return ErrAlreadyResolved
	}
	if winningOutcome < 0 || winningOutcome >= market.State.Len() {
		return fmt.Errorf("%w: winning outcome %d out of range [0, %d)",
			lmsr.ErrInvalidInput, winningOutcome, market.State.Len())
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE markets
		SET is_open = 0, is_resolved = 1, winning_outcome = ?, date_resolved = ?,
		version = version + 1
		WHERE uuid = ? AND is_resolved = 0`, winningOutcome, now(), marketID)
	if err != nil {
		return err
	}
	if err := expectRow(res, ErrAlreadyResolved); err != nil {
		return err
	}
	log.Info().Str("marketID", marketID).Int("winningOutcome", winningOutcome).Msg("market-resolved")
	return nil
}

func (s *SqliteStore) GetBet(ctx context.Context, betID string) (*Bet, error) {
	bets, err := s.queryBets(ctx, []string{"bets.uuid = ?"}, []any{betID})
	if err != nil {
		return nil, err
	}
	if len(bets) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrBetNotFound, betID)
	}
	return bets[0], nil
}

// GetBets lists bets, optionally restricted to one market and/or user.
func (s *SqliteStore) GetBets(ctx context.Context, marketID, username string) ([]*Bet, error) {
	wheres := []string{}
	wheresVars := []any{}

	if marketID != "" {
		id, err := dbid(ctx, s.db, "markets", "uuid", marketID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, marketID)
		}
		if err != nil {
			return nil, err
		}
		wheres = append(wheres, `bets.market_id = ?`)
		wheresVars = append(wheresVars, id)
	}
	if username != "" {
		wheres = append(wheres, `bets.username = ?`)
		wheresVars = append(wheresVars, username)
	}
	return s.queryBets(ctx, wheres, wheresVars)
}

func (s *SqliteStore) queryBets(ctx context.Context, wheres []string, wheresVars []any) ([]*Bet, error) {
	whereRendered := ""
	if len(wheres) > 0 {
		whereRendered = "WHERE " + strings.Join(wheres, " AND ")
	}
	fullQuery := fmt.Sprintf(`
		SELECT bets.uuid, markets.uuid, username, outcome_idx, amount, cost,
		shares, price, claimed, payout, bets.date_created
		FROM bets
		JOIN markets
		ON bets.market_id = markets.id
		%s
		ORDER BY bets.id`, whereRendered)
	log.Debug().Str("fullQuery", fullQuery).Str("storeMethod", "queryBets").Msg("executing-query")
	rows, err := s.db.QueryContext(ctx, fullQuery, wheresVars...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bets := []*Bet{}
	for rows.Next() {
		bet := &Bet{}
		err = rows.Scan(&bet.ID, &bet.MarketID, &bet.Username, &bet.Outcome, &bet.Amount,
			&bet.Cost, &bet.Shares, &bet.Price, &bet.Claimed, &bet.Payout, &bet.DateCreated)
		if err != nil {
			return nil, err
		}
		bets = append(bets, bet)
	}
	return bets, rows.Err()
}

func (s *SqliteStore) MarkClaimed(ctx context.Context, betID string, payout decimal.Decimal) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bets
		SET claimed = 1, payout = ?
		WHERE uuid = ? AND claimed = 0`, payout, betID)
	if err != nil {
		return err
	}
	return expectRow(res, ErrAlreadyClaimed)
}

func expectRow(res sql.Result, errNone error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errNone
	}
	return nil
}
