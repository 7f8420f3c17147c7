package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ruscet/vault-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS assets (
	asset          TEXT PRIMARY KEY,
	decimals       INTEGER NOT NULL,
	weight         BIGINT NOT NULL,
	min_profit_bps BIGINT NOT NULL,
	max_rusd       NUMERIC NOT NULL,
	is_stable      BOOLEAN NOT NULL,
	is_shortable   BOOLEAN NOT NULL,
	whitelisted    BOOLEAN NOT NULL,
	max_leverage   BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS pools (
	asset           TEXT PRIMARY KEY,
	pool_amount     NUMERIC NOT NULL,
	reserved_amount NUMERIC NOT NULL,
	guaranteed_usd  NUMERIC NOT NULL,
	fee_reserves    NUMERIC NOT NULL,
	stable_debt     NUMERIC NOT NULL,
	balance         NUMERIC NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	account             TEXT NOT NULL,
	collateral_asset    TEXT NOT NULL,
	index_asset         TEXT NOT NULL,
	is_long             BOOLEAN NOT NULL,
	size                NUMERIC NOT NULL,
	collateral          NUMERIC NOT NULL,
	average_price       NUMERIC NOT NULL,
	entry_funding_rate  NUMERIC NOT NULL,
	reserve_amount      NUMERIC NOT NULL,
	realized_pnl        NUMERIC NOT NULL,
	last_increased_time TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (account, collateral_asset, index_asset, is_long)
);

CREATE TABLE IF NOT EXISTS funding (
	asset                         TEXT PRIMARY KEY,
	last_funding_time             TIMESTAMPTZ NOT NULL,
	total_long_sizes              NUMERIC NOT NULL,
	total_short_sizes             NUMERIC NOT NULL,
	cumulative_long_funding_rate  NUMERIC NOT NULL,
	cumulative_short_funding_rate NUMERIC NOT NULL
);

CREATE TABLE IF NOT EXISTS global_shorts (
	asset         TEXT PRIMARY KEY,
	size          NUMERIC NOT NULL,
	average_price NUMERIC NOT NULL
);

CREATE TABLE IF NOT EXISTS token_balances (
	token   TEXT NOT NULL,
	account TEXT NOT NULL,
	amount  NUMERIC NOT NULL,
	PRIMARY KEY (token, account)
);

CREATE TABLE IF NOT EXISTS vault_settings (
	id   SMALLINT PRIMARY KEY,
	data JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS vault_events (
	seq        BIGSERIAL PRIMARY KEY,
	id         UUID NOT NULL UNIQUE,
	type       TEXT NOT NULL,
	account    TEXT NOT NULL,
	asset      TEXT NOT NULL,
	asset2     TEXT NOT NULL,
	position   TEXT NOT NULL,
	amount_in  NUMERIC NOT NULL,
	amount_out NUMERIC NOT NULL,
	usd        NUMERIC NOT NULL,
	fee        NUMERIC NOT NULL,
	price      NUMERIC NOT NULL,
	detail     TEXT NOT NULL,
	timestamp  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS vault_events_account_idx ON vault_events (account, seq);
`

// EnsureSchema creates the tables if they don't exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) ApplyChangeSet(ctx context.Context, cs *model.ChangeSet) error {
	if cs == nil || cs.Empty() {
		return nil
	}

	b := &pgx.Batch{}
	for _, a := range cs.Assets {
		b.Queue(`INSERT INTO assets (asset, decimals, weight, min_profit_bps, max_rusd, is_stable, is_shortable, whitelisted, max_leverage)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8, $9)
			 ON CONFLICT (asset) DO UPDATE SET
			   decimals = EXCLUDED.decimals, weight = EXCLUDED.weight,
			   min_profit_bps = EXCLUDED.min_profit_bps, max_rusd = EXCLUDED.max_rusd,
			   is_stable = EXCLUDED.is_stable, is_shortable = EXCLUDED.is_shortable,
			   whitelisted = EXCLUDED.whitelisted, max_leverage = EXCLUDED.max_leverage`,
			a.Asset, a.Decimals, a.Weight, a.MinProfitBps, a.MaxRusd.String(),
			a.IsStable, a.IsShortable, a.Whitelisted, a.MaxLeverage)
	}
	for _, p := range cs.Pools {
		b.Queue(`INSERT INTO pools (asset, pool_amount, reserved_amount, guaranteed_usd, fee_reserves, stable_debt, balance)
			 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC)
			 ON CONFLICT (asset) DO UPDATE SET
			   pool_amount = EXCLUDED.pool_amount, reserved_amount = EXCLUDED.reserved_amount,
			   guaranteed_usd = EXCLUDED.guaranteed_usd, fee_reserves = EXCLUDED.fee_reserves,
			   stable_debt = EXCLUDED.stable_debt, balance = EXCLUDED.balance`,
			p.Asset, p.PoolAmount.String(), p.ReservedAmount.String(), p.GuaranteedUSD.String(),
			p.FeeReserves.String(), p.StableDebt.String(), p.Balance.String())
	}
	for _, p := range cs.Positions {
		b.Queue(`INSERT INTO positions (account, collateral_asset, index_asset, is_long, size, collateral,
			   average_price, entry_funding_rate, reserve_amount, realized_pnl, last_increased_time)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11)
			 ON CONFLICT (account, collateral_asset, index_asset, is_long) DO UPDATE SET
			   size = EXCLUDED.size, collateral = EXCLUDED.collateral,
			   average_price = EXCLUDED.average_price, entry_funding_rate = EXCLUDED.entry_funding_rate,
			   reserve_amount = EXCLUDED.reserve_amount, realized_pnl = EXCLUDED.realized_pnl,
			   last_increased_time = EXCLUDED.last_increased_time`,
			p.Key.Account, p.Key.CollateralAsset, p.Key.IndexAsset, p.Key.IsLong,
			p.Size.String(), p.Collateral.String(), p.AveragePrice.String(),
			p.EntryFundingRate.String(), p.ReserveAmount.String(), p.RealizedPnL.String(),
			p.LastIncreasedTime)
	}
	for _, f := range cs.Funding {
		b.Queue(`INSERT INTO funding (asset, last_funding_time, total_long_sizes, total_short_sizes,
			   cumulative_long_funding_rate, cumulative_short_funding_rate)
			 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC)
			 ON CONFLICT (asset) DO UPDATE SET
			   last_funding_time = EXCLUDED.last_funding_time,
			   total_long_sizes = EXCLUDED.total_long_sizes, total_short_sizes = EXCLUDED.total_short_sizes,
			   cumulative_long_funding_rate = EXCLUDED.cumulative_long_funding_rate,
			   cumulative_short_funding_rate = EXCLUDED.cumulative_short_funding_rate`,
			f.Asset, f.LastFundingTime, f.TotalLongSizes.String(), f.TotalShortSizes.String(),
			f.CumulativeLongFundingRate.String(), f.CumulativeShortFundingRate.String())
	}
	for _, g := range cs.Shorts {
		b.Queue(`INSERT INTO global_shorts (asset, size, average_price)
			 VALUES ($1, $2::NUMERIC, $3::NUMERIC)
			 ON CONFLICT (asset) DO UPDATE SET size = EXCLUDED.size, average_price = EXCLUDED.average_price`,
			g.Asset, g.Size.String(), g.AveragePrice.String())
	}
	for _, bal := range cs.Balances {
		b.Queue(`INSERT INTO token_balances (token, account, amount)
			 VALUES ($1, $2, $3::NUMERIC)
			 ON CONFLICT (token, account) DO UPDATE SET amount = EXCLUDED.amount`,
			bal.Token, bal.Account, bal.Amount.String())
	}
	if cs.Settings != nil {
		data, err := json.Marshal(cs.Settings)
		if err != nil {
			return fmt.Errorf("encode settings: %w", err)
		}
		b.Queue(`INSERT INTO vault_settings (id, data) VALUES (1, $1)
			 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data`, data)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("apply change set: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) LoadSnapshot(ctx context.Context) (*model.Snapshot, error) {
	snap := &model.Snapshot{}

	rows, err := s.pool.Query(ctx,
		`SELECT asset, decimals, weight, min_profit_bps, max_rusd::TEXT,
		        is_stable, is_shortable, whitelisted, max_leverage
		 FROM assets ORDER BY asset`)
	if err != nil {
		return nil, err
	}
	snap.Assets, err = collect(rows, scanAsset)
	if err != nil {
		return nil, fmt.Errorf("load assets: %w", err)
	}

	rows, err = s.pool.Query(ctx, `SELECT `+poolColumns+` FROM pools ORDER BY asset`)
	if err != nil {
		return nil, err
	}
	snap.Pools, err = collect(rows, scanPool)
	if err != nil {
		return nil, fmt.Errorf("load pools: %w", err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions
		 ORDER BY account, collateral_asset, index_asset, is_long`)
	if err != nil {
		return nil, err
	}
	snap.Positions, err = collect(rows, scanPosition)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT asset, last_funding_time, total_long_sizes::TEXT, total_short_sizes::TEXT,
		        cumulative_long_funding_rate::TEXT, cumulative_short_funding_rate::TEXT
		 FROM funding ORDER BY asset`)
	if err != nil {
		return nil, err
	}
	snap.Funding, err = collect(rows, scanFunding)
	if err != nil {
		return nil, fmt.Errorf("load funding: %w", err)
	}

	rows, err = s.pool.Query(ctx, `SELECT asset, size::TEXT, average_price::TEXT FROM global_shorts ORDER BY asset`)
	if err != nil {
		return nil, err
	}
	snap.Shorts, err = collect(rows, func(row pgx.Row) (model.GlobalShortState, error) {
		var g model.GlobalShortState
		var nc numericCols
		if err := row.Scan(&g.Asset, nc.col(&g.Size), nc.col(&g.AveragePrice)); err != nil {
			return g, err
		}
		return g, nc.parse()
	})
	if err != nil {
		return nil, fmt.Errorf("load shorts: %w", err)
	}

	rows, err = s.pool.Query(ctx, `SELECT token, account, amount::TEXT FROM token_balances ORDER BY token, account`)
	if err != nil {
		return nil, err
	}
	snap.Balances, err = collect(rows, func(row pgx.Row) (model.TokenBalance, error) {
		var b model.TokenBalance
		var nc numericCols
		if err := row.Scan(&b.Token, &b.Account, nc.col(&b.Amount)); err != nil {
			return b, err
		}
		return b, nc.parse()
	})
	if err != nil {
		return nil, fmt.Errorf("load balances: %w", err)
	}

	var data []byte
	err = s.pool.QueryRow(ctx, `SELECT data FROM vault_settings WHERE id = 1`).Scan(&data)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("load settings: %w", err)
	default:
		var settings model.Settings
		if err := json.Unmarshal(data, &settings); err != nil {
			return nil, fmt.Errorf("decode settings: %w", err)
		}
		snap.Settings = &settings
	}

	return snap, nil
}

func (s *PostgresStore) GetPool(ctx context.Context, asset string) (*model.PoolState, error) {
	p, err := scanPool(s.pool.QueryRow(ctx, `SELECT `+poolColumns+` FROM pools WHERE asset = $1`, asset))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("pool %s: %w", asset, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get pool %s: %w", asset, err)
	}
	return &p, nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, key model.PositionKey) (*model.Position, error) {
	p, err := scanPosition(s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE account = $1 AND collateral_asset = $2 AND index_asset = $3 AND is_long = $4`,
		key.Account, key.CollateralAsset, key.IndexAsset, key.IsLong))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("position %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", key, err)
	}
	return &p, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, account string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE account = $1 AND size > 0
		 ORDER BY collateral_asset, index_asset, is_long`, account)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanPosition)
}

func (s *PostgresStore) InsertEvents(ctx context.Context, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, e := range events {
		b.Queue(`INSERT INTO vault_events (id, type, account, asset, asset2, position,
			   amount_in, amount_out, usd, fee, price, detail, timestamp)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12, $13)`,
			e.ID, e.Type, e.Account, e.Asset, e.Asset2, e.Position,
			e.AmountIn.String(), e.AmountOut.String(), e.USD.String(), e.Fee.String(), e.Price.String(),
			e.Detail, e.Timestamp)
	}
	return s.pool.SendBatch(ctx, b).Close()
}

func (s *PostgresStore) ListEvents(ctx context.Context, filter EventFilter) ([]model.Event, error) {
	var limit any
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, type, account, asset, asset2, position,
		        amount_in::TEXT, amount_out::TEXT, usd::TEXT, fee::TEXT, price::TEXT,
		        detail, timestamp
		 FROM vault_events
		 WHERE ($1 = '' OR account = $1) AND ($2 = '' OR type = $2)
		 ORDER BY seq DESC LIMIT $3`, filter.Account, filter.Type, limit)
	if err != nil {
		return nil, err
	}
	events, err := collect(rows, scanEvent)
	if err != nil {
		return nil, err
	}
	// newest first from the query; callers get journal order
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// --- Row scanning ---

const poolColumns = `asset, pool_amount::TEXT, reserved_amount::TEXT, guaranteed_usd::TEXT,
	fee_reserves::TEXT, stable_debt::TEXT, balance::TEXT`

const positionColumns = `account, collateral_asset, index_asset, is_long,
	size::TEXT, collateral::TEXT, average_price::TEXT, entry_funding_rate::TEXT,
	reserve_amount::TEXT, realized_pnl::TEXT, last_increased_time`

// numericCols collects NUMERIC::TEXT columns during Scan and parses them
// into their decimal destinations afterwards.
type numericCols struct {
	raw []*string
	dst []*decimal.Decimal
}

func (n *numericCols) col(d *decimal.Decimal) *string {
	s := new(string)
	n.raw = append(n.raw, s)
	n.dst = append(n.dst, d)
	return s
}

func (n *numericCols) parse() error {
	for i, s := range n.raw {
		v, err := decimal.NewFromString(*s)
		if err != nil {
			return fmt.Errorf("parse numeric %q: %w", *s, err)
		}
		*n.dst[i] = v
	}
	return nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanAsset(row pgx.Row) (model.AssetConfig, error) {
	var a model.AssetConfig
	var nc numericCols
	if err := row.Scan(&a.Asset, &a.Decimals, &a.Weight, &a.MinProfitBps, nc.col(&a.MaxRusd),
		&a.IsStable, &a.IsShortable, &a.Whitelisted, &a.MaxLeverage); err != nil {
		return a, err
	}
	return a, nc.parse()
}

func scanPool(row pgx.Row) (model.PoolState, error) {
	var p model.PoolState
	var nc numericCols
	if err := row.Scan(&p.Asset, nc.col(&p.PoolAmount), nc.col(&p.ReservedAmount), nc.col(&p.GuaranteedUSD),
		nc.col(&p.FeeReserves), nc.col(&p.StableDebt), nc.col(&p.Balance)); err != nil {
		return p, err
	}
	return p, nc.parse()
}

func scanPosition(row pgx.Row) (model.Position, error) {
	var p model.Position
	var nc numericCols
	if err := row.Scan(&p.Key.Account, &p.Key.CollateralAsset, &p.Key.IndexAsset, &p.Key.IsLong,
		nc.col(&p.Size), nc.col(&p.Collateral), nc.col(&p.AveragePrice), nc.col(&p.EntryFundingRate),
		nc.col(&p.ReserveAmount), nc.col(&p.RealizedPnL), &p.LastIncreasedTime); err != nil {
		return p, err
	}
	p.LastIncreasedTime = p.LastIncreasedTime.UTC()
	return p, nc.parse()
}

func scanFunding(row pgx.Row) (model.FundingInfo, error) {
	var f model.FundingInfo
	var nc numericCols
	if err := row.Scan(&f.Asset, &f.LastFundingTime, nc.col(&f.TotalLongSizes), nc.col(&f.TotalShortSizes),
		nc.col(&f.CumulativeLongFundingRate), nc.col(&f.CumulativeShortFundingRate)); err != nil {
		return f, err
	}
	f.LastFundingTime = f.LastFundingTime.UTC()
	return f, nc.parse()
}

func scanEvent(row pgx.Row) (model.Event, error) {
	var e model.Event
	var nc numericCols
	if err := row.Scan(&e.ID, &e.Type, &e.Account, &e.Asset, &e.Asset2, &e.Position,
		nc.col(&e.AmountIn), nc.col(&e.AmountOut), nc.col(&e.USD), nc.col(&e.Fee), nc.col(&e.Price),
		&e.Detail, &e.Timestamp); err != nil {
		return e, err
	}
	e.Timestamp = e.Timestamp.UTC()
	return e, nc.parse()
}
