// Package storage persists interval bars and trade summaries to Postgres.
// Each market gets its own bar table, mirroring the one-table-per-market
// layout the scraper output is queried by.
package storage

import (
	"context"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"cryptick/internal/entity"
)

const summariesTable = "trade_summaries"

// PostgresSink writes aggregated bars and completed trade summaries.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink connects to the database and verifies connectivity.
// Decimal columns are mapped to shopspring decimals on every connection.
func NewPostgresSink(ctx context.Context, dbURL string) (*PostgresSink, error) {
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse database url")
	}
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	return &PostgresSink{pool: pool}, nil
}

// EnsureMarketTable creates the per-market bar table and the shared trade
// summary table if they do not exist yet.
func (s *PostgresSink) EnsureMarketTable(ctx context.Context, market entity.Market) error {
	barTable := pgx.Identifier{barTableName(market)}.Sanitize()

	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+barTable+` (
			time        TIMESTAMPTZ PRIMARY KEY,
			price       NUMERIC(14,8) NOT NULL,
			wprice      NUMERIC(14,8) NOT NULL,
			base_volume NUMERIC(14,8) NOT NULL,
			buy_volume  NUMERIC(14,8) NOT NULL,
			sell_volume NUMERIC(14,8) NOT NULL,
			buy_order   INTEGER NOT NULL,
			sell_order  INTEGER NOT NULL
		)`)
	if err != nil {
		return errors.Wrapf(err, "failed to create bar table for %s", market.String())
	}

	_, err = s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+summariesTable+` (
			id         BIGSERIAL PRIMARY KEY,
			market     TEXT NOT NULL,
			buy_time   TIMESTAMPTZ NOT NULL,
			buy_price  NUMERIC(14,8) NOT NULL,
			buy_total  NUMERIC(14,8) NOT NULL,
			sell_time  TIMESTAMPTZ NOT NULL,
			sell_price NUMERIC(14,8) NOT NULL,
			sell_total NUMERIC(14,8) NOT NULL,
			profit     NUMERIC(14,8) NOT NULL,
			percent    NUMERIC(14,8) NOT NULL
		)`)
	return errors.Wrap(err, "failed to create trade summary table")
}

// InsertBars writes the batch in one transaction. Re-inserting a bar that
// already exists is a no-op, so retried batches stay idempotent.
func (s *PostgresSink) InsertBars(ctx context.Context, market entity.Market, bars []entity.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	barTable := pgx.Identifier{barTableName(market)}.Sanitize()
	batch := &pgx.Batch{}
	for _, bar := range bars {
		batch.Queue(`
			INSERT INTO `+barTable+`
				(time, price, wprice, base_volume, buy_volume, sell_volume, buy_order, sell_order)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (time) DO NOTHING`,
			bar.IntervalStart, bar.MeanPrice, bar.VWAP,
			bar.BaseVolume, bar.BuyVolume, bar.SellVolume,
			bar.BuyCount, bar.SellCount)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	results := tx.SendBatch(ctx, batch)
	for range bars {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return errors.Wrapf(err, "failed to insert bars for %s", market.String())
		}
	}
	if err := results.Close(); err != nil {
		return errors.Wrap(err, "failed to close batch")
	}

	return errors.Wrap(tx.Commit(ctx), "failed to commit bar batch")
}

// InsertTradeSummary records one completed buy/sell round trip.
func (s *PostgresSink) InsertTradeSummary(ctx context.Context, summary entity.TradeSummary) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+summariesTable+`
			(market, buy_time, buy_price, buy_total, sell_time, sell_price, sell_total, profit, percent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		summary.Market.String(), summary.BuyTime, summary.BuyPrice, summary.BuyTotal,
		summary.SellTime, summary.SellPrice, summary.SellTotal,
		summary.Profit, summary.Percent)
	return errors.Wrapf(err, "failed to insert trade summary for %s", summary.Market.String())
}

func (s *PostgresSink) Close() {
	s.pool.Close()
}

func barTableName(market entity.Market) string {
	return "bars_" + market.Symbol()
}
