package barstore

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"BiasSentinel/internal/model"
)

const postgresSchema = `CREATE TABLE IF NOT EXISTS bars (
	symbol    TEXT             NOT NULL,
	timeframe TEXT             NOT NULL,
	open_time TIMESTAMPTZ      NOT NULL,
	open      DOUBLE PRECISION NOT NULL,
	high      DOUBLE PRECISION NOT NULL,
	low       DOUBLE PRECISION NOT NULL,
	close     DOUBLE PRECISION NOT NULL,
	volume    DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (symbol, timeframe, open_time)
)`

// PostgresStore journals bars to Postgres through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, verifies the connection and creates the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	config.MaxConns = 4
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Println("[INFO] postgres bar store connected")
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) SaveBars(ctx context.Context, symbol string, bars []model.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, b := range bars {
		batch.Queue(`INSERT INTO bars
			(symbol, timeframe, open_time, open, high, low, close, volume)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (symbol, timeframe, open_time) DO NOTHING`,
			symbol, string(b.Timeframe), b.OpenTime.UTC(), b.Open, b.High, b.Low, b.Close, b.Volume)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert bars: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadBars(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Bar, error) {
	rows, err := s.pool.Query(ctx, `SELECT open_time, open, high, low, close, volume
		FROM bars WHERE symbol = $1 AND timeframe = $2
		ORDER BY open_time DESC LIMIT $3`, symbol, string(tf), limit)
	if err != nil {
		return nil, fmt.Errorf("query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		b := model.Bar{Timeframe: tf}
		if err := rows.Scan(&b.OpenTime, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		b.OpenTime = b.OpenTime.UTC()
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverse(bars)
	return bars, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
