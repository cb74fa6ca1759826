// Package barstore journals ingested bars so a restart can warm the
// aggregator and offline replay can re-run history.
package barstore

import (
	"context"
	"fmt"

	"BiasSentinel/internal/config"
	"BiasSentinel/internal/model"
)

// Store persists raw bars. Saving a bar that is already stored is a no-op.
type Store interface {
	SaveBars(ctx context.Context, symbol string, bars []model.Bar) error
	// LoadBars returns up to limit of the most recent bars of tf in
	// ascending open-time order.
	LoadBars(ctx context.Context, symbol string, tf model.Timeframe, limit int) ([]model.Bar, error)
	Close() error
}

// Open builds the store selected by cfg.Storage.Driver.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Storage.Driver {
	case "sqlite":
		return NewSQLiteStore(cfg.Storage.SQLitePath)
	case "postgres":
		return NewPostgresStore(ctx, cfg.Storage.PostgresDSN)
	case "none", "":
		return NewNoopStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// NoopStore is used when journaling is disabled.
type NoopStore struct{}

func NewNoopStore() *NoopStore { return &NoopStore{} }

func (n *NoopStore) SaveBars(_ context.Context, _ string, _ []model.Bar) error { return nil }
func (n *NoopStore) LoadBars(_ context.Context, _ string, _ model.Timeframe, _ int) ([]model.Bar, error) {
	return nil, nil
}
func (n *NoopStore) Close() error { return nil }

func reverse(bars []model.Bar) {
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
}
