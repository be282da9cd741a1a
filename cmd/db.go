package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/alkfred/alkfred/internal/civic"
	"github.com/alkfred/alkfred/internal/store"
	"github.com/alkfred/alkfred/pkg/civicapi"
)

// warehousePool creates a pgxpool.Pool for the warehouse subsystem.
func warehousePool(ctx context.Context) (*pgxpool.Pool, error) {
	dsn := cfg.Warehouse.DatabaseURL
	if dsn == "" {
		return nil, eris.New("warehouse: no database_url configured (set warehouse.database_url)")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: create connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "warehouse: ping database")
	}

	fmt.Println("Connected to warehouse")
	return pool, nil
}

// openStore opens the local snapshot database and applies its migrations.
func openStore(ctx context.Context) (store.Store, error) {
	s, err := store.NewSQLite(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// newCivicClient builds the upstream GraphQL client from configuration.
func newCivicClient() civicapi.Client {
	return civicapi.NewClient(
		civicapi.WithBaseURL(cfg.CIViC.BaseURL),
		civicapi.WithPageSize(cfg.CIViC.PageSize),
		civicapi.WithRateLimit(cfg.CIViC.RateRPS, cfg.CIViC.RateBurst),
		civicapi.WithMaxRetries(cfg.CIViC.MaxRetries),
	)
}

// cachedLookup wraps the API profile lookup with the store's component cache
// so repeated builds don't re-query upstream for the same profile.
func cachedLookup(s store.Store, client civicapi.Client) civic.ComponentLookup {
	return func(ctx context.Context, profileName string) ([]civic.Component, error) {
		if comps, ok, err := s.GetComponents(ctx, profileName); err == nil && ok {
			return comps, nil
		}
		comps, err := client.MolecularProfileComponents(ctx, profileName)
		if err != nil {
			return nil, err
		}
		if err := s.SetComponents(ctx, profileName, comps); err != nil {
			return nil, err
		}
		return comps, nil
	}
}
