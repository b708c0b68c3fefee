package store

import (
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies all pending schema migrations.
func (s *Store) Migrate() error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(s.db.DB, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// SeedProduct upserts a catalog product. Used by the sandbox and integration tests.
func (s *Store) SeedProduct(id, farmerID, name string, unitPrice int64, currency string, available int, location string) error {
	_, err := s.db.Exec(`
		INSERT INTO products (id, farmer_id, name, unit_price, currency, available, location)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			farmer_id = EXCLUDED.farmer_id, name = EXCLUDED.name, unit_price = EXCLUDED.unit_price,
			currency = EXCLUDED.currency, available = EXCLUDED.available, location = EXCLUDED.location,
			updated_at = NOW()`,
		id, farmerID, name, unitPrice, currency, available, location)
	return err
}
