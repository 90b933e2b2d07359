package game

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
)

//go:embed schema.sql
var schemaSQL string

// RunMigrations applies the embedded schema. Every statement is idempotent
// (IF NOT EXISTS, CREATE OR REPLACE) so this runs at every startup. Simple
// protocol is required: the schema is a multi-statement script.
func (r *Repository) RunMigrations(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaSQL, pgx.QueryExecModeSimpleProtocol); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
