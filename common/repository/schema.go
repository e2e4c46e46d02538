package repository

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/flowgrid/flowgrid/common/db"
)

//go:embed schema.sql
var schemaSQL string

// InitSchema applies the table definitions. Idempotent; intended as the
// bootstrap DB init hook.
func InitSchema(database *db.DB) error {
	ctx := context.Background()
	if _, err := database.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
