package rls

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// WithTenant pins the Postgres session variable read by row level
// security policies. It must run inside a transaction.
func WithTenant(tx *gorm.DB, tenantID snowflake.ID) error {
	return tx.Exec(
		"SELECT set_config('app.current_tenant_id', ?, true)",
		fmt.Sprintf("%d", int64(tenantID)),
	).Error
}

// Apply calls WithTenant when enabled and the connection is Postgres.
func Apply(tx *gorm.DB, enabled bool, tenantID snowflake.ID) error {
	if !enabled || tx == nil || tx.Dialector == nil || tx.Dialector.Name() != "postgres" {
		return nil
	}
	return WithTenant(tx, tenantID)
}
