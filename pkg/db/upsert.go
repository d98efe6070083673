package db

import "gorm.io/gorm/clause"

// InsertIfAbsent turns an INSERT into a no-op when the row collides on
// (tenant_id, idempotency_key). RowsAffected tells the two cases apart.
func InsertIfAbsent() clause.OnConflict {
	return clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "idempotency_key"}},
		TargetWhere: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "idempotency_key IS NOT NULL"},
		}},
		DoNothing: true,
	}
}
