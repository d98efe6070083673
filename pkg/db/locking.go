package db

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ForUpdate adds a row lock to tx on dialects that support it.
func ForUpdate(tx *gorm.DB) *gorm.DB {
	if !SupportsRowLocks(tx) {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
}

// ForUpdateSkipLocked claims rows without waiting on rows other workers hold.
func ForUpdateSkipLocked(tx *gorm.DB) *gorm.DB {
	if !SupportsRowLocks(tx) {
		return tx
	}
	return tx.Clauses(clause.Locking{
		Strength: clause.LockingStrengthUpdate,
		Options:  clause.LockingOptionsSkipLocked,
	})
}
