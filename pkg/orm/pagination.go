package orm

import "gorm.io/gorm"

// ApplyPagination limits a query to one page. limit <= 0 leaves it unbounded;
// a negative offset is treated as 0.
func ApplyPagination(db *gorm.DB, offset, limit int) *gorm.DB {
	if offset > 0 {
		db = db.Offset(offset)
	}
	if limit > 0 {
		db = db.Limit(limit)
	}
	return db
}
