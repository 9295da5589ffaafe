package health

import (
	"context"
	"database/sql"
)

// DBChecker pings the reference database.
type DBChecker struct {
	db *sql.DB
}

// NewDBChecker creates a database health checker.
func NewDBChecker(db *sql.DB) *DBChecker {
	return &DBChecker{db: db}
}

// HealthCheck implements Checker.
func (d *DBChecker) HealthCheck(ctx context.Context) error {
	return d.db.PingContext(ctx)
}
