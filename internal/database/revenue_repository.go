package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/voyagehq/crm-ai-go/internal/models"
)

// DatabasePool defines the interface for database pool operations.
// This interface allows for both real pool and mock pool implementations.
type DatabasePool interface {
	// QueryRow executes a query that is expected to return at most one row.
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	// Exec executes a query without returning any rows.
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	// Query executes a query that returns rows.
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// RevenueRepository handles database operations for the revenue_daily
// rollup that feeds the forecaster.
type RevenueRepository struct {
	pool DatabasePool
}

// NewRevenueRepository creates a new revenue repository.
//
// Parameters:
//
//	pool: The database connection pool.
//
// Returns:
//
//	*RevenueRepository: The initialized repository.
func NewRevenueRepository(pool DatabasePool) *RevenueRepository {
	return &RevenueRepository{
		pool: pool,
	}
}

// DailyRevenue returns one revenue point per day for the tenant within
// [from, to). Days without recognized revenue are absent from the result;
// the forecaster zero-fills gaps itself.
//
// Parameters:
//
//	ctx: Context.
//	tenantID: Tenant scope.
//	from: Inclusive range start.
//	to: Exclusive range end.
//
// Returns:
//
//	[]models.RevenuePoint: Daily revenue ordered by date ascending.
//	error: Error if retrieval fails.
func (r *RevenueRepository) DailyRevenue(ctx context.Context, tenantID string, from, to time.Time) ([]models.RevenuePoint, error) {
	query := `
		SELECT tenant_id, day, amount
		FROM revenue_daily
		WHERE tenant_id = $1 AND day >= $2 AND day < $3
		ORDER BY day ASC
	`

	rows, err := r.pool.Query(ctx, query, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load daily revenue: %w", err)
	}
	defer rows.Close()

	var points []models.RevenuePoint
	for rows.Next() {
		var point models.RevenuePoint
		err := rows.Scan(
			&point.TenantID,
			&point.Date,
			&point.Amount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan revenue point: %w", err)
		}
		points = append(points, point)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily revenue: %w", err)
	}

	return points, nil
}

// DailyRevenueSince returns the tenant's daily revenue for the trailing
// number of days, ending today. Midnight UTC bounds keep the range stable
// across requests within the same day.
//
// Parameters:
//
//	ctx: Context.
//	tenantID: Tenant scope.
//	days: Length of the trailing window in days.
//
// Returns:
//
//	[]models.RevenuePoint: Daily revenue ordered by date ascending.
//	error: Error if retrieval fails.
func (r *RevenueRepository) DailyRevenueSince(ctx context.Context, tenantID string, days int) ([]models.RevenuePoint, error) {
	if days <= 0 {
		return nil, fmt.Errorf("trailing window must be positive, got %d", days)
	}

	now := time.Now().UTC()
	to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	from := to.AddDate(0, 0, -days)

	return r.DailyRevenue(ctx, tenantID, from, to)
}

// TotalRevenue sums recognized revenue for the tenant within [from, to).
//
// Parameters:
//
//	ctx: Context.
//	tenantID: Tenant scope.
//	from: Inclusive range start.
//	to: Exclusive range end.
//
// Returns:
//
//	decimal.Decimal: Revenue total, zero when no rows match.
//	error: Error if retrieval fails.
func (r *RevenueRepository) TotalRevenue(ctx context.Context, tenantID string, from, to time.Time) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM revenue_daily
		WHERE tenant_id = $1 AND day >= $2 AND day < $3
	`

	var total decimal.Decimal
	err := r.pool.QueryRow(ctx, query, tenantID, from, to).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum revenue: %w", err)
	}

	return total, nil
}

// RefreshDailyRevenue rebuilds the tenant's rollup rows within [from, to)
// from confirmed bookings. Existing rows for recomputed days are replaced
// so late status changes correct the series.
//
// Parameters:
//
//	ctx: Context.
//	tenantID: Tenant scope.
//	from: Inclusive range start.
//	to: Exclusive range end.
//
// Returns:
//
//	int64: Number of rollup rows written.
//	error: Error if the refresh fails.
func (r *RevenueRepository) RefreshDailyRevenue(ctx context.Context, tenantID string, from, to time.Time) (int64, error) {
	query := `
		INSERT INTO revenue_daily (tenant_id, day, amount)
		SELECT tenant_id, DATE(created_at) AS day, SUM(total_amount)
		FROM bookings
		WHERE tenant_id = $1 AND status = 'confirmed'
			AND created_at >= $2 AND created_at < $3
		GROUP BY tenant_id, DATE(created_at)
		ON CONFLICT (tenant_id, day)
		DO UPDATE SET amount = EXCLUDED.amount, updated_at = CURRENT_TIMESTAMP
	`

	result, err := r.pool.Exec(ctx, query, tenantID, from, to)
	if err != nil {
		return 0, fmt.Errorf("failed to refresh daily revenue: %w", err)
	}

	return result.RowsAffected(), nil
}
