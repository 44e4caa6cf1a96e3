package database

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voyagehq/crm-ai-go/internal/models"
	"github.com/voyagehq/crm-ai-go/internal/utils"
	"github.com/voyagehq/crm-ai-go/pkg/sqlsafe"
)

// maxResultRows caps how many rows a natural-language query may return
const maxResultRows = 1000

// QueryExecutor runs generated statements against the CRM schema. It is
// the last line of defense: every statement is screened again here even
// though the builder already screened it, because the executor is also
// reachable with statements the builder never saw.
type QueryExecutor struct {
	pool   DatabasePool
	logger *logrus.Logger
}

// NewQueryExecutor creates a new query executor.
//
// Parameters:
//
//	pool: The database connection pool.
//	logger: Logger for audit failures and truncation warnings.
//
// Returns:
//
//	*QueryExecutor: The initialized executor.
func NewQueryExecutor(pool DatabasePool, logger *logrus.Logger) *QueryExecutor {
	return &QueryExecutor{
		pool:   pool,
		logger: logger,
	}
}

// Execute screens and runs one generated statement, returning its rows as
// column-name keyed maps. Results are capped at maxResultRows. Each
// successful execution is appended to the query audit trail.
//
// Parameters:
//
//	ctx: Context.
//	tenantID: Tenant the statement is scoped to, recorded in the audit row.
//	rawQuery: The original natural-language question, recorded in the audit row.
//	generated: The parameterized statement to run.
//
// Returns:
//
//	[]map[string]any: Result rows keyed by column name.
//	error: UnsafeQueryError if screening rejects the statement, or the
//	database error if execution fails.
func (e *QueryExecutor) Execute(ctx context.Context, tenantID, rawQuery string, generated *models.GeneratedSQL) ([]map[string]any, error) {
	if generated == nil || generated.SQL == "" {
		return nil, utils.NewValidationError("generated statement is required")
	}

	if err := sqlsafe.Validate(generated.SQL); err != nil {
		return nil, err
	}
	if err := sqlsafe.ScreenParams(generated.Params); err != nil {
		return nil, err
	}

	rows, err := e.pool.Query(ctx, generated.SQL, generated.Params...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	results := make([]map[string]any, 0)
	truncated := false
	for rows.Next() {
		if len(results) >= maxResultRows {
			truncated = true
			break
		}

		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read result row: %w", err)
		}

		row := make(map[string]any, len(fields))
		for i, field := range fields {
			if i < len(values) {
				row[field.Name] = values[i]
			}
		}
		results = append(results, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating query results: %w", err)
	}

	if truncated {
		e.logger.WithFields(logrus.Fields{
			"tenant_id": tenantID,
			"max_rows":  maxResultRows,
		}).Warn("Query result truncated")
	}

	e.recordExecution(ctx, tenantID, rawQuery, generated.SQL, len(results))

	return results, nil
}

// recordExecution appends one audit row. Auditing must never fail a query
// that already succeeded, so errors are logged and swallowed.
func (e *QueryExecutor) recordExecution(ctx context.Context, tenantID, rawQuery, sql string, rowCount int) {
	query := `
		INSERT INTO query_executions (tenant_id, query_text, generated_sql, row_count, executed_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := e.pool.Exec(ctx, query, tenantID, rawQuery, sql, rowCount, time.Now().UTC())
	if err != nil {
		e.logger.WithError(err).WithField("tenant_id", tenantID).Warn("Failed to record query execution")
	}
}

// PruneAuditBefore deletes audit rows executed before the cutoff.
//
// Parameters:
//
//	ctx: Context.
//	cutoff: Rows executed before this instant are removed.
//
// Returns:
//
//	int64: Number of audit rows deleted.
//	error: Error if the prune fails.
func (e *QueryExecutor) PruneAuditBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM query_executions
		WHERE executed_at < $1
	`

	result, err := e.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune query audit: %w", err)
	}

	return result.RowsAffected(), nil
}
