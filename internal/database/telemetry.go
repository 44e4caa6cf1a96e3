package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/voyagehq/crm-ai-go/internal/telemetry"
)

const maxTracedStatementLen = 200

// TracedDB wraps a connection pool so every call shows up as a client span.
type TracedDB struct {
	Pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewTracedDB creates a new traced database connection
func NewTracedDB(pool *pgxpool.Pool) *TracedDB {
	return &TracedDB{
		Pool:   pool,
		tracer: telemetry.GetDatabaseTracer(),
	}
}

func truncateStatement(sql string) string {
	if len(sql) > maxTracedStatementLen {
		return sql[:maxTracedStatementLen]
	}
	return sql
}

func (db *TracedDB) startSpan(ctx context.Context, operation, sql string) (context.Context, trace.Span) {
	if db.tracer == nil {
		db.tracer = telemetry.GetDatabaseTracer()
	}
	attrs := []attribute.KeyValue{
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", operation),
	}
	if sql != "" {
		attrs = append(attrs, attribute.String("db.statement", truncateStatement(sql)))
	}
	return db.tracer.Start(ctx, "db."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

func finishSpan(span trace.Span, start time.Time, err error) {
	span.SetAttributes(attribute.Int64("db.duration_ms", time.Since(start).Milliseconds()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Query executes a query and records it as a span
func (db *TracedDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	ctx, span := db.startSpan(ctx, "query", sql)
	start := time.Now()
	rows, err := db.Pool.Query(ctx, sql, args...)
	finishSpan(span, start, err)
	return rows, err
}

// QueryRow executes a query that returns a single row
func (db *TracedDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	ctx, span := db.startSpan(ctx, "query_row", sql)
	start := time.Now()
	row := db.Pool.QueryRow(ctx, sql, args...)
	finishSpan(span, start, nil)
	return row
}

// Exec executes a query without returning rows
func (db *TracedDB) Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error) {
	ctx, span := db.startSpan(ctx, "exec", sql)
	start := time.Now()
	tag, err := db.Pool.Exec(ctx, sql, arguments...)
	span.SetAttributes(attribute.Int64("db.rows_affected", tag.RowsAffected()))
	finishSpan(span, start, err)
	return tag, err
}

// Begin starts a transaction
func (db *TracedDB) Begin(ctx context.Context) (pgx.Tx, error) {
	ctx, span := db.startSpan(ctx, "begin", "")
	start := time.Now()
	tx, err := db.Pool.Begin(ctx)
	finishSpan(span, start, err)
	if err != nil {
		return nil, err
	}
	return &TracedTx{Tx: tx, tracer: db.tracer}, nil
}

// BeginTx starts a transaction with options
func (db *TracedDB) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	ctx, span := db.startSpan(ctx, "begin_tx", "")
	start := time.Now()
	tx, err := db.Pool.BeginTx(ctx, txOptions)
	finishSpan(span, start, err)
	if err != nil {
		return nil, err
	}
	return &TracedTx{Tx: tx, tracer: db.tracer}, nil
}

// Ping verifies the connection to the database
func (db *TracedDB) Ping(ctx context.Context) error {
	ctx, span := db.startSpan(ctx, "ping", "")
	start := time.Now()
	err := db.Pool.Ping(ctx)
	finishSpan(span, start, err)
	return err
}

// Close closes the database connection pool
func (db *TracedDB) Close() {
	db.Pool.Close()
}

// TracedTx wraps a transaction with the same span treatment.
type TracedTx struct {
	Tx     pgx.Tx
	tracer trace.Tracer
}

func (tx *TracedTx) startSpan(ctx context.Context, operation, sql string) (context.Context, trace.Span) {
	if tx.tracer == nil {
		tx.tracer = telemetry.GetDatabaseTracer()
	}
	attrs := []attribute.KeyValue{
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", operation),
	}
	if sql != "" {
		attrs = append(attrs, attribute.String("db.statement", truncateStatement(sql)))
	}
	return tx.tracer.Start(ctx, "db.tx."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// Query executes a query within the transaction
func (tx *TracedTx) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	ctx, span := tx.startSpan(ctx, "query", sql)
	start := time.Now()
	rows, err := tx.Tx.Query(ctx, sql, args...)
	finishSpan(span, start, err)
	return rows, err
}

// QueryRow executes a query that returns a single row within the transaction
func (tx *TracedTx) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	ctx, span := tx.startSpan(ctx, "query_row", sql)
	start := time.Now()
	row := tx.Tx.QueryRow(ctx, sql, args...)
	finishSpan(span, start, nil)
	return row
}

// Exec executes a query without returning rows within the transaction
func (tx *TracedTx) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	ctx, span := tx.startSpan(ctx, "exec", sql)
	start := time.Now()
	tag, err := tx.Tx.Exec(ctx, sql, args...)
	span.SetAttributes(attribute.Int64("db.rows_affected", tag.RowsAffected()))
	finishSpan(span, start, err)
	return tag, err
}

// Commit commits the transaction
func (tx *TracedTx) Commit(ctx context.Context) error {
	ctx, span := tx.startSpan(ctx, "commit", "")
	start := time.Now()
	err := tx.Tx.Commit(ctx)
	finishSpan(span, start, err)
	return err
}

// Rollback rolls back the transaction
func (tx *TracedTx) Rollback(ctx context.Context) error {
	ctx, span := tx.startSpan(ctx, "rollback", "")
	start := time.Now()
	err := tx.Tx.Rollback(ctx)
	finishSpan(span, start, err)
	return err
}

// Begin starts a nested transaction
func (tx *TracedTx) Begin(ctx context.Context) (pgx.Tx, error) {
	ctx, span := tx.startSpan(ctx, "begin", "")
	start := time.Now()
	nestedTx, err := tx.Tx.Begin(ctx)
	finishSpan(span, start, err)
	if err != nil {
		return nil, err
	}
	return &TracedTx{Tx: nestedTx, tracer: tx.tracer}, nil
}

// Conn returns the underlying connection
func (tx *TracedTx) Conn() *pgx.Conn {
	return tx.Tx.Conn()
}

// CopyFrom copies data from a source to a destination table
func (tx *TracedTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	ctx, span := tx.startSpan(ctx, "copy_from", "")
	span.SetAttributes(attribute.String("db.table", tableName.Sanitize()))
	start := time.Now()
	rowsAffected, err := tx.Tx.CopyFrom(ctx, tableName, columnNames, rowSrc)
	span.SetAttributes(attribute.Int64("db.rows_affected", rowsAffected))
	finishSpan(span, start, err)
	return rowsAffected, err
}

// LargeObjects returns the large object manager
func (tx *TracedTx) LargeObjects() pgx.LargeObjects {
	return tx.Tx.LargeObjects()
}

// Prepare prepares a statement
func (tx *TracedTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	ctx, span := tx.startSpan(ctx, "prepare", sql)
	start := time.Now()
	stmt, err := tx.Tx.Prepare(ctx, name, sql)
	finishSpan(span, start, err)
	return stmt, err
}

// SendBatch sends a batch of queries
func (tx *TracedTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	ctx, span := tx.startSpan(ctx, "send_batch", "")
	span.SetAttributes(attribute.Int("db.batch_size", b.Len()))
	start := time.Now()
	results := tx.Tx.SendBatch(ctx, b)
	finishSpan(span, start, nil)
	return results
}

// RecordDatabaseError records a database error on the span in ctx, if any
func RecordDatabaseError(ctx context.Context, err error, operation string) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, operation)
	}
}

// AddDatabaseSpanAttributes adds table context to the span in ctx, if any
func AddDatabaseSpanAttributes(ctx context.Context, table string, rowsAffected int64) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.SetAttributes(
			attribute.String("db.table", table),
			attribute.Int64("db.rows_affected", rowsAffected),
		)
	}
}
