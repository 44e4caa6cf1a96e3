package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// MockPool is a mock implementation of DatabasePool for testing
type MockPool struct {
	mock.Mock
}

func (m *MockPool) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	callArgs := m.Called(ctx, sql, args)
	return callArgs.Get(0).(pgx.Rows), callArgs.Error(1)
}

func (m *MockPool) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	callArgs := m.Called(ctx, sql, args)
	return callArgs.Get(0).(pgx.Row)
}

func (m *MockPool) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	callArgs := m.Called(ctx, sql, args)
	return callArgs.Get(0).(pgconn.CommandTag), callArgs.Error(1)
}

func (m *MockPool) Ping(ctx context.Context) error {
	callArgs := m.Called(ctx)
	return callArgs.Error(0)
}

func (m *MockPool) Close() {
	m.Called()
}

// MockRows implements pgx.Rows for testing
type MockRows struct {
	mock.Mock
	values  [][]interface{}
	current int
	closed  bool
}

func NewMockRows(values [][]interface{}) *MockRows {
	return &MockRows{
		values:  values,
		current: -1,
		closed:  false,
	}
}

func (m *MockRows) Close() {
	m.closed = true
}

func (m *MockRows) Err() error {
	callArgs := m.Called()
	return callArgs.Error(0)
}

func (m *MockRows) CommandTag() pgconn.CommandTag {
	callArgs := m.Called()
	return callArgs.Get(0).(pgconn.CommandTag)
}

func (m *MockRows) FieldDescriptions() []pgconn.FieldDescription {
	callArgs := m.Called()
	return callArgs.Get(0).([]pgconn.FieldDescription)
}

func (m *MockRows) Next() bool {
	m.current++
	return m.current < len(m.values)
}

func (m *MockRows) Values() ([]interface{}, error) {
	if m.current < 0 || m.current >= len(m.values) {
		return nil, fmt.Errorf("no current row")
	}
	return m.values[m.current], nil
}

// Scan copies the current row into dest, covering the column types the
// CRM tables use: text, numerics, money as decimal, booleans, timestamps,
// nullable floats and text arrays.
func (m *MockRows) Scan(dest ...interface{}) error {
	if m.current < 0 || m.current >= len(m.values) {
		return fmt.Errorf("no current row")
	}

	values := m.values[m.current]
	if len(values) != len(dest) {
		return fmt.Errorf("column count mismatch: expected %d, got %d", len(dest), len(values))
	}

	for i, value := range values {
		switch d := dest[i].(type) {
		case *string:
			if value != nil {
				*d = value.(string)
			}
		case *int:
			if value != nil {
				*d = value.(int)
			}
		case *int64:
			if value != nil {
				*d = int64(value.(int))
			}
		case *float64:
			if value != nil {
				*d = value.(float64)
			}
		case **float64:
			if value != nil {
				v := value.(float64)
				*d = &v
			} else {
				*d = nil
			}
		case *decimal.Decimal:
			if value != nil {
				*d = value.(decimal.Decimal)
			}
		case *bool:
			if value != nil {
				*d = value.(bool)
			}
		case *time.Time:
			if value != nil {
				*d = value.(time.Time)
			}
		case *[]string:
			if value != nil {
				*d = value.([]string)
			}
		default:
			return fmt.Errorf("unsupported scan type: %T", d)
		}
	}

	return nil
}

func (m *MockRows) RawValues() [][]byte {
	callArgs := m.Called()
	return callArgs.Get(0).([][]byte)
}

func (m *MockRows) Conn() *pgx.Conn {
	return nil
}

func (m *MockRows) ScanRow(dest []interface{}) error {
	callArgs := m.Called(dest)
	return callArgs.Error(0)
}

// MockRow implements pgx.Row for testing
type MockRow struct {
	mock.Mock
	values []interface{}
}

func NewMockRow(values []interface{}) *MockRow {
	return &MockRow{values: values}
}

func (m *MockRow) Scan(dest ...interface{}) error {
	callArgs := m.Called(dest)
	return callArgs.Error(0)
}
