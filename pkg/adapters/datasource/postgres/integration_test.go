package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomdata/fathom-engine/pkg/testhelpers"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	db := testhelpers.GetTestDB(t)

	cfg, err := FromMap(db.ConnectionConfig())
	require.NoError(t, err)
	return cfg
}

func seedOrders(t *testing.T) {
	t.Helper()
	db := testhelpers.GetTestDB(t)

	_, err := db.Pool.Exec(context.Background(), `
		CREATE TABLE IF NOT EXISTS orders (
			id SERIAL PRIMARY KEY,
			amount NUMERIC,
			status TEXT NOT NULL
		)
	`)
	require.NoError(t, err)

	_, err = db.Pool.Exec(context.Background(), `TRUNCATE orders`)
	require.NoError(t, err)

	_, err = db.Pool.Exec(context.Background(), `
		INSERT INTO orders (amount, status) VALUES
			(12.5, 'paid'), (NULL, 'pending'), (40.0, 'paid')
	`)
	require.NoError(t, err)
}

func TestIntegrationTestConnection(t *testing.T) {
	cfg := testConfig(t)

	adapter, err := NewAdapter(context.Background(), cfg, nil, "it-conn")
	require.NoError(t, err)
	defer adapter.Close()

	assert.NoError(t, adapter.TestConnection(context.Background()))
}

func TestIntegrationTestConnectionBadCredentials(t *testing.T) {
	cfg := testConfig(t)
	bad := *cfg
	bad.Password = "wrong-password"

	adapter, err := NewAdapter(context.Background(), &bad, nil, "it-badauth")
	require.NoError(t, err)
	defer adapter.Close()

	err = adapter.TestConnection(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password authentication failed")
}

func TestIntegrationListTables(t *testing.T) {
	cfg := testConfig(t)
	seedOrders(t)

	lister, err := NewSchemaLister(context.Background(), cfg, nil, "it-list")
	require.NoError(t, err)
	defer lister.Close()

	tables, err := lister.ListTables(context.Background())
	require.NoError(t, err)

	found := false
	for _, table := range tables {
		if table.TableName == "orders" {
			found = true
			assert.Equal(t, "public", table.SchemaName)
		}
	}
	assert.True(t, found, "orders table not discovered")
}

func TestIntegrationQueryIsBounded(t *testing.T) {
	cfg := testConfig(t)
	seedOrders(t)

	executor, err := NewQueryExecutor(context.Background(), cfg, nil, "it-query")
	require.NoError(t, err)
	defer executor.Close()

	result, err := executor.Query(context.Background(), "SELECT * FROM orders ORDER BY id", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, result.RowCount)
	require.Len(t, result.Columns, 3)

	// NULL comes back as nil
	full, err := executor.Query(context.Background(), "SELECT amount FROM orders ORDER BY id", 10)
	require.NoError(t, err)
	require.Equal(t, 3, full.RowCount)
	assert.Nil(t, full.Rows[1]["amount"])
}

func TestIntegrationQueryWithParams(t *testing.T) {
	cfg := testConfig(t)
	seedOrders(t)

	executor, err := NewQueryExecutor(context.Background(), cfg, nil, "it-params")
	require.NoError(t, err)
	defer executor.Close()

	result, err := executor.QueryWithParams(context.Background(),
		"SELECT id FROM orders WHERE status = $1", []any{"paid"}, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, result.RowCount)
}

func TestIntegrationSampleTable(t *testing.T) {
	cfg := testConfig(t)
	seedOrders(t)

	executor, err := NewQueryExecutor(context.Background(), cfg, nil, "it-sample")
	require.NoError(t, err)
	defer executor.Close()

	result, err := executor.SampleTable(context.Background(), "public", "orders", 50)
	require.NoError(t, err)
	assert.Equal(t, 3, result.RowCount)
}
