package datasource

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubConnector struct {
	kind    string
	pingErr atomic.Value // error
	closed  atomic.Bool
}

func (c *stubConnector) Ping(context.Context) error {
	if err, ok := c.pingErr.Load().(error); ok && err != nil {
		return err
	}
	return nil
}

func (c *stubConnector) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *stubConnector) Kind() string { return c.kind }

func newStubDial(kind string) (func(context.Context) (PoolConnector, error), *[]*stubConnector) {
	dialed := &[]*stubConnector{}
	dial := func(context.Context) (PoolConnector, error) {
		c := &stubConnector{kind: kind}
		*dialed = append(*dialed, c)
		return c, nil
	}
	return dial, dialed
}

func newTestManager(cfg ConnectionManagerConfig) *ConnectionManager {
	return NewConnectionManager(cfg, zap.NewNop())
}

func TestGetOrCreateReusesHealthyConnector(t *testing.T) {
	m := newTestManager(ConnectionManagerConfig{})
	defer m.Close()

	dial, dialed := newStubDial("stub")

	first, err := m.GetOrCreate(context.Background(), "conn-1", dial)
	require.NoError(t, err)
	second, err := m.GetOrCreate(context.Background(), "conn-1", dial)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Len(t, *dialed, 1)
}

func TestGetOrCreateRecreatesUnhealthyConnector(t *testing.T) {
	m := newTestManager(ConnectionManagerConfig{})
	defer m.Close()

	dial, dialed := newStubDial("stub")

	first, err := m.GetOrCreate(context.Background(), "conn-1", dial)
	require.NoError(t, err)

	// Poison the first connector; health-check on draw must replace it
	(*dialed)[0].pingErr.Store(errors.New("server closed the connection unexpectedly"))

	second, err := m.GetOrCreate(context.Background(), "conn-1", dial)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.True(t, (*dialed)[0].closed.Load())
	assert.Len(t, *dialed, 2)
}

func TestGetOrCreateSeparateIDsGetSeparatePools(t *testing.T) {
	m := newTestManager(ConnectionManagerConfig{})
	defer m.Close()

	dial, dialed := newStubDial("stub")

	_, err := m.GetOrCreate(context.Background(), "conn-a", dial)
	require.NoError(t, err)
	_, err = m.GetOrCreate(context.Background(), "conn-b", dial)
	require.NoError(t, err)

	assert.Len(t, *dialed, 2)
	assert.Equal(t, 2, m.Stats().TotalPools)
}

func TestMaxPoolsLimit(t *testing.T) {
	m := newTestManager(ConnectionManagerConfig{MaxPools: 2})
	defer m.Close()

	dial, _ := newStubDial("stub")

	for i := 0; i < 2; i++ {
		_, err := m.GetOrCreate(context.Background(), fmt.Sprintf("conn-%d", i), dial)
		require.NoError(t, err)
	}

	_, err := m.GetOrCreate(context.Background(), "conn-overflow", dial)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pool limit")
}

func TestRemoveClosesConnector(t *testing.T) {
	m := newTestManager(ConnectionManagerConfig{})
	defer m.Close()

	dial, dialed := newStubDial("stub")
	_, err := m.GetOrCreate(context.Background(), "conn-1", dial)
	require.NoError(t, err)

	m.Remove("conn-1")

	assert.True(t, (*dialed)[0].closed.Load())
	assert.Equal(t, 0, m.Stats().TotalPools)

	// Removing an unknown ID is a no-op
	m.Remove("conn-1")
}

func TestCloseIsIdempotentAndDrainsAll(t *testing.T) {
	m := newTestManager(ConnectionManagerConfig{})

	dial, dialed := newStubDial("stub")
	_, err := m.GetOrCreate(context.Background(), "conn-1", dial)
	require.NoError(t, err)
	_, err = m.GetOrCreate(context.Background(), "conn-2", dial)
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	for _, c := range *dialed {
		assert.True(t, c.closed.Load())
	}
	assert.Equal(t, 0, m.Stats().TotalPools)
}

func TestStatsReportsKinds(t *testing.T) {
	m := newTestManager(ConnectionManagerConfig{TTLMinutes: 7})
	defer m.Close()

	dialPg, _ := newStubDial("postgres")
	dialLite, _ := newStubDial("sqlite")

	_, err := m.GetOrCreate(context.Background(), "pg-1", dialPg)
	require.NoError(t, err)
	_, err = m.GetOrCreate(context.Background(), "pg-2", dialPg)
	require.NoError(t, err)
	_, err = m.GetOrCreate(context.Background(), "lite-1", dialLite)
	require.NoError(t, err)

	stats := m.Stats()
	assert.Equal(t, 3, stats.TotalPools)
	assert.Equal(t, 7, stats.TTLMinutes)
	assert.Equal(t, 2, stats.PoolsByKind["postgres"])
	assert.Equal(t, 1, stats.PoolsByKind["sqlite"])
}

func TestConfigDefaults(t *testing.T) {
	m := newTestManager(ConnectionManagerConfig{})
	defer m.Close()

	assert.Equal(t, int32(DefaultPoolMaxConns), m.PoolMaxConns())
	assert.Equal(t, int32(DefaultPoolMinConns), m.PoolMinConns())
	assert.Equal(t, DefaultMaxPools, m.Stats().MaxPools)
}
