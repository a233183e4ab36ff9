package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomdata/fathom-engine/pkg/apperrors"
	"github.com/fathomdata/fathom-engine/pkg/models"
)

func registerFake(t *testing.T, engine *testEngine, id string, backend *fakeBackend) {
	t.Helper()
	_, err := engine.registry.Register(context.Background(), id, fakeKind, backend.register())
	require.NoError(t, err)
}

func registerPooledFake(t *testing.T, engine *testEngine, id string, backend *fakeBackend) {
	t.Helper()
	_, err := engine.registry.Register(context.Background(), id, pooledFakeKind, backend.register())
	require.NoError(t, err)
}

func waitForTerminal(t *testing.T, scanner *MetadataScanner, jobID uuid.UUID) *models.ScanJob {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := scanner.GetScanStatus(jobID)
		require.NoError(t, err)
		if job.Status.Terminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("scan job %s never reached a terminal state", jobID)
	return nil
}

func TestListObjects(t *testing.T) {
	engine := newTestEngine()
	defer engine.close()

	backend := newFakeBackend()
	backend.addTable("orders", ordersSample())
	backend.addTable("users", ordersSample())
	registerFake(t, engine, "list-conn", backend)

	tables, err := engine.scanner.ListObjects(context.Background(), "list-conn")
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "orders", tables[0].TableName)
	assert.Equal(t, int64(3), tables[0].RowCount)
}

func TestShallowScanCompleted(t *testing.T) {
	engine := newTestEngine()
	defer engine.close()

	backend := newFakeBackend()
	backend.addTable("orders", ordersSample())
	backend.addTable("users", ordersSample())
	registerFake(t, engine, "shallow-conn", backend)

	job, err := engine.scanner.Scan(context.Background(), "shallow-conn", models.ScanShallow, time.Time{}, 0)
	require.NoError(t, err)

	final := waitForTerminal(t, engine.scanner, job.ID)
	assert.Equal(t, models.JobCompleted, final.Status)
	require.Len(t, final.Results, 2)
	for _, outcome := range final.Results {
		assert.Equal(t, models.TableScanOK, outcome.Status)
		require.NotNil(t, outcome.RowCountEstimate)
		assert.Equal(t, int64(3), *outcome.RowCountEstimate)
		// Shallow scans carry no statistics
		assert.Empty(t, outcome.Columns)
	}
	// No sampling in shallow mode
	assert.Equal(t, int32(0), backend.sampleCalls.Load())
}

func TestDeepScanCompletedWithProfiles(t *testing.T) {
	engine := newTestEngine()
	defer engine.close()

	backend := newFakeBackend()
	backend.addTable("orders", ordersSample())
	registerFake(t, engine, "deep-conn", backend)

	job, err := engine.scanner.Scan(context.Background(), "deep-conn", models.ScanDeep, time.Time{}, 0)
	require.NoError(t, err)

	final := waitForTerminal(t, engine.scanner, job.ID)
	assert.Equal(t, models.JobCompleted, final.Status)
	require.Len(t, final.Results, 1)

	outcome := final.Results[0]
	assert.Equal(t, "orders", outcome.TableName)
	assert.Equal(t, models.TableScanOK, outcome.Status)
	assert.False(t, outcome.FromCache)
	require.Len(t, outcome.Columns, 3)
	assert.Equal(t, models.ColumnNumerical, outcome.Columns[1].InferredType)
	assert.InDelta(t, 33.33, outcome.Columns[1].MissingPct, 0.01)
	assert.NotEmpty(t, outcome.SampleRows)
}

func TestDeepScanSecondRunServedFromCache(t *testing.T) {
	engine := newTestEngine()
	defer engine.close()

	backend := newFakeBackend()
	backend.addTable("orders", ordersSample())
	registerFake(t, engine, "cache-conn", backend)

	job1, err := engine.scanner.Scan(context.Background(), "cache-conn", models.ScanDeep, time.Time{}, 0)
	require.NoError(t, err)
	waitForTerminal(t, engine.scanner, job1.ID)
	require.Equal(t, int32(1), backend.sampleCalls.Load())

	job2, err := engine.scanner.Scan(context.Background(), "cache-conn", models.ScanDeep, time.Time{}, 0)
	require.NoError(t, err)
	final := waitForTerminal(t, engine.scanner, job2.ID)

	assert.Equal(t, models.JobCompleted, final.Status)
	require.Len(t, final.Results, 1)
	assert.True(t, final.Results[0].FromCache)
	// The source was not touched again
	assert.Equal(t, int32(1), backend.sampleCalls.Load())
}

func TestDeepScanPartialFailure(t *testing.T) {
	engine := newTestEngine()
	defer engine.close()

	backend := newFakeBackend()
	backend.addTable("orders", ordersSample())
	backend.addTable("broken", ordersSample())
	backend.addTable("users", ordersSample())
	backend.failTables["broken"] = errors.New("relation vanished mid-scan")
	registerFake(t, engine, "partial-conn", backend)

	job, err := engine.scanner.Scan(context.Background(), "partial-conn", models.ScanDeep, time.Time{}, 0)
	require.NoError(t, err)

	final := waitForTerminal(t, engine.scanner, job.ID)
	assert.Equal(t, models.JobPartialFailure, final.Status)
	require.Len(t, final.Results, 3)

	byName := make(map[string]models.TableScanOutcome)
	for _, outcome := range final.Results {
		byName[outcome.TableName] = outcome
	}
	assert.Equal(t, models.TableScanFailed, byName["broken"].Status)
	assert.NotEmpty(t, byName["broken"].Error)
	assert.Equal(t, models.TableScanOK, byName["orders"].Status)
	assert.Equal(t, models.TableScanOK, byName["users"].Status)
}

func TestDeepScanAllTablesFailed(t *testing.T) {
	engine := newTestEngine()
	defer engine.close()

	backend := newFakeBackend()
	backend.addTable("orders", ordersSample())
	backend.addTable("users", ordersSample())
	backend.failTables["orders"] = errors.New("relation vanished mid-scan")
	backend.failTables["users"] = errors.New("relation vanished mid-scan")
	registerFake(t, engine, "all-failed-conn", backend)

	job, err := engine.scanner.Scan(context.Background(), "all-failed-conn", models.ScanDeep, time.Time{}, 0)
	require.NoError(t, err)

	// Table work started, so even a clean sweep of failures stays
	// partial_failure with one recorded outcome per table
	final := waitForTerminal(t, engine.scanner, job.ID)
	assert.Equal(t, models.JobPartialFailure, final.Status)
	require.Len(t, final.Results, 2)
	for _, outcome := range final.Results {
		assert.Equal(t, models.TableScanFailed, outcome.Status)
		assert.NotEmpty(t, outcome.Error)
	}
}

func TestDeepScanDeadlineExpiry(t *testing.T) {
	engine := newTestEngine()
	defer engine.close()

	backend := newFakeBackend()
	for i := 0; i < 4; i++ {
		backend.addTable(fmt.Sprintf("table_%d", i), ordersSample())
	}
	backend.sampleDelay = 400 * time.Millisecond
	registerFake(t, engine, "deadline-conn", backend)

	deadline := time.Now().Add(100 * time.Millisecond)
	job, err := engine.scanner.Scan(context.Background(), "deadline-conn", models.ScanDeep, deadline, 1)
	require.NoError(t, err)

	final := waitForTerminal(t, engine.scanner, job.ID)
	assert.Equal(t, models.JobTimedOut, final.Status)

	// Every discovered table is accounted for; unattempted ones are skipped
	require.Len(t, final.Results, 4)
	skipped := 0
	for _, outcome := range final.Results {
		if outcome.Status == models.TableScanSkipped {
			skipped++
		}
	}
	assert.Greater(t, skipped, 0)
}

func TestTimedOutScanLeavesPoolCountAtBaseline(t *testing.T) {
	engine := newTestEngine()
	defer engine.close()

	backend := newFakeBackend()
	for i := 0; i < 4; i++ {
		backend.addTable(fmt.Sprintf("table_%d", i), ordersSample())
	}
	backend.sampleDelay = 400 * time.Millisecond
	registerPooledFake(t, engine, "pool-deadline-conn", backend)

	// Registration validates over a throwaway handle, so no pool exists yet
	require.Equal(t, 0, engine.connMgr.Stats().TotalPools)

	deadline := time.Now().Add(100 * time.Millisecond)
	job, err := engine.scanner.Scan(context.Background(), "pool-deadline-conn", models.ScanDeep, deadline, 1)
	require.NoError(t, err)

	final := waitForTerminal(t, engine.scanner, job.ID)
	assert.Equal(t, models.JobTimedOut, final.Status)
	require.Len(t, final.Results, 4)

	// One pool per connection, regardless of how many tasks drew it and how
	// the job ended
	stats := engine.connMgr.Stats()
	assert.Equal(t, 1, stats.TotalPools)
	assert.Equal(t, 1, stats.PoolsByKind[pooledFakeKind])
	assert.Equal(t, int32(1), backend.poolDials.Load())
	assert.False(t, backend.poolClosed.Load())

	require.NoError(t, engine.registry.Deregister("pool-deadline-conn"))
	assert.Equal(t, 0, engine.connMgr.Stats().TotalPools)
	assert.True(t, backend.poolClosed.Load())
}

func TestCancelScan(t *testing.T) {
	engine := newTestEngine()
	defer engine.close()

	backend := newFakeBackend()
	for i := 0; i < 4; i++ {
		backend.addTable(fmt.Sprintf("table_%d", i), ordersSample())
	}
	backend.sampleDelay = 500 * time.Millisecond
	registerFake(t, engine, "cancel-conn", backend)

	job, err := engine.scanner.Scan(context.Background(), "cancel-conn", models.ScanDeep, time.Time{}, 1)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, engine.scanner.CancelScan(job.ID))

	final := waitForTerminal(t, engine.scanner, job.ID)
	assert.Equal(t, models.JobCancelled, final.Status)

	// Cancelling a terminal job is a no-op
	assert.NoError(t, engine.scanner.CancelScan(job.ID))
}

func TestConcurrentScansRespectLimits(t *testing.T) {
	engine := newTestEngine()
	defer engine.close()

	backendA := newFakeBackend()
	backendB := newFakeBackend()
	for i := 0; i < 6; i++ {
		backendA.addTable(fmt.Sprintf("a_%d", i), ordersSample())
		backendB.addTable(fmt.Sprintf("b_%d", i), ordersSample())
	}
	backendA.sampleDelay = 30 * time.Millisecond
	backendB.sampleDelay = 30 * time.Millisecond
	registerFake(t, engine, "conc-a", backendA)
	registerFake(t, engine, "conc-b", backendB)

	jobA, err := engine.scanner.Scan(context.Background(), "conc-a", models.ScanDeep, time.Time{}, 2)
	require.NoError(t, err)
	jobB, err := engine.scanner.Scan(context.Background(), "conc-b", models.ScanDeep, time.Time{}, 2)
	require.NoError(t, err)

	finalA := waitForTerminal(t, engine.scanner, jobA.ID)
	finalB := waitForTerminal(t, engine.scanner, jobB.ID)

	assert.Equal(t, models.JobCompleted, finalA.Status)
	assert.Equal(t, models.JobCompleted, finalB.Status)
	assert.Len(t, finalA.Results, 6)
	assert.Len(t, finalB.Results, 6)

	assert.LessOrEqual(t, backendA.peakInFlight.Load(), int32(2))
	assert.LessOrEqual(t, backendB.peakInFlight.Load(), int32(2))
}

func TestConcurrentScansShareOneConnection(t *testing.T) {
	engine := newTestEngine()
	defer engine.close()

	backend := newFakeBackend()
	for i := 0; i < 6; i++ {
		backend.addTable(fmt.Sprintf("table_%d", i), ordersSample())
	}
	backend.sampleDelay = 30 * time.Millisecond
	registerPooledFake(t, engine, "shared-conn", backend)

	jobA, err := engine.scanner.Scan(context.Background(), "shared-conn", models.ScanDeep, time.Time{}, 2)
	require.NoError(t, err)
	jobB, err := engine.scanner.Scan(context.Background(), "shared-conn", models.ScanDeep, time.Time{}, 2)
	require.NoError(t, err)

	finalA := waitForTerminal(t, engine.scanner, jobA.ID)
	finalB := waitForTerminal(t, engine.scanner, jobB.ID)

	assert.Equal(t, models.JobCompleted, finalA.Status)
	assert.Equal(t, models.JobCompleted, finalB.Status)
	assert.Len(t, finalA.Results, 6)
	assert.Len(t, finalB.Results, 6)

	// Each job throttles independently, so the source sees at most the sum
	// of the two limits in flight
	assert.LessOrEqual(t, backend.peakInFlight.Load(), int32(4))
	// Every table was sampled by at least one of the jobs
	assert.GreaterOrEqual(t, backend.sampleCalls.Load(), int32(6))

	// Both jobs drew the same managed pool
	stats := engine.connMgr.Stats()
	assert.Equal(t, 1, stats.TotalPools)
	assert.Equal(t, 1, stats.PoolsByKind[pooledFakeKind])
}

func TestDeepScanDiscoveryFailure(t *testing.T) {
	engine := newTestEngine()
	defer engine.close()

	backend := newFakeBackend()
	backend.listErr = errors.New("catalog unavailable")
	registerFake(t, engine, "discovery-fail-conn", backend)

	job, err := engine.scanner.Scan(context.Background(), "discovery-fail-conn", models.ScanDeep, time.Time{}, 0)
	require.NoError(t, err)

	final := waitForTerminal(t, engine.scanner, job.ID)
	assert.Equal(t, models.JobFailed, final.Status)
	assert.NotEmpty(t, final.Error)
	assert.Empty(t, final.Results)
}

func TestScanRequiresActiveConnection(t *testing.T) {
	engine := newTestEngine()
	defer engine.close()

	_, err := engine.scanner.Scan(context.Background(), "nope", models.ScanDeep, time.Time{}, 0)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = engine.scanner.GetScanStatus(uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestScanRejectsUnknownMode(t *testing.T) {
	engine := newTestEngine()
	defer engine.close()

	backend := newFakeBackend()
	backend.addTable("orders", ordersSample())
	registerFake(t, engine, "mode-conn", backend)

	_, err := engine.scanner.Scan(context.Background(), "mode-conn", models.ScanMode("turbo"), time.Time{}, 0)
	assert.ErrorIs(t, err, apperrors.ErrConfig)
}
