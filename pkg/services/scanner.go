package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fathomdata/fathom-engine/pkg/adapters/datasource"
	"github.com/fathomdata/fathom-engine/pkg/apperrors"
	"github.com/fathomdata/fathom-engine/pkg/config"
	"github.com/fathomdata/fathom-engine/pkg/logging"
	"github.com/fathomdata/fathom-engine/pkg/models"
	"github.com/fathomdata/fathom-engine/pkg/services/workqueue"
)

// MetadataScanner runs metadata scans against registered connections.
// A scan is an asynchronous job: Scan returns immediately with a pollable
// job, per-table work fans out over a throttled work queue, and one table's
// failure never aborts the rest.
type MetadataScanner struct {
	registry *ConnectionRegistry
	factory  datasource.AdapterFactory
	cache    *ProfileCache
	profiler *ColumnProfiler
	cfg      config.ScannerConfig
	logger   *zap.Logger

	mu   sync.RWMutex
	jobs map[uuid.UUID]*scanJobState
}

// scanJobState is the mutable record behind one scan job. All access goes
// through its own lock; the scanner map lock is never held while touching it.
type scanJobState struct {
	mu        sync.Mutex
	job       models.ScanJob
	cancel    context.CancelFunc
	cancelled bool
	recorded  map[string]struct{}
}

// NewMetadataScanner creates a scanner.
func NewMetadataScanner(
	registry *ConnectionRegistry,
	factory datasource.AdapterFactory,
	cache *ProfileCache,
	cfg config.ScannerConfig,
	logger *zap.Logger,
) *MetadataScanner {
	return &MetadataScanner{
		registry: registry,
		factory:  factory,
		cache:    cache,
		profiler: NewColumnProfiler(),
		cfg:      cfg,
		logger:   logger.Named("scanner"),
		jobs:     make(map[uuid.UUID]*scanJobState),
	}
}

// ListObjects enumerates the tables of an active connection in discovery
// order, with catalog row estimates where the source provides them.
func (s *MetadataScanner) ListObjects(ctx context.Context, connectionID string) ([]datasource.TableMetadata, error) {
	kind, cfg, err := s.registry.ActiveSource(connectionID)
	if err != nil {
		return nil, err
	}

	lister, err := s.factory.NewSchemaLister(ctx, kind, cfg, connectionID)
	if err != nil {
		return nil, fmt.Errorf("creating schema lister: %w", err)
	}
	defer lister.Close()

	return lister.ListTables(ctx)
}

// Scan starts an asynchronous scan and returns the queued job. A zero
// deadline uses the configured default; concurrencyLimit <= 0 uses the
// configured worker count. The connection must be Active when the scan
// starts; the check happens here so callers fail fast.
func (s *MetadataScanner) Scan(ctx context.Context, connectionID string, mode models.ScanMode, deadline time.Time, concurrencyLimit int) (*models.ScanJob, error) {
	kind, cfg, err := s.registry.ActiveSource(connectionID)
	if err != nil {
		return nil, err
	}

	if mode != models.ScanShallow && mode != models.ScanDeep {
		return nil, fmt.Errorf("%w: unknown scan mode %q", apperrors.ErrConfig, mode)
	}

	now := time.Now()
	if deadline.IsZero() {
		deadline = now.Add(s.cfg.JobTimeout())
	}
	if concurrencyLimit <= 0 {
		concurrencyLimit = s.cfg.Workers
	}

	// The job outlives the caller's request context; only its own deadline
	// and an explicit cancel stop it.
	jobCtx, cancel := context.WithDeadline(context.Background(), deadline)

	state := &scanJobState{
		job: models.ScanJob{
			ID:           uuid.New(),
			ConnectionID: connectionID,
			Mode:         mode,
			Status:       models.JobQueued,
			RequestedAt:  now,
			Deadline:     deadline,
		},
		cancel:   cancel,
		recorded: make(map[string]struct{}),
	}

	s.mu.Lock()
	s.jobs[state.job.ID] = state
	s.mu.Unlock()

	s.logger.Info("scan queued",
		zap.String("job_id", state.job.ID.String()),
		zap.String("connection_id", connectionID),
		zap.String("mode", string(mode)),
		zap.Time("deadline", deadline),
		zap.Int("concurrency_limit", concurrencyLimit),
	)

	go s.run(jobCtx, state, kind, cfg, concurrencyLimit)

	return state.snapshot(), nil
}

// GetScanStatus returns a point-in-time copy of a scan job.
func (s *MetadataScanner) GetScanStatus(jobID uuid.UUID) (*models.ScanJob, error) {
	s.mu.RLock()
	state, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: scan job %s", apperrors.ErrNotFound, jobID)
	}
	return state.snapshot(), nil
}

// CancelScan cancels a running scan. Cancelling a job that already reached a
// terminal state is a no-op.
func (s *MetadataScanner) CancelScan(jobID uuid.UUID) error {
	s.mu.RLock()
	state, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: scan job %s", apperrors.ErrNotFound, jobID)
	}

	state.mu.Lock()
	terminal := state.job.Status.Terminal()
	if !terminal {
		state.cancelled = true
	}
	state.mu.Unlock()

	if terminal {
		return nil
	}

	state.cancel()
	s.logger.Info("scan cancel requested", zap.String("job_id", jobID.String()))
	return nil
}

// CancelAll cancels every non-terminal scan. Called on engine shutdown.
func (s *MetadataScanner) CancelAll() {
	s.mu.RLock()
	ids := make([]uuid.UUID, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		_ = s.CancelScan(id)
	}
}

// run drives one scan job to a terminal state.
func (s *MetadataScanner) run(ctx context.Context, state *scanJobState, kind models.SourceKind, cfg map[string]any, concurrencyLimit int) {
	defer state.cancel()

	connectionID := state.job.ConnectionID
	state.setStatus(models.JobRunning)

	lister, err := s.factory.NewSchemaLister(ctx, kind, cfg, connectionID)
	if err != nil {
		s.failJob(state, fmt.Errorf("creating schema lister: %w", err))
		return
	}
	tables, err := lister.ListTables(ctx)
	lister.Close()
	if err != nil {
		// Discovery failed before any table work; there is nothing partial
		// to report.
		s.failJob(state, fmt.Errorf("listing objects: %w", err))
		return
	}

	if state.job.Mode == models.ScanShallow {
		s.runShallow(state, tables)
		return
	}

	s.runDeep(ctx, state, kind, cfg, tables, concurrencyLimit)
}

// runShallow records one ok outcome per discovered table, names and row
// estimates only.
func (s *MetadataScanner) runShallow(state *scanJobState, tables []datasource.TableMetadata) {
	for _, table := range tables {
		outcome := models.TableScanOutcome{
			TableName: table.DisplayName(),
			Status:    models.TableScanOK,
		}
		if table.RowCount >= 0 {
			estimate := table.RowCount
			outcome.RowCountEstimate = &estimate
		}
		state.record(outcome)
	}
	s.finishJob(state, models.JobCompleted)
}

// runDeep fans one sampling task per table over a throttled queue, with
// profiling as separate compute tasks, then classifies the terminal state.
func (s *MetadataScanner) runDeep(ctx context.Context, state *scanJobState, kind models.SourceKind, cfg map[string]any, tables []datasource.TableMetadata, concurrencyLimit int) {
	queue := workqueue.New(s.logger,
		workqueue.WithStrategy(workqueue.NewThrottledStrategy(concurrencyLimit, concurrencyLimit)),
		workqueue.WithRetryConfig(workqueue.NoRetryConfig()),
	)

	for _, table := range tables {
		queue.Enqueue(&tableScanTask{
			BaseTask:     workqueue.NewBaseTask(fmt.Sprintf("scan table %s", table.DisplayName()), true),
			scanner:      s,
			state:        state,
			connectionID: state.job.ConnectionID,
			kind:         kind,
			config:       cfg,
			table:        table,
		})
	}

	_ = queue.Wait(ctx)

	state.mu.Lock()
	cancelled := state.cancelled
	state.mu.Unlock()

	deadlineHit := errors.Is(ctx.Err(), context.DeadlineExceeded)

	// Tables that never got an outcome are reported as skipped, so the
	// result list always accounts for every discovered table.
	var skipReason string
	switch {
	case cancelled:
		skipReason = "scan cancelled before this table was attempted"
	case deadlineHit:
		skipReason = "scan deadline exceeded before this table was attempted"
	}
	for _, table := range tables {
		name := table.DisplayName()
		if state.has(name) {
			continue
		}
		state.record(models.TableScanOutcome{
			TableName: name,
			Status:    models.TableScanSkipped,
			Error:     skipReason,
		})
	}

	switch {
	case cancelled:
		s.finishJob(state, models.JobCancelled)
	case deadlineHit:
		s.finishJob(state, models.JobTimedOut)
	case state.anyFailed():
		s.finishJob(state, models.JobPartialFailure)
	default:
		s.finishJob(state, models.JobCompleted)
	}
}

func (s *MetadataScanner) failJob(state *scanJobState, err error) {
	sanitized := logging.SanitizeError(err)

	state.mu.Lock()
	// A cancel or deadline racing with discovery still reports as such
	status := models.JobFailed
	if state.cancelled {
		status = models.JobCancelled
	}
	state.job.Status = status
	state.job.Error = sanitized
	now := time.Now()
	state.job.CompletedAt = &now
	state.mu.Unlock()

	s.logger.Warn("scan failed",
		zap.String("job_id", state.job.ID.String()),
		zap.String("connection_id", state.job.ConnectionID),
		zap.String("error", sanitized),
	)
}

func (s *MetadataScanner) finishJob(state *scanJobState, status models.JobStatus) {
	state.mu.Lock()
	state.job.Status = status
	now := time.Now()
	state.job.CompletedAt = &now
	results := len(state.job.Results)
	state.mu.Unlock()

	s.logger.Info("scan finished",
		zap.String("job_id", state.job.ID.String()),
		zap.String("connection_id", state.job.ConnectionID),
		zap.String("status", string(status)),
		zap.Int("tables", results),
	)
}

func (st *scanJobState) setStatus(status models.JobStatus) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.job.Status = status
}

// record appends an outcome in completion order.
func (st *scanJobState) record(outcome models.TableScanOutcome) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, dup := st.recorded[outcome.TableName]; dup {
		return
	}
	st.recorded[outcome.TableName] = struct{}{}
	st.job.Results = append(st.job.Results, outcome)
}

func (st *scanJobState) has(tableName string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	_, ok := st.recorded[tableName]
	return ok
}

func (st *scanJobState) anyFailed() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, outcome := range st.job.Results {
		if outcome.Status == models.TableScanFailed || outcome.Status == models.TableScanTimedOut {
			return true
		}
	}
	return false
}

// snapshot returns a deep copy safe to hand to callers.
func (st *scanJobState) snapshot() *models.ScanJob {
	st.mu.Lock()
	defer st.mu.Unlock()
	cp := st.job
	cp.Results = make([]models.TableScanOutcome, len(st.job.Results))
	copy(cp.Results, st.job.Results)
	return &cp
}
