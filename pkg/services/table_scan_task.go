package services

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/fathomdata/fathom-engine/pkg/adapters/datasource"
	"github.com/fathomdata/fathom-engine/pkg/apperrors"
	"github.com/fathomdata/fathom-engine/pkg/logging"
	"github.com/fathomdata/fathom-engine/pkg/models"
	"github.com/fathomdata/fathom-engine/pkg/services/workqueue"
)

// tableScanTask fetches a bounded sample from one table. It is an IO task:
// it holds a datasource handle while running and is throttled by the scan's
// concurrency limit. Profiling the sample is handed off as a compute task so
// the handle is released before any statistics work starts.
//
// The task never returns a table-level error to the queue: failures become
// recorded outcomes and the scan proceeds.
type tableScanTask struct {
	workqueue.BaseTask

	scanner      *MetadataScanner
	state        *scanJobState
	connectionID string
	kind         models.SourceKind
	config       map[string]any
	table        datasource.TableMetadata
}

func (t *tableScanTask) Execute(ctx context.Context, enqueuer workqueue.TaskEnqueuer) error {
	displayName := t.table.DisplayName()

	if cached, hit := t.scanner.cache.Get(t.connectionID, displayName); hit {
		cached.FromCache = true
		t.state.record(cached)
		t.scanner.logger.Debug("table served from profile cache",
			zap.String("connection_id", t.connectionID),
			zap.String("table", displayName))
		return nil
	}

	sampler, err := t.scanner.factory.NewSampler(ctx, t.kind, t.config, t.connectionID)
	if err != nil {
		t.recordFailure(err)
		return nil
	}
	defer sampler.Close()

	sample, err := sampler.SampleTable(ctx, t.table.SchemaName, t.table.TableName, t.scanner.cfg.SampleRows)
	if err != nil {
		// A cancelled scan stops here; the table is accounted for during
		// finalization, not recorded as failed.
		if errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled {
			return ctx.Err()
		}
		t.recordFailure(err)
		return nil
	}

	enqueuer.Enqueue(&profileTask{
		BaseTask:     workqueue.NewBaseTask("profile "+displayName, false),
		scanner:      t.scanner,
		state:        t.state,
		connectionID: t.connectionID,
		table:        t.table,
		sample:       sample,
	})
	return nil
}

func (t *tableScanTask) recordFailure(err error) {
	status := models.TableScanFailed
	if apperrors.IsTimeout(err) {
		status = models.TableScanTimedOut
	}
	t.state.record(models.TableScanOutcome{
		TableName: t.table.DisplayName(),
		Status:    status,
		Error:     logging.SanitizeError(err),
	})
}
