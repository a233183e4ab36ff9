package services

import (
	"context"

	"github.com/fathomdata/fathom-engine/pkg/adapters/datasource"
	"github.com/fathomdata/fathom-engine/pkg/models"
	"github.com/fathomdata/fathom-engine/pkg/services/workqueue"
)

// sampleRowsInOutcome caps how many raw sample rows a scan result carries.
// The full sample is profiled; only a preview is serialized.
const sampleRowsInOutcome = 10

// profileTask computes column profiles from a sample already fetched by a
// tableScanTask. It is a compute task: no datasource handle is held, so
// profiling never counts against the scan's source concurrency limit.
type profileTask struct {
	workqueue.BaseTask

	scanner      *MetadataScanner
	state        *scanJobState
	connectionID string
	table        datasource.TableMetadata
	sample       *datasource.QueryExecutionResult
}

func (t *profileTask) Execute(ctx context.Context, _ workqueue.TaskEnqueuer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	outcome := models.TableScanOutcome{
		TableName: t.table.DisplayName(),
		Status:    models.TableScanOK,
		Columns:   t.scanner.profiler.ProfileColumns(t.sample),
	}

	if t.table.RowCount >= 0 {
		estimate := t.table.RowCount
		outcome.RowCountEstimate = &estimate
	}

	preview := t.sample.Rows
	if len(preview) > sampleRowsInOutcome {
		preview = preview[:sampleRowsInOutcome]
	}
	outcome.SampleRows = preview

	// Cached before FromCache is set; the flag marks reads, not writes
	t.scanner.cache.Put(t.connectionID, outcome.TableName, outcome)
	t.state.record(outcome)
	return nil
}
