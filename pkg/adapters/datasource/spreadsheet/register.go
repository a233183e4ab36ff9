package spreadsheet

import (
	"context"

	"github.com/fathomdata/fathom-engine/pkg/adapters/datasource"
	"github.com/fathomdata/fathom-engine/pkg/models"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Kind:        models.KindSpreadsheet,
			DisplayName: "Spreadsheet",
			Description: "Profile local CSV and TSV files",
		},
		Tester: func(ctx context.Context, config map[string]any, connMgr *datasource.ConnectionManager, connectionID string) (datasource.ConnectionTester, error) {
			cfg, err := FromMap(config)
			if err != nil {
				return nil, err
			}
			return NewAdapter(ctx, cfg, connMgr, connectionID)
		},
		SchemaLister: func(ctx context.Context, config map[string]any, connMgr *datasource.ConnectionManager, connectionID string) (datasource.SchemaLister, error) {
			cfg, err := FromMap(config)
			if err != nil {
				return nil, err
			}
			return NewSchemaLister(ctx, cfg, connMgr, connectionID)
		},
		// No QueryExecutor: sheet sources have no SQL surface
		Sampler: func(ctx context.Context, config map[string]any, connMgr *datasource.ConnectionManager, connectionID string) (datasource.TableSampler, error) {
			cfg, err := FromMap(config)
			if err != nil {
				return nil, err
			}
			return NewSampler(ctx, cfg, connMgr, connectionID)
		},
	})
}
