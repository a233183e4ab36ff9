package mysql

import (
	"context"

	"github.com/fathomdata/fathom-engine/pkg/adapters/datasource"
	"github.com/fathomdata/fathom-engine/pkg/models"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Kind:        models.KindMySQL,
			DisplayName: "MySQL",
			Description: "Connect to MySQL 8+, MariaDB, Aurora MySQL",
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
		QueryExecutor: func(ctx context.Context, config map[string]any, connMgr *datasource.ConnectionManager, connectionID string) (datasource.QueryExecutor, error) {
			cfg, err := FromMap(config)
			if err != nil {
				return nil, err
			}
			return NewQueryExecutor(ctx, cfg, connMgr, connectionID)
		},
		Sampler: func(ctx context.Context, config map[string]any, connMgr *datasource.ConnectionManager, connectionID string) (datasource.TableSampler, error) {
			cfg, err := FromMap(config)
			if err != nil {
				return nil, err
			}
			return NewQueryExecutor(ctx, cfg, connMgr, connectionID)
		},
	})
}
