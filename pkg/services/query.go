package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fathomdata/fathom-engine/pkg/adapters/datasource"
	"github.com/fathomdata/fathom-engine/pkg/apperrors"
	"github.com/fathomdata/fathom-engine/pkg/logging"
	sqlguard "github.com/fathomdata/fathom-engine/pkg/sql"
)

// DefaultQueryRowLimit applies when a caller passes no explicit row limit.
const DefaultQueryRowLimit = 100

// QueryService executes ad-hoc read-only queries against active connections.
// Statements are screened before any source I/O: non-SELECT statements and
// injection-flagged parameters are rejected without touching the network.
type QueryService struct {
	registry *ConnectionRegistry
	factory  datasource.AdapterFactory
	logger   *zap.Logger
}

// NewQueryService creates a query service.
func NewQueryService(registry *ConnectionRegistry, factory datasource.AdapterFactory, logger *zap.Logger) *QueryService {
	return &QueryService{
		registry: registry,
		factory:  factory,
		logger:   logger.Named("query"),
	}
}

// ExecuteQuery runs a SELECT against the named connection with a bounded row
// limit. rowLimit <= 0 uses the default of 100; the adapter caps it at 1000.
func (s *QueryService) ExecuteQuery(ctx context.Context, connectionID, sqlQuery string, rowLimit int) (*datasource.QueryExecutionResult, error) {
	return s.execute(ctx, connectionID, sqlQuery, nil, rowLimit)
}

// ExecuteQueryWithParams runs a parameterized SELECT. Parameter values are
// screened for injection patterns in addition to the statement itself.
func (s *QueryService) ExecuteQueryWithParams(ctx context.Context, connectionID, sqlQuery string, params []any, rowLimit int) (*datasource.QueryExecutionResult, error) {
	named := make(map[string]any, len(params))
	for i, p := range params {
		named[fmt.Sprintf("param_%d", i+1)] = p
	}
	if flagged := sqlguard.CheckAllParameters(named); len(flagged) > 0 {
		return nil, fmt.Errorf("%w: parameter %s matches an injection pattern (%s)",
			apperrors.ErrQueryRejected, flagged[0].ParamName, flagged[0].Fingerprint)
	}
	return s.execute(ctx, connectionID, sqlQuery, params, rowLimit)
}

func (s *QueryService) execute(ctx context.Context, connectionID, sqlQuery string, params []any, rowLimit int) (*datasource.QueryExecutionResult, error) {
	// Statement screening happens before the connection is even looked at,
	// so a rejected statement can never generate source traffic.
	if _, err := sqlguard.ValidateReadOnly(sqlQuery); err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrQueryRejected, err.Error())
	}

	kind, config, err := s.registry.ActiveSource(connectionID)
	if err != nil {
		return nil, err
	}

	if rowLimit <= 0 {
		rowLimit = DefaultQueryRowLimit
	}

	executor, err := s.factory.NewQueryExecutor(ctx, kind, config, connectionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrQueryFailed, logging.SanitizeError(err))
	}
	defer executor.Close()

	start := time.Now()

	var result *datasource.QueryExecutionResult
	if len(params) > 0 {
		result, err = executor.QueryWithParams(ctx, sqlQuery, params, rowLimit)
	} else {
		result, err = executor.Query(ctx, sqlQuery, rowLimit)
	}
	if err != nil {
		if apperrors.IsTimeout(err) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrTimeout, logging.SanitizeError(err))
		}
		return nil, fmt.Errorf("%w: %s", apperrors.ErrQueryFailed, logging.SanitizeError(err))
	}

	s.logger.Info("query executed",
		zap.String("connection_id", connectionID),
		zap.String("query", logging.SanitizeQuery(sqlQuery)),
		zap.Int("rows", result.RowCount),
		zap.Duration("elapsed", time.Since(start)),
	)

	return result, nil
}
