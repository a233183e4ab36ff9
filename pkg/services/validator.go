package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fathomdata/fathom-engine/pkg/adapters/datasource"
	"github.com/fathomdata/fathom-engine/pkg/apperrors"
	"github.com/fathomdata/fathom-engine/pkg/logging"
	"github.com/fathomdata/fathom-engine/pkg/models"
)

// DefaultValidateTimeout bounds a single connection validation.
const DefaultValidateTimeout = 10 * time.Second

// ConnectionValidator performs bounded-time reachability and auth checks.
// It opens one throwaway physical handle per check, round-trips it, and
// closes it; the handle is never reused for later work.
type ConnectionValidator struct {
	factory datasource.AdapterFactory
	timeout time.Duration
	logger  *zap.Logger
}

// NewConnectionValidator creates a validator. A non-positive timeout falls
// back to the default.
func NewConnectionValidator(factory datasource.AdapterFactory, timeout time.Duration, logger *zap.Logger) *ConnectionValidator {
	if timeout <= 0 {
		timeout = DefaultValidateTimeout
	}
	return &ConnectionValidator{
		factory: factory,
		timeout: timeout,
		logger:  logger,
	}
}

// Validate checks that the source described by (kind, config) is reachable
// with valid credentials. Failures are classified into the taxonomy:
// unreachable host, auth rejected, timeout, unsupported kind, config error.
func (v *ConnectionValidator) Validate(ctx context.Context, kind models.SourceKind, config map[string]any, connectionID string) error {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	start := time.Now()

	tester, err := v.factory.NewConnectionTester(ctx, kind, config, connectionID, true)
	if err != nil {
		return v.classify(connectionID, err)
	}
	defer tester.Close()

	if err := tester.TestConnection(ctx); err != nil {
		return v.classify(connectionID, err)
	}

	v.logger.Info("connection validated",
		zap.String("connection_id", connectionID),
		zap.String("kind", string(kind)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// classify maps a raw validation error to a taxonomy sentinel, keeping a
// sanitized description of the cause.
func (v *ConnectionValidator) classify(connectionID string, err error) error {
	sanitized := logging.SanitizeError(err)

	var classified error
	switch {
	case errors.Is(err, apperrors.ErrUnsupportedKind):
		classified = apperrors.ErrUnsupportedKind
	case strings.Contains(err.Error(), "is required"):
		// Adapter config decoding failed before any I/O
		classified = apperrors.ErrConfig
	default:
		classified = apperrors.ClassifyValidation(err)
	}

	v.logger.Warn("connection validation failed",
		zap.String("connection_id", connectionID),
		zap.String("classified", classified.Error()),
		zap.String("cause", sanitized),
	)

	return fmt.Errorf("%w: %s", classified, sanitized)
}
