package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfeidau/churnrunner/internal/apperrors"
	"github.com/wolfeidau/churnrunner/internal/store"
)

// Constraint names referenced by error mapping; they are defined in the migrations.
const (
	constraintOneTrainingRun = "idx_models_one_training"
	constraintOrganizationPK = "organizations_pkey"
	constraintBatchCustomer  = "idx_customer_predictions_batch_customer"
)

// mapPostgresError maps PostgreSQL-specific errors to sentinel errors.
// Returns the original error if it's not a PostgreSQL error or doesn't match known patterns.
func mapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		switch pgErr.ConstraintName {
		case constraintOneTrainingRun:
			return store.ErrTrainingInProgress
		case constraintOrganizationPK:
			return store.ErrOrganizationAlreadyExists
		case constraintBatchCustomer:
			return store.ErrPredictionExists
		}
		return fmt.Errorf("%w: unique constraint violation: %s", apperrors.ErrConflict, pgErr.ConstraintName)

	case pgerrcode.ForeignKeyViolation:
		// a referenced organization, dataset, batch or model is missing
		return fmt.Errorf("%w: %s", apperrors.ErrNotFound, pgErr.Detail)

	case pgerrcode.CheckViolation:
		return fmt.Errorf("%w: check constraint violation: %s", apperrors.ErrValidation, pgErr.ConstraintName)

	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
		return fmt.Errorf("transaction conflict (retryable): %w", err)

	case pgerrcode.ConnectionException,
		pgerrcode.ConnectionDoesNotExist,
		pgerrcode.ConnectionFailure,
		pgerrcode.CannotConnectNow,
		pgerrcode.SQLClientUnableToEstablishSQLConnection:
		return fmt.Errorf("database connection error: %w", err)

	case pgerrcode.AdminShutdown,
		pgerrcode.CrashShutdown:
		return fmt.Errorf("database server unavailable: %w", err)

	case pgerrcode.QueryCanceled:
		return fmt.Errorf("query canceled: %w", err)

	case pgerrcode.InsufficientResources,
		pgerrcode.DiskFull,
		pgerrcode.OutOfMemory,
		pgerrcode.TooManyConnections:
		return fmt.Errorf("database resource limit: %w", err)

	default:
		return fmt.Errorf("postgres error [%s]: %s (detail: %s, hint: %s): %w",
			pgErr.Code, pgErr.Message, pgErr.Detail, pgErr.Hint, err)
	}
}
