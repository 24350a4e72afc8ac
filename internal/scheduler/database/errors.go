package database

import (
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/pkg/errors"

	"github.com/G-Research/capstan/internal/common/capstanerrors"
)

const (
	clusterType    = "cluster"
	deploymentType = "deployment"
)

func notFound(typ, id string) error {
	return errors.WithStack(&capstanerrors.ErrNotFound{Type: typ, Value: id})
}

func staleVersion(typ, id string) error {
	return errors.WithStack(&capstanerrors.ErrConflict{Type: typ, Value: id, Message: "record was modified concurrently"})
}

func isNotFound(err error) bool {
	return capstanerrors.IsNotFound(err)
}

// mapPostgresError converts driver errors into the typed errors callers act on.
// Serialization failures, deadlocks and lock timeouts are transient and surface as conflicts.
func mapPostgresError(err error, typ, id string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound(typ, id)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return errors.WithStack(&capstanerrors.ErrAlreadyExists{Type: typ, Value: id, Message: pgErr.Detail})
		case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected, pgerrcode.LockNotAvailable:
			return errors.WithStack(&capstanerrors.ErrConflict{Type: typ, Value: id, Message: pgErr.Message})
		case pgerrcode.CheckViolation:
			return errors.Wrapf(err, "%s %s violates a capacity constraint", typ, id)
		}
	}
	return errors.WithStack(err)
}
