package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/travelhub/reservation-core/internal/repository"
)

type txKey struct{}

type unitTx struct {
	tx     *sqlx.Tx
	unitID string
}

func txFromContext(ctx context.Context) *unitTx {
	tx, _ := ctx.Value(txKey{}).(*unitTx)
	return tx
}

// Transactor serializes work per inventory unit with a transaction-scoped advisory lock.
// The lock is released by COMMIT or ROLLBACK, so a crashed process never leaves a unit blocked.
type Transactor struct {
	db DB
}

func NewTransactor(db DB) *Transactor {
	return &Transactor{db: db}
}

// WithinUnit implements repository.Transactor
func (t *Transactor) WithinUnit(ctx context.Context, unitID string, fn func(ctx context.Context) error) error {
	if existing := txFromContext(ctx); existing != nil {
		if existing.unitID != unitID {
			return fmt.Errorf("%w: %s inside section of %s", repository.ErrCrossUnitSection, unitID, existing.unitID)
		}
		return fn(ctx)
	}

	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, unitID); err != nil {
		return fmt.Errorf("failed to lock unit %s: %w", unitID, err)
	}

	sectionCtx, committed := repository.WithCommitHooks(context.WithValue(ctx, txKey{}, &unitTx{tx: tx, unitID: unitID}))
	if err := fn(sectionCtx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed()
	return nil
}

// ext returns the transaction bound to ctx, else the pool
func ext(ctx context.Context, db DB) sqlx.ExtContext {
	if tx := txFromContext(ctx); tx != nil {
		return tx.tx
	}
	return db
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}
