package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jhoicas/dte-api/internal/application/folios"
	"github.com/jhoicas/dte-api/internal/domain/repository"
)

// Ensure TxRunner implements folios.TxRunner.
var _ folios.TxRunner = (*TxRunner)(nil)

// TxRunner ejecuta callbacks dentro de una transacción PostgreSQL.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner construye el runner con el pool.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// Run inicia una transacción, ejecuta fn con repos atados a la tx y hace Commit o Rollback.
// La asignación de folios depende del FOR UPDATE sobre cafs, que solo tiene
// sentido dentro de la misma transacción que persiste el avance del puntero.
func (r *TxRunner) Run(ctx context.Context, fn func(
	cafRepo repository.CAFRepository,
	dteRepo repository.DTERepository,
) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cafRepo := NewCAFRepository(tx)
	dteRepo := NewDTERepository(tx)

	if err := fn(cafRepo, dteRepo); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
