package repository

import (
	"context"
	"time"

	"github.com/jhoicas/dte-api/internal/domain/entity"
)

// CAFRepository define el puerto de persistencia para rangos de folios CAF.
type CAFRepository interface {
	Create(ctx context.Context, caf *entity.CAF) error
	GetByID(ctx context.Context, id string) (*entity.CAF, error)

	// GetCandidatoAsignacion devuelve el CAF activo más antiguo con folios
	// disponibles para la empresa y tipo dados, bloqueando la fila (FOR UPDATE).
	// Solo tiene sentido dentro de una transacción: la asignación de folio
	// depende de que dos emisiones concurrentes no lean el mismo folio_actual.
	GetCandidatoAsignacion(ctx context.Context, rutEmpresa, tipoDTE string) (*entity.CAF, error)

	// ListByEmpresa lista todos los CAF de una empresa, opcionalmente filtrados por tipo.
	ListByEmpresa(ctx context.Context, rutEmpresa, tipoDTE string) ([]*entity.CAF, error)

	// Update persiste folio_actual, folios_utilizados y estado tras una asignación o reset.
	Update(ctx context.Context, caf *entity.CAF) error

	// MarcarVencidos pasa a "vencido" todos los CAF activos cuya fecha de
	// autorización más la vigencia quedó antes de ahora. Devuelve cuántos cambió.
	MarcarVencidos(ctx context.Context, ahora time.Time) (int64, error)
}
