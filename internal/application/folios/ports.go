package folios

import (
	"context"

	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/domain/repository"
)

// TxRunner ejecuta una función dentro de una transacción de BD, pasando
// repositorios atados a esa tx. La asignación de folio y la persistencia del
// documento deben compartir transacción: si la emisión falla, el folio no se
// consume.
type TxRunner interface {
	Run(ctx context.Context, fn func(
		cafRepo repository.CAFRepository,
		dteRepo repository.DTERepository,
	) error) error
}

// CAFParser convierte un archivo CAF (XML del SII) en la entidad de dominio.
type CAFParser interface {
	Parse(contenido []byte) (*entity.CAF, error)
}
