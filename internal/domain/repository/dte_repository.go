package repository

import (
	"context"
	"time"

	"github.com/jhoicas/dte-api/internal/domain/entity"
)

// DTERepository define el puerto de persistencia para documentos emitidos.
type DTERepository interface {
	// Create inserta el documento con sus detalles y referencia en una sola
	// operación. La unicidad (empresa, tipo, folio) la garantiza la base.
	Create(ctx context.Context, dte *entity.DTE) error

	GetByID(ctx context.Context, id string) (*entity.DTE, error)
	GetByFolio(ctx context.Context, rutEmpresa, tipoDTE string, folio int64) (*entity.DTE, error)

	// Update actualiza los campos del pipeline: xml_dte, xml_firmado, ted_xml,
	// datos_pdf417, estado, track_id, glosa_sii, error_envio.
	Update(ctx context.Context, dte *entity.DTE) error

	// GetEstado devuelve solo los campos de estado (ligero, para polling).
	GetEstado(ctx context.Context, id string) (*entity.DTE, error)

	// ListByEstado lista documentos de una empresa en un estado dado.
	ListByEstado(ctx context.Context, rutEmpresa, estado string, limit int) ([]*entity.DTE, error)

	// CountByRangoFolio cuenta documentos emitidos dentro de un rango de folios.
	// Lo usa el reset de CAF: un rango con documentos ya emitidos no se resetea.
	CountByRangoFolio(ctx context.Context, rutEmpresa, tipoDTE string, desde, hasta int64) (int64, error)

	// ClaimEnviando intenta la transición en_cola -> enviando de forma atómica.
	// Devuelve el documento reclamado, o ErrDTEEnVuelo si otro worker ya lo
	// tomó o el documento dejó de estar en cola.
	ClaimEnviando(ctx context.Context, id string) (*entity.DTE, error)

	// UpdateDespacho persiste el resultado de un intento de envío: estado,
	// intentos, proximo_intento, track_id, glosa_sii y error_envio.
	UpdateDespacho(ctx context.Context, dte *entity.DTE) error

	// MarcarEnCola reinicia el ciclo de despacho en un solo UPDATE condicionado
	// a los estados despachables. Devuelve false si la fila no cambió porque
	// otro actor movió el documento entre la lectura y la escritura.
	MarcarEnCola(ctx context.Context, id string, proximoIntento time.Time) (bool, error)

	// MarcarAnulado anula el documento solo si aún no salió: generado, firmado
	// o en_cola. Devuelve false si la fila no cambió.
	MarcarAnulado(ctx context.Context, id string) (bool, error)

	// ListReintentosPendientes devuelve documentos en_cola cuyo próximo intento
	// ya venció. Es la consulta del re-encolador: los reintentos sobreviven a
	// un reinicio del proceso porque viven en la fila, no en memoria.
	ListReintentosPendientes(ctx context.Context, ahora time.Time, limit int) ([]*entity.DTE, error)
}
