package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/domain/repository"
)

var _ repository.CAFRepository = (*CAFRepo)(nil)

const cafColumns = `
	id, rut_empresa, razon_social, tipo_dte,
	folio_desde, folio_hasta, cantidad_folios, folios_utilizados, folio_actual,
	estado, fecha_autorizacion, modulo_rsa, exponente_rsa, idk, firma_caf,
	contenido_xml, huella, fecha_carga, fecha_agotamiento`

// CAFRepo implementa CAFRepository sobre PostgreSQL.
type CAFRepo struct {
	q Querier
}

// NewCAFRepository construye el repositorio sobre un pool o una transacción.
func NewCAFRepository(q Querier) *CAFRepo {
	return &CAFRepo{q: q}
}

func (r *CAFRepo) Create(ctx context.Context, caf *entity.CAF) error {
	const q = `
		INSERT INTO cafs
			(id, rut_empresa, razon_social, tipo_dte,
			 folio_desde, folio_hasta, cantidad_folios, folios_utilizados, folio_actual,
			 estado, fecha_autorizacion, modulo_rsa, exponente_rsa, idk, firma_caf,
			 contenido_xml, huella, fecha_carga)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, now())`
	_, err := r.q.Exec(ctx, q,
		caf.ID, caf.RUTEmpresa, caf.RazonSocial, caf.TipoDTE,
		caf.FolioDesde, caf.FolioHasta, caf.CantidadFolios, caf.FoliosUtilizados, caf.FolioActual,
		caf.Estado, caf.FechaAutorizacion, caf.ModuloRSA, caf.ExponenteRSA, caf.IDK, caf.FirmaCAF,
		caf.ContenidoXML, caf.Huella,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: el CAF ya fue importado", domain.ErrDuplicate)
		}
		return fmt.Errorf("insert caf: %w", err)
	}
	return nil
}

func (r *CAFRepo) GetByID(ctx context.Context, id string) (*entity.CAF, error) {
	const q = `SELECT ` + cafColumns + ` FROM cafs WHERE id = $1`
	caf, err := scanCAF(r.q.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get caf by id: %w", err)
	}
	return caf, nil
}

// GetCandidatoAsignacion es la consulta crítica de la emisión: el CAF activo
// más antiguo (menor folio_desde) con folios aún disponibles, con la fila
// bloqueada para que dos emisiones concurrentes no lean el mismo folio_actual.
// Devuelve nil, nil si no hay candidato.
func (r *CAFRepo) GetCandidatoAsignacion(ctx context.Context, rutEmpresa, tipoDTE string) (*entity.CAF, error) {
	const q = `
		SELECT ` + cafColumns + `
		FROM cafs
		WHERE rut_empresa  = $1
		  AND tipo_dte     = $2
		  AND estado       = 'activo'
		  AND folio_actual < folio_hasta
		ORDER BY folio_desde ASC
		LIMIT 1
		FOR UPDATE`
	caf, err := scanCAF(r.q.QueryRow(ctx, q, rutEmpresa, tipoDTE))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get caf candidato: %w", err)
	}
	return caf, nil
}

func (r *CAFRepo) ListByEmpresa(ctx context.Context, rutEmpresa, tipoDTE string) ([]*entity.CAF, error) {
	q := `SELECT ` + cafColumns + ` FROM cafs WHERE rut_empresa = $1`
	args := []any{rutEmpresa}
	if tipoDTE != "" {
		q += ` AND tipo_dte = $2`
		args = append(args, tipoDTE)
	}
	q += ` ORDER BY tipo_dte, folio_desde`
	rows, err := r.q.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list cafs: %w", err)
	}
	defer rows.Close()
	var list []*entity.CAF
	for rows.Next() {
		caf, err := scanCAF(rows)
		if err != nil {
			return nil, fmt.Errorf("scan caf: %w", err)
		}
		list = append(list, caf)
	}
	return list, rows.Err()
}

func (r *CAFRepo) Update(ctx context.Context, caf *entity.CAF) error {
	const q = `
		UPDATE cafs
		SET folio_actual = $2, folios_utilizados = $3, estado = $4,
		    fecha_agotamiento = $5
		WHERE id = $1`
	_, err := r.q.Exec(ctx, q,
		caf.ID, caf.FolioActual, caf.FoliosUtilizados, caf.Estado, caf.FechaAgotamiento,
	)
	if err != nil {
		return fmt.Errorf("update caf: %w", err)
	}
	return nil
}

func (r *CAFRepo) MarcarVencidos(ctx context.Context, ahora time.Time) (int64, error) {
	// La vigencia (180 días) se evalúa en Go para no duplicar la constante en SQL.
	limite := ahora.Add(-entity.VigenciaCAF)
	const q = `
		UPDATE cafs
		SET estado = 'vencido'
		WHERE estado = 'activo'
		  AND fecha_autorizacion < $1`
	tag, err := r.q.Exec(ctx, q, limite)
	if err != nil {
		return 0, fmt.Errorf("marcar cafs vencidos: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

// pgxScanner abstrae pgx.Row y pgx.Rows para reutilizar los scan.
type pgxScanner interface {
	Scan(dest ...any) error
}

func scanCAF(row pgxScanner) (*entity.CAF, error) {
	var caf entity.CAF
	err := row.Scan(
		&caf.ID, &caf.RUTEmpresa, &caf.RazonSocial, &caf.TipoDTE,
		&caf.FolioDesde, &caf.FolioHasta, &caf.CantidadFolios,
		&caf.FoliosUtilizados, &caf.FolioActual,
		&caf.Estado, &caf.FechaAutorizacion,
		&caf.ModuloRSA, &caf.ExponenteRSA, &caf.IDK, &caf.FirmaCAF,
		&caf.ContenidoXML, &caf.Huella,
		&caf.FechaCarga, &caf.FechaAgotamiento,
	)
	if err != nil {
		return nil, err
	}
	return &caf, nil
}
