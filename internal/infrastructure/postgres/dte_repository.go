package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/domain/repository"
)

var _ repository.DTERepository = (*DTERepo)(nil)

const dteColumns = `
	id, caf_id, tipo_dte, folio, fecha_emision,
	rut_emisor, razon_social_emisor, giro_emisor, direccion_emisor, comuna_emisor,
	rut_receptor, razon_social_receptor, giro_receptor, direccion_receptor,
	comuna_receptor, ciudad_receptor,
	monto_neto, monto_exento, monto_iva, monto_total,
	tipo_traslado,
	xml_dte, xml_firmado, ted_xml, datos_pdf417,
	estado, intentos, proximo_intento, track_id, glosa_sii, error_envio,
	fecha_envio, fecha_respuesta, fecha_creacion`

// DTERepo implementa DTERepository sobre PostgreSQL.
type DTERepo struct {
	q Querier
}

// NewDTERepository construye el repositorio sobre un pool o una transacción.
func NewDTERepository(q Querier) *DTERepo {
	return &DTERepo{q: q}
}

// Create inserta el documento con sus detalles y referencia. La unicidad
// (empresa, tipo, folio) la hace cumplir el constraint dtes_folio_unico.
func (r *DTERepo) Create(ctx context.Context, dte *entity.DTE) error {
	const q = `
		INSERT INTO dtes
			(id, caf_id, tipo_dte, folio, fecha_emision,
			 rut_emisor, razon_social_emisor, giro_emisor, direccion_emisor, comuna_emisor,
			 rut_receptor, razon_social_receptor, giro_receptor, direccion_receptor,
			 comuna_receptor, ciudad_receptor,
			 monto_neto, monto_exento, monto_iva, monto_total,
			 tipo_traslado,
			 xml_dte, xml_firmado, ted_xml, datos_pdf417,
			 estado, intentos, proximo_intento, track_id, glosa_sii, error_envio,
			 fecha_envio, fecha_respuesta, fecha_creacion)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			 $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			 $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, now())`
	_, err := r.q.Exec(ctx, q,
		dte.ID, dte.CAFID, dte.TipoDTE, dte.Folio, dte.FechaEmision,
		dte.RUTEmisor, dte.RazonSocialEmisor, dte.GiroEmisor, dte.DireccionEmisor, dte.ComunaEmisor,
		dte.RUTReceptor, dte.RazonSocialReceptor, dte.GiroReceptor, dte.DireccionReceptor,
		dte.ComunaReceptor, dte.CiudadReceptor,
		dte.MontoNeto, dte.MontoExento, dte.MontoIVA, dte.MontoTotal,
		dte.TipoTraslado,
		dte.XMLDTE, dte.XMLFirmado, dte.TEDXML, dte.DatosPDF417,
		dte.Estado, dte.Intentos, dte.ProximoIntento, dte.TrackID, dte.GlosaSII, dte.ErrorEnvio,
		dte.FechaEnvio, dte.FechaRespuesta,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: folio %d ya emitido para el tipo %s", domain.ErrDuplicate, dte.Folio, dte.TipoDTE)
		}
		return fmt.Errorf("insert dte: %w", err)
	}

	const qDet = `
		INSERT INTO dte_detalles
			(id, dte_id, nro_linea, nombre, descripcion, codigo, unidad, cantidad, precio_unit, monto_item)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	for i, det := range dte.Detalles {
		_, err := r.q.Exec(ctx, qDet,
			uuid.NewString(), dte.ID, i+1,
			det.Nombre, det.Descripcion, det.Codigo, det.Unidad,
			det.Cantidad, det.PrecioUnit, det.MontoItem,
		)
		if err != nil {
			return fmt.Errorf("insert dte_detalle %d: %w", i+1, err)
		}
	}

	if dte.Referencia != nil {
		const qRef = `
			INSERT INTO dte_referencias
				(id, dte_id, tipo_doc_ref, folio_ref, fecha_ref, cod_ref, razon_ref)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`
		ref := dte.Referencia
		_, err := r.q.Exec(ctx, qRef,
			uuid.NewString(), dte.ID,
			ref.TipoDocRef, ref.FolioRef, ref.FechaRef, ref.CodRef, ref.RazonRef,
		)
		if err != nil {
			return fmt.Errorf("insert dte_referencia: %w", err)
		}
	}
	return nil
}

func (r *DTERepo) GetByID(ctx context.Context, id string) (*entity.DTE, error) {
	const q = `SELECT ` + dteColumns + ` FROM dtes WHERE id = $1`
	dte, err := scanDTE(r.q.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get dte by id: %w", err)
	}
	if err := r.cargarHijos(ctx, dte); err != nil {
		return nil, err
	}
	return dte, nil
}

func (r *DTERepo) GetByFolio(ctx context.Context, rutEmpresa, tipoDTE string, folio int64) (*entity.DTE, error) {
	const q = `
		SELECT ` + dteColumns + `
		FROM dtes
		WHERE rut_emisor = $1 AND tipo_dte = $2 AND folio = $3`
	dte, err := scanDTE(r.q.QueryRow(ctx, q, rutEmpresa, tipoDTE, folio))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get dte by folio: %w", err)
	}
	if err := r.cargarHijos(ctx, dte); err != nil {
		return nil, err
	}
	return dte, nil
}

func (r *DTERepo) Update(ctx context.Context, dte *entity.DTE) error {
	const q = `
		UPDATE dtes
		SET xml_dte = $2, xml_firmado = $3, ted_xml = $4, datos_pdf417 = $5,
		    estado = $6, track_id = $7, glosa_sii = $8, error_envio = $9
		WHERE id = $1`
	_, err := r.q.Exec(ctx, q,
		dte.ID, dte.XMLDTE, dte.XMLFirmado, dte.TEDXML, dte.DatosPDF417,
		dte.Estado, dte.TrackID, dte.GlosaSII, dte.ErrorEnvio,
	)
	if err != nil {
		return fmt.Errorf("update dte: %w", err)
	}
	return nil
}

// GetEstado devuelve solo los campos de estado, sin XML ni detalles.
func (r *DTERepo) GetEstado(ctx context.Context, id string) (*entity.DTE, error) {
	const q = `
		SELECT id, tipo_dte, folio, estado, intentos, proximo_intento,
		       track_id, glosa_sii, error_envio, fecha_envio, fecha_respuesta
		FROM dtes WHERE id = $1`
	var dte entity.DTE
	err := r.q.QueryRow(ctx, q, id).Scan(
		&dte.ID, &dte.TipoDTE, &dte.Folio, &dte.Estado, &dte.Intentos, &dte.ProximoIntento,
		&dte.TrackID, &dte.GlosaSII, &dte.ErrorEnvio, &dte.FechaEnvio, &dte.FechaRespuesta,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get dte estado: %w", err)
	}
	return &dte, nil
}

func (r *DTERepo) ListByEstado(ctx context.Context, rutEmpresa, estado string, limit int) ([]*entity.DTE, error) {
	const q = `
		SELECT ` + dteColumns + `
		FROM dtes
		WHERE rut_emisor = $1 AND estado = $2
		ORDER BY fecha_creacion DESC
		LIMIT $3`
	rows, err := r.q.Query(ctx, q, rutEmpresa, estado, limit)
	if err != nil {
		return nil, fmt.Errorf("list dtes por estado: %w", err)
	}
	defer rows.Close()
	var list []*entity.DTE
	for rows.Next() {
		dte, err := scanDTE(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dte: %w", err)
		}
		list = append(list, dte)
	}
	return list, rows.Err()
}

func (r *DTERepo) CountByRangoFolio(ctx context.Context, rutEmpresa, tipoDTE string, desde, hasta int64) (int64, error) {
	const q = `
		SELECT COUNT(*)
		FROM dtes
		WHERE rut_emisor = $1 AND tipo_dte = $2
		  AND folio BETWEEN $3 AND $4`
	var n int64
	if err := r.q.QueryRow(ctx, q, rutEmpresa, tipoDTE, desde, hasta).Scan(&n); err != nil {
		return 0, fmt.Errorf("count dtes por rango: %w", err)
	}
	return n, nil
}

// ClaimEnviando hace la transición en_cola -> enviando en un solo UPDATE
// condicionado. Si la fila no cambió, otro worker llegó primero (o el
// documento fue anulado) y el llamador debe soltarlo.
func (r *DTERepo) ClaimEnviando(ctx context.Context, id string) (*entity.DTE, error) {
	const q = `
		UPDATE dtes
		SET estado = 'enviando'
		WHERE id = $1 AND estado = 'en_cola'
		RETURNING ` + dteColumns
	dte, err := scanDTE(r.q.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: documento %s", domain.ErrDTEEnVuelo, id)
		}
		return nil, fmt.Errorf("claim dte: %w", err)
	}
	if err := r.cargarHijos(ctx, dte); err != nil {
		return nil, err
	}
	return dte, nil
}

func (r *DTERepo) UpdateDespacho(ctx context.Context, dte *entity.DTE) error {
	const q = `
		UPDATE dtes
		SET estado = $2, intentos = $3, proximo_intento = $4,
		    track_id = $5, glosa_sii = $6, error_envio = $7,
		    fecha_envio = $8, fecha_respuesta = $9
		WHERE id = $1`
	_, err := r.q.Exec(ctx, q,
		dte.ID, dte.Estado, dte.Intentos, dte.ProximoIntento,
		dte.TrackID, dte.GlosaSII, dte.ErrorEnvio,
		dte.FechaEnvio, dte.FechaRespuesta,
	)
	if err != nil {
		return fmt.Errorf("update despacho dte: %w", err)
	}
	return nil
}

// MarcarEnCola condiciona la transición a los estados despachables para no
// pisar un envío en vuelo ni un estado final.
func (r *DTERepo) MarcarEnCola(ctx context.Context, id string, proximoIntento time.Time) (bool, error) {
	const q = `
		UPDATE dtes
		SET estado = 'en_cola', intentos = 0, proximo_intento = $2, error_envio = ''
		WHERE id = $1 AND estado IN ('firmado', 'en_cola', 'fallido', 'rechazado')`
	tag, err := r.q.Exec(ctx, q, id, proximoIntento)
	if err != nil {
		return false, fmt.Errorf("marcar dte en cola: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *DTERepo) MarcarAnulado(ctx context.Context, id string) (bool, error) {
	const q = `
		UPDATE dtes
		SET estado = 'anulado', proximo_intento = NULL
		WHERE id = $1 AND estado IN ('generado', 'firmado', 'en_cola')`
	tag, err := r.q.Exec(ctx, q, id)
	if err != nil {
		return false, fmt.Errorf("marcar dte anulado: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *DTERepo) ListReintentosPendientes(ctx context.Context, ahora time.Time, limit int) ([]*entity.DTE, error) {
	const q = `
		SELECT ` + dteColumns + `
		FROM dtes
		WHERE estado = 'en_cola'
		  AND proximo_intento IS NOT NULL
		  AND proximo_intento <= $1
		ORDER BY proximo_intento ASC
		LIMIT $2`
	rows, err := r.q.Query(ctx, q, ahora, limit)
	if err != nil {
		return nil, fmt.Errorf("list reintentos pendientes: %w", err)
	}
	defer rows.Close()
	var list []*entity.DTE
	for rows.Next() {
		dte, err := scanDTE(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dte reintento: %w", err)
		}
		list = append(list, dte)
	}
	return list, rows.Err()
}

// ── helpers ───────────────────────────────────────────────────────────────────

func scanDTE(row pgxScanner) (*entity.DTE, error) {
	var dte entity.DTE
	err := row.Scan(
		&dte.ID, &dte.CAFID, &dte.TipoDTE, &dte.Folio, &dte.FechaEmision,
		&dte.RUTEmisor, &dte.RazonSocialEmisor, &dte.GiroEmisor, &dte.DireccionEmisor, &dte.ComunaEmisor,
		&dte.RUTReceptor, &dte.RazonSocialReceptor, &dte.GiroReceptor, &dte.DireccionReceptor,
		&dte.ComunaReceptor, &dte.CiudadReceptor,
		&dte.MontoNeto, &dte.MontoExento, &dte.MontoIVA, &dte.MontoTotal,
		&dte.TipoTraslado,
		&dte.XMLDTE, &dte.XMLFirmado, &dte.TEDXML, &dte.DatosPDF417,
		&dte.Estado, &dte.Intentos, &dte.ProximoIntento, &dte.TrackID, &dte.GlosaSII, &dte.ErrorEnvio,
		&dte.FechaEnvio, &dte.FechaRespuesta, &dte.FechaCreacion,
	)
	if err != nil {
		return nil, err
	}
	return &dte, nil
}

// cargarHijos adjunta detalles y referencia al documento ya escaneado.
func (r *DTERepo) cargarHijos(ctx context.Context, dte *entity.DTE) error {
	const qDet = `
		SELECT nombre, descripcion, codigo, unidad, cantidad, precio_unit, monto_item
		FROM dte_detalles
		WHERE dte_id = $1
		ORDER BY nro_linea`
	rows, err := r.q.Query(ctx, qDet, dte.ID)
	if err != nil {
		return fmt.Errorf("list dte_detalles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var det entity.DetalleDTE
		if err := rows.Scan(
			&det.Nombre, &det.Descripcion, &det.Codigo, &det.Unidad,
			&det.Cantidad, &det.PrecioUnit, &det.MontoItem,
		); err != nil {
			return fmt.Errorf("scan dte_detalle: %w", err)
		}
		dte.Detalles = append(dte.Detalles, det)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	const qRef = `
		SELECT tipo_doc_ref, folio_ref, fecha_ref, cod_ref, razon_ref
		FROM dte_referencias
		WHERE dte_id = $1`
	var ref entity.ReferenciaDTE
	err = r.q.QueryRow(ctx, qRef, dte.ID).Scan(
		&ref.TipoDocRef, &ref.FolioRef, &ref.FechaRef, &ref.CodRef, &ref.RazonRef,
	)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// sin referencia: no es una nota
	case err != nil:
		return fmt.Errorf("get dte_referencia: %w", err)
	default:
		dte.Referencia = &ref
	}
	return nil
}
