package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/dte-api/internal/domain/entity"
)

// EmitirDTERequest body para POST /api/dtes.
// Los montos no se reciben: se calculan siempre a partir de las líneas.
type EmitirDTERequest struct {
	TipoDTE string `json:"tipo_dte"`

	Receptor   ReceptorRequest     `json:"receptor"`
	Detalles   []DetalleRequest    `json:"detalles"`
	Referencia *ReferenciaRequest  `json:"referencia,omitempty"`

	// Solo guías de despacho (tipo 52).
	TipoTraslado string `json:"tipo_traslado,omitempty"`
}

// ReceptorRequest datos del receptor del documento.
type ReceptorRequest struct {
	RUT         string `json:"rut"`
	RazonSocial string `json:"razon_social"`
	Giro        string `json:"giro,omitempty"`
	Direccion   string `json:"direccion,omitempty"`
	Comuna      string `json:"comuna,omitempty"`
	Ciudad      string `json:"ciudad,omitempty"`
}

// DetalleRequest línea de detalle del documento.
type DetalleRequest struct {
	Nombre      string          `json:"nombre"`
	Descripcion string          `json:"descripcion,omitempty"`
	Codigo      string          `json:"codigo,omitempty"`
	Unidad      string          `json:"unidad,omitempty"`
	Cantidad    decimal.Decimal `json:"cantidad"`
	PrecioUnit  decimal.Decimal `json:"precio_unitario"`
	Exenta      bool            `json:"exenta,omitempty"`
}

// ReferenciaRequest referencia al documento original (notas de crédito/débito).
type ReferenciaRequest struct {
	TipoDocRef string `json:"tipo_doc_ref"`
	FolioRef   int64  `json:"folio_ref"`
	FechaRef   string `json:"fecha_ref"` // YYYY-MM-DD
	CodRef     string `json:"cod_ref"`
	RazonRef   string `json:"razon_ref,omitempty"`
}

// DTEResponse documento emitido en respuestas.
type DTEResponse struct {
	ID           string          `json:"id"`
	TipoDTE      string          `json:"tipo_dte"`
	Folio        int64           `json:"folio"`
	FechaEmision time.Time       `json:"fecha_emision"`
	RUTEmisor    string          `json:"rut_emisor"`
	RUTReceptor  string          `json:"rut_receptor"`
	MontoNeto    decimal.Decimal `json:"monto_neto"`
	MontoExento  decimal.Decimal `json:"monto_exento"`
	MontoIVA     decimal.Decimal `json:"monto_iva"`
	MontoTotal   decimal.Decimal `json:"monto_total"`
	Estado       string          `json:"estado"`
	TrackID      string          `json:"track_id,omitempty"`
}

// EstadoDTEResponse estado de despacho para polling.
type EstadoDTEResponse struct {
	ID             string     `json:"id"`
	TipoDTE        string     `json:"tipo_dte"`
	Folio          int64      `json:"folio"`
	Estado         string     `json:"estado"`
	Intentos       int        `json:"intentos"`
	ProximoIntento *time.Time `json:"proximo_intento,omitempty"`
	TrackID        string     `json:"track_id,omitempty"`
	GlosaSII       string     `json:"glosa_sii,omitempty"`
	ErrorEnvio     string     `json:"error_envio,omitempty"`
	FechaEnvio     *time.Time `json:"fecha_envio,omitempty"`
	FechaRespuesta *time.Time `json:"fecha_respuesta,omitempty"`
}

// FromDTE arma la respuesta pública del documento.
func FromDTE(d *entity.DTE) DTEResponse {
	return DTEResponse{
		ID:           d.ID,
		TipoDTE:      d.TipoDTE,
		Folio:        d.Folio,
		FechaEmision: d.FechaEmision,
		RUTEmisor:    d.RUTEmisor,
		RUTReceptor:  d.RUTReceptor,
		MontoNeto:    d.MontoNeto,
		MontoExento:  d.MontoExento,
		MontoIVA:     d.MontoIVA,
		MontoTotal:   d.MontoTotal,
		Estado:       d.Estado,
		TrackID:      d.TrackID,
	}
}

// FromDTEEstado arma la respuesta de polling de estado.
func FromDTEEstado(d *entity.DTE) EstadoDTEResponse {
	return EstadoDTEResponse{
		ID:             d.ID,
		TipoDTE:        d.TipoDTE,
		Folio:          d.Folio,
		Estado:         d.Estado,
		Intentos:       d.Intentos,
		ProximoIntento: d.ProximoIntento,
		TrackID:        d.TrackID,
		GlosaSII:       d.GlosaSII,
		ErrorEnvio:     d.ErrorEnvio,
		FechaEnvio:     d.FechaEnvio,
		FechaRespuesta: d.FechaRespuesta,
	}
}
