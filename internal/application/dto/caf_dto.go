package dto

import (
	"time"

	"github.com/jhoicas/dte-api/internal/application/folios"
	"github.com/jhoicas/dte-api/internal/domain/entity"
)

// ImportarCAFRequest body para POST /api/cafs. El archivo CAF viaja tal cual
// lo entrega el SII, en el campo contenido.
type ImportarCAFRequest struct {
	Contenido string `json:"contenido"`
}

// CAFResponse rango de folios en respuestas.
type CAFResponse struct {
	ID                string     `json:"id"`
	RUTEmpresa        string     `json:"rut_empresa"`
	TipoDTE           string     `json:"tipo_dte"`
	FolioDesde        int64      `json:"folio_desde"`
	FolioHasta        int64      `json:"folio_hasta"`
	FolioActual       int64      `json:"folio_actual"`
	FoliosDisponibles int64      `json:"folios_disponibles"`
	AlertaFolios      bool       `json:"alerta_folios"`
	Estado            string     `json:"estado"`
	FechaAutorizacion time.Time  `json:"fecha_autorizacion"`
	FechaVencimiento  time.Time  `json:"fecha_vencimiento"`
	FechaAgotamiento  *time.Time `json:"fecha_agotamiento,omitempty"`
}

// FromCAF arma la respuesta pública del CAF (sin el contenido criptográfico).
func FromCAF(c *entity.CAF) CAFResponse {
	return CAFResponse{
		ID:                c.ID,
		RUTEmpresa:        c.RUTEmpresa,
		TipoDTE:           c.TipoDTE,
		FolioDesde:        c.FolioDesde,
		FolioHasta:        c.FolioHasta,
		FolioActual:       c.FolioActual,
		FoliosDisponibles: c.FoliosDisponibles(),
		AlertaFolios:      c.Estado == entity.CAFActivo && c.FoliosDisponibles() < folios.UmbralAlertaFolios,
		Estado:            c.Estado,
		FechaAutorizacion: c.FechaAutorizacion,
		FechaVencimiento:  c.FechaVencimiento(),
		FechaAgotamiento:  c.FechaAgotamiento,
	}
}
