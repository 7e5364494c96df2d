package despacho

import (
	"context"

	"github.com/jhoicas/dte-api/internal/domain/entity"
)

// ResultadoEnvio es la respuesta normalizada del gateway tributario.
type ResultadoEnvio struct {
	Aceptado bool
	TrackID  string
	Estado   string
	Glosa    string
}

// Gateway prepara y envía un documento firmado al intermediario SII.
// Un error significa que el envío no pudo completarse y debe reintentarse;
// un ResultadoEnvio con Aceptado=false es un rechazo definitivo del documento.
type Gateway interface {
	Despachar(ctx context.Context, d *entity.DTE) (*ResultadoEnvio, error)
}
