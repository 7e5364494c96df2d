package gdexpress

import (
	"context"

	"github.com/jhoicas/dte-api/internal/application/despacho"
	"github.com/jhoicas/dte-api/internal/domain/entity"
)

var _ despacho.Gateway = (*GatewayAdapter)(nil)

// GatewayAdapter adapta el cliente GDExpress al puerto de la cola de despacho.
type GatewayAdapter struct {
	client *Client
}

// NewGatewayAdapter construye el adaptador.
func NewGatewayAdapter(client *Client) *GatewayAdapter {
	return &GatewayAdapter{client: client}
}

// Despachar prepara el XML firmado del documento y lo envía al gateway.
func (a *GatewayAdapter) Despachar(ctx context.Context, d *entity.DTE) (*despacho.ResultadoEnvio, error) {
	payload, err := a.client.Preparar([]byte(d.XMLFirmado), d.TipoDTE)
	if err != nil {
		return nil, err
	}
	res, err := a.client.Enviar(ctx, payload)
	if err != nil {
		return nil, err
	}
	return &despacho.ResultadoEnvio{
		Aceptado: res.Aceptado,
		TrackID:  res.TrackID,
		Estado:   res.Estado,
		Glosa:    res.Glosa,
	}, nil
}
