package emision

import (
	"context"
	"fmt"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/domain/repository"
)

// DatosEmisor datos fijos del emisor que acompañan a toda emisión. Vienen de
// la configuración, no del request.
type DatosEmisor struct {
	RUT         string
	RazonSocial string
	Giro        string
	Direccion   string
	Comuna      string
}

// ConsultaUseCase lecturas de documentos emitidos, con chequeo de pertenencia
// a la empresa del token.
type ConsultaUseCase struct {
	dteRepo repository.DTERepository
}

// NewConsultaUseCase construye el caso de uso.
func NewConsultaUseCase(dteRepo repository.DTERepository) *ConsultaUseCase {
	return &ConsultaUseCase{dteRepo: dteRepo}
}

// GetDTE obtiene el documento completo por ID.
func (uc *ConsultaUseCase) GetDTE(ctx context.Context, rutEmpresa, dteID string) (*entity.DTE, error) {
	d, err := uc.dteRepo.GetByID(ctx, dteID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("%w: documento %s", domain.ErrNotFound, dteID)
	}
	if d.RUTEmisor != rutEmpresa {
		return nil, domain.ErrForbidden
	}
	return d, nil
}

// GetEstado obtiene el estado de despacho por ID, sin cargar los artefactos
// XML. Pensado para polling.
func (uc *ConsultaUseCase) GetEstado(ctx context.Context, rutEmpresa, dteID string) (*entity.DTE, error) {
	d, err := uc.dteRepo.GetEstado(ctx, dteID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("%w: documento %s", domain.ErrNotFound, dteID)
	}
	if d.RUTEmisor != rutEmpresa {
		return nil, domain.ErrForbidden
	}
	return d, nil
}
