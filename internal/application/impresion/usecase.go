package impresion

import (
	"context"
	"fmt"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/domain/repository"
)

// Dimensiones del PDF417 en la representación impresa.
const (
	AnchoTimbre = 600
	AltoTimbre  = 200
)

// DatosImpresion datos del pie de timbre que no viven en el documento.
type DatosImpresion struct {
	ResolucionNumero string
	ResolucionFecha  string // YYYY-MM-DD
}

// GeneradorPDF produce la representación impresa del documento.
type GeneradorPDF interface {
	GenerarDTEPDF(ctx context.Context, d *entity.DTE, timbrePNG []byte, datos DatosImpresion) ([]byte, error)
}

// CodificadorBarras renderiza el TED como imagen PDF417.
type CodificadorBarras interface {
	Imagen(tedXML []byte, ancho, alto int) ([]byte, error)
}

// PDFUseCase genera la representación impresa de un documento emitido. Solo
// tiene sentido sobre documentos ya timbrados: sin TED no hay código de
// barras y la impresión no es válida ante el SII.
type PDFUseCase struct {
	dteRepo   repository.DTERepository
	barras    CodificadorBarras
	generador GeneradorPDF
	datos     DatosImpresion
}

// NewPDFUseCase construye el caso de uso.
func NewPDFUseCase(
	dteRepo repository.DTERepository,
	barras CodificadorBarras,
	generador GeneradorPDF,
	datos DatosImpresion,
) *PDFUseCase {
	return &PDFUseCase{
		dteRepo:   dteRepo,
		barras:    barras,
		generador: generador,
		datos:     datos,
	}
}

// DownloadDTEPDF recupera el documento, valida que esté timbrado y pertenezca
// a la empresa del token, y genera el PDF con el PDF417 del TED.
func (uc *PDFUseCase) DownloadDTEPDF(ctx context.Context, rutEmpresa, dteID string) (pdfBytes []byte, filename string, err error) {
	d, err := uc.dteRepo.GetByID(ctx, dteID)
	if err != nil {
		return nil, "", fmt.Errorf("pdf: obtener documento: %w", err)
	}
	if d == nil {
		return nil, "", domain.ErrNotFound
	}
	if d.RUTEmisor != rutEmpresa {
		return nil, "", domain.ErrForbidden
	}
	if d.TEDXML == "" {
		return nil, "", fmt.Errorf("%w: el documento está en estado %s, aún sin timbre",
			domain.ErrInvalidInput, d.Estado)
	}

	timbrePNG, err := uc.barras.Imagen([]byte(d.TEDXML), AnchoTimbre, AltoTimbre)
	if err != nil {
		return nil, "", fmt.Errorf("pdf: renderizar timbre: %w", err)
	}

	pdfBytes, err = uc.generador.GenerarDTEPDF(ctx, d, timbrePNG, uc.datos)
	if err != nil {
		return nil, "", fmt.Errorf("pdf: generación fallida: %w", err)
	}

	filename = fmt.Sprintf("dte_%s_%d.pdf", d.TipoDTE, d.Folio)
	return pdfBytes, filename, nil
}
