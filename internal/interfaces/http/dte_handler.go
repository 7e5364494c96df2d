package http

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jhoicas/dte-api/internal/application/despacho"
	"github.com/jhoicas/dte-api/internal/application/dto"
	"github.com/jhoicas/dte-api/internal/application/emision"
	"github.com/jhoicas/dte-api/internal/application/impresion"
	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
)

// DTEHandler maneja las peticiones HTTP de documentos tributarios (protegido).
type DTEHandler struct {
	emitir   *emision.EmitirUseCase
	consulta *emision.ConsultaUseCase
	cola     *despacho.Queue
	pdf      *impresion.PDFUseCase
	emisor   emision.DatosEmisor
}

// NewDTEHandler construye el handler. Los datos del emisor vienen de la
// configuración: el request nunca los trae.
func NewDTEHandler(
	emitir *emision.EmitirUseCase,
	consulta *emision.ConsultaUseCase,
	cola *despacho.Queue,
	pdf *impresion.PDFUseCase,
	emisor emision.DatosEmisor,
) *DTEHandler {
	return &DTEHandler{emitir: emitir, consulta: consulta, cola: cola, pdf: pdf, emisor: emisor}
}

// Emitir emite un documento: folio, XML, timbre, firma y cola de despacho.
// POST /api/dtes
func (h *DTEHandler) Emitir(c *fiber.Ctx) error {
	rutEmpresa := GetRUTEmpresa(c)
	if rutEmpresa == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	var in dto.EmitirDTERequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}

	input, err := h.armarInput(rutEmpresa, in)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
	}

	d, err := h.emitir.Emitir(c.Context(), input)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrTipoDTENoSoportado),
			errors.Is(err, domain.ErrReferenciaFaltante),
			errors.Is(err, domain.ErrInvalidInput):
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
		case errors.Is(err, domain.ErrNoFoliosDisponibles):
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "NO_FOLIOS", Message: err.Error()})
		case errors.Is(err, domain.ErrDuplicate):
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "DUPLICATE", Message: err.Error()})
		case errors.Is(err, domain.ErrCertificadoInvalido):
			return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "CERT", Message: err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(dto.FromDTE(d))
}

// GetByID obtiene el documento completo.
// GET /api/dtes/:id
func (h *DTEHandler) GetByID(c *fiber.Ctx) error {
	rutEmpresa := GetRUTEmpresa(c)
	if rutEmpresa == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	id := c.Params("id")
	d, err := h.consulta.GetDTE(c.Context(), rutEmpresa, id)
	if err != nil {
		return h.errorLectura(c, err)
	}
	return c.JSON(dto.FromDTE(d))
}

// GetEstado obtiene el estado de despacho (para polling).
// GET /api/dtes/:id/estado
func (h *DTEHandler) GetEstado(c *fiber.Ctx) error {
	rutEmpresa := GetRUTEmpresa(c)
	if rutEmpresa == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	id := c.Params("id")
	d, err := h.consulta.GetEstado(c.Context(), rutEmpresa, id)
	if err != nil {
		return h.errorLectura(c, err)
	}
	return c.JSON(dto.FromDTEEstado(d))
}

// Reenviar vuelve a encolar un documento fallido o rechazado por transporte.
// POST /api/dtes/:id/reenviar
func (h *DTEHandler) Reenviar(c *fiber.Ctx) error {
	rutEmpresa := GetRUTEmpresa(c)
	if rutEmpresa == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	id := c.Params("id")
	// La cola no conoce empresas: el chequeo de pertenencia va antes.
	if _, err := h.consulta.GetEstado(c.Context(), rutEmpresa, id); err != nil {
		return h.errorLectura(c, err)
	}
	if err := h.cola.Encolar(c.Context(), id); err != nil {
		return h.errorDespacho(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"id": id, "estado": entity.EstadoEnCola})
}

// Anular retira un documento que aún no ha sido enviado al gateway.
// POST /api/dtes/:id/anular
func (h *DTEHandler) Anular(c *fiber.Ctx) error {
	rutEmpresa := GetRUTEmpresa(c)
	if rutEmpresa == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	id := c.Params("id")
	if _, err := h.consulta.GetEstado(c.Context(), rutEmpresa, id); err != nil {
		return h.errorLectura(c, err)
	}
	if err := h.cola.Anular(c.Context(), id); err != nil {
		return h.errorDespacho(c, err)
	}
	return c.JSON(fiber.Map{"id": id, "estado": entity.EstadoAnulado})
}

// DownloadPDF descarga la representación impresa del documento.
// GET /api/dtes/:id/pdf
func (h *DTEHandler) DownloadPDF(c *fiber.Ctx) error {
	rutEmpresa := GetRUTEmpresa(c)
	if rutEmpresa == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	id := c.Params("id")
	pdfBytes, filename, err := h.pdf.DownloadDTEPDF(c.Context(), rutEmpresa, id)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "SIN_TIMBRE", Message: err.Error()})
		}
		return h.errorLectura(c, err)
	}
	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	return c.Send(pdfBytes)
}

// ── helpers ───────────────────────────────────────────────────────────────────

func (h *DTEHandler) armarInput(rutEmpresa string, in dto.EmitirDTERequest) (emision.EmitirInput, error) {
	input := emision.EmitirInput{
		TipoDTE: in.TipoDTE,

		RUTEmisor:         rutEmpresa,
		RazonSocialEmisor: h.emisor.RazonSocial,
		GiroEmisor:        h.emisor.Giro,
		DireccionEmisor:   h.emisor.Direccion,
		ComunaEmisor:      h.emisor.Comuna,

		RUTReceptor:         in.Receptor.RUT,
		RazonSocialReceptor: in.Receptor.RazonSocial,
		GiroReceptor:        in.Receptor.Giro,
		DireccionReceptor:   in.Receptor.Direccion,
		ComunaReceptor:      in.Receptor.Comuna,
		CiudadReceptor:      in.Receptor.Ciudad,

		TipoTraslado: in.TipoTraslado,
	}
	for _, det := range in.Detalles {
		input.Detalles = append(input.Detalles, emision.DetalleInput{
			Nombre:      det.Nombre,
			Descripcion: det.Descripcion,
			Codigo:      det.Codigo,
			Unidad:      det.Unidad,
			Cantidad:    det.Cantidad,
			PrecioUnit:  det.PrecioUnit,
			Exenta:      det.Exenta,
		})
	}
	if in.Referencia != nil {
		fechaRef, err := time.Parse("2006-01-02", in.Referencia.FechaRef)
		if err != nil {
			return emision.EmitirInput{}, errors.New("fecha_ref debe tener formato YYYY-MM-DD")
		}
		input.Referencia = &entity.ReferenciaDTE{
			TipoDocRef: in.Referencia.TipoDocRef,
			FolioRef:   in.Referencia.FolioRef,
			FechaRef:   fechaRef,
			CodRef:     in.Referencia.CodRef,
			RazonRef:   in.Referencia.RazonRef,
		}
	}
	return input, nil
}

func (h *DTEHandler) errorLectura(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "documento no encontrado"})
	case errors.Is(err, domain.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Code: "FORBIDDEN", Message: "el documento pertenece a otra empresa"})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
}

func (h *DTEHandler) errorDespacho(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrDTEEnVuelo):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "EN_VUELO", Message: err.Error()})
	case errors.Is(err, domain.ErrDTEYaEnviado):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "YA_ENVIADO", Message: err.Error()})
	case errors.Is(err, domain.ErrConflict):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "ESTADO_INVALIDO", Message: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "documento no encontrado"})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
}
