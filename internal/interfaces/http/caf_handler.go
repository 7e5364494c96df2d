package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/jhoicas/dte-api/internal/application/dto"
	"github.com/jhoicas/dte-api/internal/application/folios"
	"github.com/jhoicas/dte-api/internal/domain"
)

// CAFHandler maneja las peticiones HTTP de rangos de folios (protegido, admin).
type CAFHandler struct {
	ledger *folios.LedgerService
}

// NewCAFHandler construye el handler.
func NewCAFHandler(ledger *folios.LedgerService) *CAFHandler {
	return &CAFHandler{ledger: ledger}
}

// Importar carga un archivo CAF entregado por el SII.
// POST /api/cafs
func (h *CAFHandler) Importar(c *fiber.Ctx) error {
	rutEmpresa := GetRUTEmpresa(c)
	if rutEmpresa == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	var in dto.ImportarCAFRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	if in.Contenido == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "contenido requerido"})
	}

	caf, err := h.ledger.ImportarCAF(c.Context(), []byte(in.Contenido))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrCAFSinClavePublica):
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "CAF_INVALIDO", Message: err.Error()})
		case errors.Is(err, domain.ErrDuplicate):
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "DUPLICATE", Message: err.Error()})
		case errors.Is(err, domain.ErrConflict):
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "RANGO_SOLAPADO", Message: err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(dto.FromCAF(caf))
}

// List lista los CAF de la empresa, opcionalmente filtrados por tipo.
// GET /api/cafs?tipo_dte=33
func (h *CAFHandler) List(c *fiber.Ctx) error {
	rutEmpresa := GetRUTEmpresa(c)
	if rutEmpresa == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	tipoDTE := c.Query("tipo_dte")
	cafs, err := h.ledger.ListarCAF(c.Context(), rutEmpresa, tipoDTE)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	out := make([]dto.CAFResponse, 0, len(cafs))
	for _, caf := range cafs {
		out = append(out, dto.FromCAF(caf))
	}
	return c.JSON(out)
}

// Reset devuelve el puntero de asignación al inicio del rango. Solo es válido
// sobre rangos sin documentos emitidos.
// POST /api/cafs/:id/reset
func (h *CAFHandler) Reset(c *fiber.Ctx) error {
	id := c.Params("id")
	caf, err := h.ledger.Reset(c.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "CAF no encontrado"})
		case errors.Is(err, domain.ErrCAFConFoliosUsados):
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "FOLIOS_USADOS", Message: err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	return c.JSON(dto.FromCAF(caf))
}

// Anular retira un CAF de la asignación de folios.
// POST /api/cafs/:id/anular
func (h *CAFHandler) Anular(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.ledger.Anular(c.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "CAF no encontrado"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	return c.SendStatus(fiber.StatusNoContent)
}
