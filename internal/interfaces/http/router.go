package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/jhoicas/dte-api/internal/application/despacho"
	"github.com/jhoicas/dte-api/internal/application/emision"
	"github.com/jhoicas/dte-api/internal/application/folios"
	"github.com/jhoicas/dte-api/internal/application/impresion"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	EmitirUC   *emision.EmitirUseCase
	ConsultaUC *emision.ConsultaUseCase
	Cola       *despacho.Queue
	PDFUC      *impresion.PDFUseCase
	Ledger     *folios.LedgerService
	Emisor     emision.DatosEmisor
	JWTSecret  string
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	api := app.Group("/api")

	// Salud (público)
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Rutas protegidas (requieren Bearer Token)
	protected := api.Group("/", AuthMiddleware(deps.JWTSecret))

	// Documentos tributarios (protegido)
	dtes := protected.Group("/dtes")
	dteHandler := NewDTEHandler(deps.EmitirUC, deps.ConsultaUC, deps.Cola, deps.PDFUC, deps.Emisor)
	dtes.Post("/", dteHandler.Emitir)
	dtes.Get("/:id", dteHandler.GetByID)
	dtes.Get("/:id/estado", dteHandler.GetEstado)
	dtes.Get("/:id/pdf", dteHandler.DownloadPDF)
	dtes.Post("/:id/reenviar", dteHandler.Reenviar)
	dtes.Post("/:id/anular", dteHandler.Anular)

	// Rangos de folios (protegido, solo admin)
	cafs := protected.Group("/cafs", RequireRole(RoleAdmin))
	cafHandler := NewCAFHandler(deps.Ledger)
	cafs.Post("/", cafHandler.Importar)
	cafs.Get("/", cafHandler.List)
	cafs.Post("/:id/reset", cafHandler.Reset)
	cafs.Post("/:id/anular", cafHandler.Anular)
}
