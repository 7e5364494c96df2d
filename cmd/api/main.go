package main

import (
	"context"
	"crypto/tls"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/robfig/cron/v3"

	"github.com/jhoicas/dte-api/internal/application/despacho"
	"github.com/jhoicas/dte-api/internal/application/emision"
	"github.com/jhoicas/dte-api/internal/application/folios"
	"github.com/jhoicas/dte-api/internal/application/impresion"
	"github.com/jhoicas/dte-api/internal/infrastructure/gdexpress"
	infrapdf "github.com/jhoicas/dte-api/internal/infrastructure/pdf"
	"github.com/jhoicas/dte-api/internal/infrastructure/postgres"
	infrasii "github.com/jhoicas/dte-api/internal/infrastructure/sii"
	httpRouter "github.com/jhoicas/dte-api/internal/interfaces/http"
	"github.com/jhoicas/dte-api/pkg/config"
	"github.com/jhoicas/dte-api/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:   cfg.App.Env,
		Level: cfg.App.LogLevel,
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Msg("iniciando aplicación")

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("conexión a PostgreSQL")
	}
	defer pool.Close()

	cafRepo := postgres.NewCAFRepository(pool)
	dteRepo := postgres.NewDTERepository(pool)
	txRunner := postgres.NewTxRunner(pool)

	// Certificado digital del emisor: .p12 con contraseña, o par .pem.
	cert, err := cargarCertificado(cfg.Cert)
	if err != nil {
		log.Fatal().Err(err).Msg("cargar certificado digital")
	}

	// Libro de folios
	ledger := folios.NewLedgerService(txRunner, cafRepo, dteRepo, infrasii.ParserCAF{}, log)

	// Pipeline de emisión
	constructor := infrasii.NewConstructorService(log)
	timbre := infrasii.NewTimbreService()
	firmador := infrasii.NewFirmaService()
	barras := infrasii.CodificadorBarras{}

	// Gateway GDExpress + cola de despacho
	gwClient := gdexpress.NewClient(gdexpress.Config{
		URL:              cfg.GDExpress.URL,
		AuthKey:          cfg.GDExpress.AuthKey,
		Ambiente:         cfg.GDExpress.Ambiente,
		NumeroResolucion: cfg.Emisor.ResolucionNumero,
		FechaResolucion:  cfg.Emisor.ResolucionFecha,
	}, log)
	cola := despacho.NewQueue(dteRepo, gdexpress.NewGatewayAdapter(gwClient), cfg.Despacho.Workers, log)
	cola.Start(ctx)
	defer cola.Stop()

	emitirUC := emision.NewEmitirUseCase(
		txRunner, ledger, constructor, timbre, firmador, barras, cola, cert, log,
	)
	consultaUC := emision.NewConsultaUseCase(dteRepo)

	// Representación impresa
	pdfUC := impresion.NewPDFUseCase(
		dteRepo, barras, infrapdf.NewMarotoPDFGenerator(), impresion.DatosImpresion{
			ResolucionNumero: cfg.Emisor.ResolucionNumero,
			ResolucionFecha:  cfg.Emisor.ResolucionFecha,
		},
	)

	// Barrido diario de CAF vencidos (a las 03:00)
	sweeper := cron.New()
	if _, err := sweeper.AddFunc("0 3 * * *", func() {
		if _, err := ledger.SweepVencidos(context.Background()); err != nil {
			log.Error().Err(err).Msg("barrido de CAF vencidos")
		}
	}); err != nil {
		log.Fatal().Err(err).Msg("programar barrido de CAF vencidos")
	}
	sweeper.Start()
	defer sweeper.Stop()

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 10,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	// Swagger UI en local: http://localhost:<port>/docs
	app.Use(swagger.New(swagger.Config{
		BasePath: "/",
		FilePath: "./docs/swagger.json",
		Path:     "docs",
		Title:    "DTE API",
	}))

	httpRouter.Router(app, httpRouter.RouterDeps{
		EmitirUC:   emitirUC,
		ConsultaUC: consultaUC,
		Cola:       cola,
		PDFUC:      pdfUC,
		Ledger:     ledger,
		Emisor: emision.DatosEmisor{
			RUT:         cfg.Emisor.RUT,
			RazonSocial: cfg.Emisor.RazonSocial,
			Giro:        cfg.Emisor.Giro,
			Direccion:   cfg.Emisor.Direccion,
			Comuna:      cfg.Emisor.Comuna,
		},
		JWTSecret: cfg.JWT.Secret,
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("señal de apagado recibida, cerrando servidor...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}

	log.Info().Msg("aplicación detenida")
}

// cargarCertificado elige el formato según la configuración: con contraseña
// asume .p12; sin contraseña espera el par certificado/llave en PEM.
func cargarCertificado(cfg config.CertConfig) (tls.Certificate, error) {
	if cfg.Password != "" {
		return infrasii.CargarCertificadoP12(cfg.Path, cfg.Password)
	}
	return infrasii.CargarCertificadoPEM(cfg.Path, cfg.KeyPath)
}
