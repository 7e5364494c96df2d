// import_caf carga un archivo CAF entregado por el SII directamente en la base
// de datos, sin pasar por la API. Útil para el alta inicial de una empresa o
// en ambientes donde la API aún no corre.
//
// Uso: go run ./cmd/import_caf <ruta/al/caf.xml> [más archivos...]
// La conexión sale de las mismas variables de entorno que la API (DB_HOST, etc).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jhoicas/dte-api/internal/application/folios"
	"github.com/jhoicas/dte-api/internal/infrastructure/postgres"
	infrasii "github.com/jhoicas/dte-api/internal/infrastructure/sii"
	"github.com/jhoicas/dte-api/pkg/config"
	"github.com/jhoicas/dte-api/pkg/logger"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "uso: import_caf <ruta/al/caf.xml> [más archivos...]")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cargar configuración: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel})

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "conexión a PostgreSQL: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	cafRepo := postgres.NewCAFRepository(pool)
	dteRepo := postgres.NewDTERepository(pool)
	ledger := folios.NewLedgerService(postgres.NewTxRunner(pool), cafRepo, dteRepo, infrasii.ParserCAF{}, log)

	exitCode := 0
	for _, path := range os.Args[1:] {
		contenido, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: leer archivo: %v\n", path, err)
			exitCode = 1
			continue
		}
		caf, err := ledger.ImportarCAF(ctx, contenido)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: importar: %v\n", path, err)
			exitCode = 1
			continue
		}
		fmt.Printf("%s: CAF importado para %s tipo %s, folios %d-%d\n",
			path, caf.RUTEmpresa, caf.TipoDTE, caf.FolioDesde, caf.FolioHasta)
	}
	os.Exit(exitCode)
}
