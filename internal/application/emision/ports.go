package emision

import (
	"context"
	"crypto/rsa"

	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/domain/repository"
)

// AsignadorFolios entrega el siguiente folio del CAF activo, dentro de la
// transacción del caller. Lo implementa el servicio de folios.
type AsignadorFolios interface {
	AsignarEnTx(ctx context.Context, cafRepo repository.CAFRepository, rutEmpresa, tipoDTE string) (*entity.CAF, int64, error)
}

// ConstructorXML construye el XML sin firmar según el tipo del documento.
type ConstructorXML interface {
	Construir(d *entity.DTE) ([]byte, error)
}

// Timbrador genera el TED (timbre electrónico) del documento.
type Timbrador interface {
	Generar(d *entity.DTE, caf *entity.CAF, priv *rsa.PrivateKey) ([]byte, error)
}

// CodificadorBarras produce el payload persistible del PDF417.
type CodificadorBarras interface {
	Payload(tedXML []byte) string
}

// Encolador entrega un documento firmado a la cola de despacho.
type Encolador interface {
	Encolar(ctx context.Context, dteID string) error
}
