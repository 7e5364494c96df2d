package entity

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Estados del documento a lo largo del pipeline de emisión y despacho.
// El estado "enviando" es además el candado de exclusión: a lo sumo un worker
// puede tener un documento en vuelo.
const (
	EstadoGenerado  = "generado"  // XML construido, folio asignado
	EstadoFirmado   = "firmado"   // XML firmado y timbrado
	EstadoEnCola    = "en_cola"   // esperando un worker de despacho
	EstadoEnviando  = "enviando"  // envío al gateway en curso
	EstadoEnviado   = "enviado"   // el gateway recibió el documento
	EstadoAceptado  = "aceptado"  // aceptado por el SII vía gateway
	EstadoRechazado = "rechazado" // rechazo definitivo del SII
	EstadoFallido   = "fallido"   // reintentos agotados; requiere operador
	EstadoAnulado   = "anulado"   // retirado antes del envío
)

// MaxLargoError largo máximo persistido del último error de envío.
const MaxLargoError = 500

// DTE es el Documento Tributario Electrónico emitido: una fila por documento,
// única por (empresa, tipo, folio). Nunca se borra; la anulación es una
// transición de estado.
type DTE struct {
	ID    string
	CAFID string

	// Identificación
	TipoDTE      string
	Folio        int64
	FechaEmision time.Time

	// Emisor
	RUTEmisor         string
	RazonSocialEmisor string
	GiroEmisor        string
	DireccionEmisor   string
	ComunaEmisor      string

	// Receptor
	RUTReceptor         string
	RazonSocialReceptor string
	GiroReceptor        string
	DireccionReceptor   string
	ComunaReceptor      string
	CiudadReceptor      string

	// Montos en pesos (sin decimales al serializar)
	MontoNeto   decimal.Decimal
	MontoExento decimal.Decimal
	MontoIVA    decimal.Decimal
	MontoTotal  decimal.Decimal

	// Solo guías de despacho (52)
	TipoTraslado string

	// Solo notas de crédito/débito (61/56)
	Referencia *ReferenciaDTE

	Detalles []DetalleDTE

	// Artefactos del pipeline. El documento es dueño exclusivo de ellos.
	XMLDTE      string // XML sin firmar
	XMLFirmado  string // XML con ds:Signature
	TEDXML      string // timbre electrónico
	DatosPDF417 string // TED en Base64, contenido del código de barras

	// Despacho
	Estado         string
	Intentos       int
	ProximoIntento *time.Time
	TrackID        string
	GlosaSII       string
	ErrorEnvio     string
	FechaEnvio     *time.Time
	FechaRespuesta *time.Time

	FechaCreacion time.Time
}

// DetalleDTE es una línea de detalle del documento.
type DetalleDTE struct {
	Nombre      string
	Descripcion string
	Codigo      string
	Unidad      string
	Cantidad    decimal.Decimal
	PrecioUnit  decimal.Decimal
	MontoItem   decimal.Decimal
}

// ReferenciaDTE apunta al documento original que una nota corrige o anula.
type ReferenciaDTE struct {
	TipoDocRef string
	FolioRef   int64
	FechaRef   time.Time
	CodRef     string
	RazonRef   string
}

// Despachable indica si el documento puede entrar a la cola de envío.
func (d *DTE) Despachable() bool {
	switch d.Estado {
	case EstadoFirmado, EstadoEnCola, EstadoFallido, EstadoRechazado:
		return true
	}
	return false
}

// Terminal indica si el documento alcanzó un estado final de aceptación.
func (d *DTE) Terminal() bool {
	return d.Estado == EstadoAceptado || d.Estado == EstadoAnulado
}

// IDDocumento devuelve el identificador del elemento Documento dentro del XML
// (ej: F123). Es el mismo valor usado como Reference URI de la firma.
func (d *DTE) IDDocumento(prefijo string) string {
	return prefijo + strconv.FormatInt(d.Folio, 10)
}
