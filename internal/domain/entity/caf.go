package entity

import "time"

// Estados del ciclo de vida de un CAF.
const (
	CAFActivo  = "activo"
	CAFAgotado = "agotado"
	CAFVencido = "vencido"
	CAFAnulado = "anulado"
)

// VigenciaCAF es la ventana de validez de un CAF desde su fecha de
// autorización. El SII autoriza folios por 6 meses.
const VigenciaCAF = 180 * 24 * time.Hour

// CAF representa un rango de folios autorizado por el SII (Código de
// Autorización de Folios) para una empresa y un tipo de documento.
type CAF struct {
	ID             string
	RUTEmpresa     string
	RazonSocial    string
	TipoDTE        string
	FolioDesde     int64
	FolioHasta     int64
	CantidadFolios int64

	// Control de uso. FolioActual es el último folio entregado; parte en
	// FolioDesde-1 cuando el CAF está recién importado.
	FoliosUtilizados int64
	FolioActual      int64
	Estado           string

	// Datos criptográficos del archivo de autorización.
	FechaAutorizacion time.Time
	ModuloRSA         string // RSAPK/M en Base64
	ExponenteRSA      string // RSAPK/E en Base64
	IDK               string
	FirmaCAF          string // FRMA: firma del SII sobre el rango
	ContenidoXML      string // archivo CAF completo, tal como llegó
	Huella            string // SHA-256 del contenido, para detectar duplicados

	FechaCarga       time.Time
	FechaAgotamiento *time.Time
}

// FoliosDisponibles calcula cuántos folios quedan por entregar. Usa la
// diferencia contra FolioActual para no reportar un falso cero mientras un
// consumo está en curso.
func (c *CAF) FoliosDisponibles() int64 {
	d := c.FolioHasta - c.FolioActual
	if d < 0 {
		return 0
	}
	return d
}

// Vigente indica si el CAF está dentro de la ventana de 6 meses desde la
// autorización, evaluado contra el instante dado.
func (c *CAF) Vigente(ahora time.Time) bool {
	if c.FechaAutorizacion.IsZero() {
		return false
	}
	return !ahora.After(c.FechaAutorizacion.Add(VigenciaCAF))
}

// FechaVencimiento devuelve el término de la vigencia del CAF.
func (c *CAF) FechaVencimiento() time.Time {
	return c.FechaAutorizacion.Add(VigenciaCAF)
}

// TieneClavePublica indica si el CAF trae el bloque RSAPK completo. Sin él no
// es posible generar un TED válido.
func (c *CAF) TieneClavePublica() bool {
	return c.ModuloRSA != "" && c.ExponenteRSA != ""
}
