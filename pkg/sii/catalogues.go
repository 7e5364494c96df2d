// Package sii contiene catálogos y validaciones alineados al formato de
// Documentos Tributarios Electrónicos del SII (Chile).
package sii

// =============================================================================
// Tipos de DTE soportados (Resolución Exenta SII, formato DTE v1.0)
// =============================================================================

const (
	TipoFactura       = "33" // Factura Electrónica
	TipoFacturaExenta = "34" // Factura Exenta Electrónica
	TipoBoleta        = "39" // Boleta Electrónica
	TipoBoletaExenta  = "41" // Boleta Exenta Electrónica
	TipoGuiaDespacho  = "52" // Guía de Despacho Electrónica
	TipoNotaDebito    = "56" // Nota de Débito Electrónica
	TipoNotaCredito   = "61" // Nota de Crédito Electrónica
)

// NombreTipoDTE nombres legibles por tipo de documento.
var NombreTipoDTE = map[string]string{
	TipoFactura:       "Factura Electrónica",
	TipoFacturaExenta: "Factura Exenta Electrónica",
	TipoBoleta:        "Boleta Electrónica",
	TipoBoletaExenta:  "Boleta Exenta Electrónica",
	TipoGuiaDespacho:  "Guía de Despacho Electrónica",
	TipoNotaDebito:    "Nota de Débito Electrónica",
	TipoNotaCredito:   "Nota de Crédito Electrónica",
}

// EsTipoSoportado indica si el código corresponde a un tipo de DTE que el
// sistema emite.
func EsTipoSoportado(tipo string) bool {
	_, ok := NombreTipoDTE[tipo]
	return ok
}

// EsExento indica si el tipo de documento no lleva IVA (solo monto exento).
func EsExento(tipo string) bool {
	return tipo == TipoFacturaExenta || tipo == TipoBoletaExenta
}

// RequiereReferencia indica si el tipo exige referencia obligatoria al
// documento original (notas de crédito y débito).
func RequiereReferencia(tipo string) bool {
	return tipo == TipoNotaCredito || tipo == TipoNotaDebito
}

// PrefijoID devuelve el prefijo del atributo ID del elemento Documento,
// usado como destino de la Reference en la firma (ej: F123, NC45).
func PrefijoID(tipo string) string {
	switch tipo {
	case TipoBoleta, TipoBoletaExenta:
		return "B"
	case TipoGuiaDespacho:
		return "G"
	case TipoNotaDebito:
		return "ND"
	case TipoNotaCredito:
		return "NC"
	default:
		return "F"
	}
}

// =============================================================================
// IndTraslado - motivos de traslado para Guías de Despacho (tipo 52)
// =============================================================================

const (
	TrasladoVenta           = "1" // Operación constituye venta
	TrasladoVentaAnticipada = "2" // Venta por efectuar (anticipada)
	TrasladoConsignacion    = "3" // Consignación
	TrasladoDevolucion      = "4" // Devolución
	TrasladoInterno         = "5" // Traslado interno
	TrasladoTransformacion  = "6" // Transformación de productos
	TrasladoEntregaGratuita = "7" // Entrega gratuita
	TrasladoOtros           = "8" // Otros
)

// ValidTrasladoCodes códigos de traslado aceptados por el SII en IndTraslado.
var ValidTrasladoCodes = map[string]bool{
	TrasladoVenta: true, TrasladoVentaAnticipada: true, TrasladoConsignacion: true,
	TrasladoDevolucion: true, TrasladoInterno: true, TrasladoTransformacion: true,
	TrasladoEntregaGratuita: true, TrasladoOtros: true,
}

// =============================================================================
// Códigos de referencia para Notas de Crédito/Débito (CodRef)
// =============================================================================

const (
	RefAnula        = "1" // Anula documento de referencia
	RefCorrigeTexto = "2" // Corrige texto del documento de referencia
	RefCorrigeMonto = "3" // Corrige monto del documento de referencia
)

// =============================================================================
// IVA y unidades
// =============================================================================

// TasaIVAPercent tasa de IVA vigente en Chile (porcentaje entero).
const TasaIVAPercent = 19

// UnidadPorDefecto unidad de medida por defecto en líneas de detalle.
const UnidadPorDefecto = "UN"

// =============================================================================
// Largos máximos de campos de texto (formato DTE SII). El excedente se trunca
// en silencio, nunca es error.
// =============================================================================

const (
	MaxRazonSocial    = 100  // RznSoc / RS
	MaxGiro           = 80   // GiroEmis
	MaxGiroReceptor   = 40   // GiroRecep
	MaxDireccion      = 70   // DirOrigen / DirRecep / DirDest
	MaxComuna         = 20   // CmnaOrigen / CmnaRecep / CmnaDest
	MaxCiudad         = 20   // CiudadOrigen / CiudadRecep
	MaxNombreItem     = 80   // NmbItem
	MaxDescripcion    = 1000 // DscItem
	MaxRazonRef       = 90   // RazonRef
	MaxReceptorTimbre = 40   // RSR dentro del TED
	MaxItemTimbre     = 40   // IT1 dentro del TED
	MaxNombreChofer   = 40   // NombreTransp
	MaxPatente        = 8    // Patente
)

// Truncate corta s al máximo de caracteres indicado, contando runas para no
// partir caracteres acentuados a la mitad.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
