// Construcción del XML DTE (formato SII v1.0). Un builder por tipo de
// documento, seleccionado por una fábrica sobre el código de tipo.

package sii

import (
	"fmt"
	"strconv"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/pkg/logger"
	"github.com/jhoicas/dte-api/pkg/sii"
)

// NamespaceSII es el namespace del esquema DTE del SII.
const NamespaceSII = "http://www.sii.cl/SiiDte"

// formato de fechas en el XML DTE (solo fecha, sin hora).
const formatoFecha = "2006-01-02"

// DocumentoBuilder construye el XML sin firmar de un tipo de documento.
type DocumentoBuilder interface {
	// Build genera el documento completo en ISO-8859-1, con el elemento
	// Documento identificado por <prefijo><folio> para la firma posterior.
	Build(d *entity.DTE) ([]byte, error)
}

// NewDocumentoBuilder devuelve el builder del tipo indicado, o
// ErrTipoDTENoSoportado si el código no corresponde a un tipo emitible.
func NewDocumentoBuilder(tipoDTE string, log *logger.Logger) (DocumentoBuilder, error) {
	base := builderBase{tipo: tipoDTE, log: log}
	switch tipoDTE {
	case sii.TipoFactura, sii.TipoFacturaExenta:
		return &facturaBuilder{builderBase: base}, nil
	case sii.TipoBoleta, sii.TipoBoletaExenta:
		return &boletaBuilder{builderBase: base}, nil
	case sii.TipoGuiaDespacho:
		return &guiaBuilder{builderBase: base}, nil
	case sii.TipoNotaDebito, sii.TipoNotaCredito:
		return &notaBuilder{builderBase: base}, nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrTipoDTENoSoportado, tipoDTE)
	}
}

// ConstructorService selecciona el builder según el tipo del documento y
// delega la construcción. Es la cara del paquete hacia el caso de uso de
// emisión.
type ConstructorService struct {
	log *logger.Logger
}

// NewConstructorService construye el servicio.
func NewConstructorService(log *logger.Logger) *ConstructorService {
	return &ConstructorService{log: log}
}

// Construir genera el XML sin firmar del documento.
func (s *ConstructorService) Construir(d *entity.DTE) ([]byte, error) {
	b, err := NewDocumentoBuilder(d.TipoDTE, s.log)
	if err != nil {
		return nil, err
	}
	return b.Build(d)
}

// ── Base compartida ───────────────────────────────────────────────────────────

// builderBase concentra las secciones comunes a todos los tipos: IdDoc,
// Emisor, Receptor, Totales y Detalle.
type builderBase struct {
	tipo string
	log  *logger.Logger
}

func (b *builderBase) validar(d *entity.DTE) error {
	if d == nil {
		return fmt.Errorf("sii: documento nil")
	}
	if d.Folio <= 0 {
		return fmt.Errorf("sii: folio inválido %d", d.Folio)
	}
	if err := sii.ValidateRUT(d.RUTEmisor); err != nil {
		return fmt.Errorf("RUT emisor %q: %w", d.RUTEmisor, err)
	}
	if err := sii.ValidateRUT(d.RUTReceptor); err != nil {
		return fmt.Errorf("RUT receptor %q: %w", d.RUTReceptor, err)
	}
	if len(d.Detalles) == 0 {
		return fmt.Errorf("sii: el documento no tiene líneas de detalle")
	}
	return nil
}

// nuevoDocumento crea el esqueleto DTE/Documento con el atributo ID que luego
// referencia la firma.
func (b *builderBase) nuevoDocumento(d *entity.DTE) (*etree.Document, *etree.Element) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="ISO-8859-1"`)
	dte := doc.CreateElement("DTE")
	dte.CreateAttr("version", "1.0")
	dte.CreateAttr("xmlns", NamespaceSII)
	documento := dte.CreateElement("Documento")
	documento.CreateAttr("ID", d.IDDocumento(sii.PrefijoID(b.tipo)))
	return doc, documento
}

func (b *builderBase) escribirIdDoc(enc *etree.Element, d *entity.DTE) *etree.Element {
	idDoc := enc.CreateElement("IdDoc")
	idDoc.CreateElement("TipoDTE").SetText(b.tipo)
	idDoc.CreateElement("Folio").SetText(strconv.FormatInt(d.Folio, 10))
	idDoc.CreateElement("FchEmis").SetText(d.FechaEmision.Format(formatoFecha))
	return idDoc
}

func (b *builderBase) escribirEmisor(enc *etree.Element, d *entity.DTE) {
	e := enc.CreateElement("Emisor")
	e.CreateElement("RUTEmisor").SetText(sii.FormatRUT(d.RUTEmisor))
	e.CreateElement("RznSoc").SetText(sii.Truncate(d.RazonSocialEmisor, sii.MaxRazonSocial))
	e.CreateElement("GiroEmis").SetText(sii.Truncate(d.GiroEmisor, sii.MaxGiro))
	e.CreateElement("DirOrigen").SetText(sii.Truncate(d.DireccionEmisor, sii.MaxDireccion))
	e.CreateElement("CmnaOrigen").SetText(sii.Truncate(d.ComunaEmisor, sii.MaxComuna))
}

func (b *builderBase) escribirReceptor(enc *etree.Element, d *entity.DTE) {
	r := enc.CreateElement("Receptor")
	r.CreateElement("RUTRecep").SetText(sii.FormatRUT(d.RUTReceptor))
	r.CreateElement("RznSocRecep").SetText(sii.Truncate(d.RazonSocialReceptor, sii.MaxRazonSocial))
	if d.GiroReceptor != "" {
		r.CreateElement("GiroRecep").SetText(sii.Truncate(d.GiroReceptor, sii.MaxGiroReceptor))
	}
	if d.DireccionReceptor != "" {
		r.CreateElement("DirRecep").SetText(sii.Truncate(d.DireccionReceptor, sii.MaxDireccion))
	}
	if d.ComunaReceptor != "" {
		r.CreateElement("CmnaRecep").SetText(sii.Truncate(d.ComunaReceptor, sii.MaxComuna))
	}
	if d.CiudadReceptor != "" {
		r.CreateElement("CiudadRecep").SetText(sii.Truncate(d.CiudadReceptor, sii.MaxCiudad))
	}
}

// escribirTotales emite los montos del Encabezado. Los tipos exentos (34, 41)
// llevan solo MntExe; los afectos llevan MntNeto e IVA y, si hay mezcla,
// también MntExe. Todos los montos van en pesos enteros.
func (b *builderBase) escribirTotales(enc *etree.Element, d *entity.DTE) {
	t := enc.CreateElement("Totales")
	if sii.EsExento(b.tipo) {
		t.CreateElement("MntExe").SetText(monto(d.MontoExento))
	} else {
		t.CreateElement("MntNeto").SetText(monto(d.MontoNeto))
		if d.MontoExento.IsPositive() {
			t.CreateElement("MntExe").SetText(monto(d.MontoExento))
		}
		t.CreateElement("TasaIVA").SetText(strconv.Itoa(sii.TasaIVAPercent))
		t.CreateElement("IVA").SetText(monto(d.MontoIVA))
	}
	t.CreateElement("MntTotal").SetText(monto(d.MontoTotal))
}

func (b *builderBase) escribirDetalles(documento *etree.Element, d *entity.DTE) {
	for i, det := range d.Detalles {
		linea := documento.CreateElement("Detalle")
		linea.CreateElement("NroLinDet").SetText(strconv.Itoa(i + 1))
		if det.Codigo != "" {
			cdg := linea.CreateElement("CdgItem")
			cdg.CreateElement("TpoCodigo").SetText("INT1")
			cdg.CreateElement("VlrCodigo").SetText(det.Codigo)
		}
		linea.CreateElement("NmbItem").SetText(sii.Truncate(det.Nombre, sii.MaxNombreItem))
		if det.Descripcion != "" {
			linea.CreateElement("DscItem").SetText(sii.Truncate(det.Descripcion, sii.MaxDescripcion))
		}
		linea.CreateElement("QtyItem").SetText(det.Cantidad.StringFixed(4))
		unidad := det.Unidad
		if unidad == "" {
			unidad = sii.UnidadPorDefecto
		}
		linea.CreateElement("UnmdItem").SetText(unidad)
		linea.CreateElement("PrcItem").SetText(monto(det.PrecioUnit))
		linea.CreateElement("MontoItem").SetText(monto(det.MontoItem))
	}
}

func (b *builderBase) escribirReferencia(documento *etree.Element, ref *entity.ReferenciaDTE) {
	r := documento.CreateElement("Referencia")
	r.CreateElement("NroLinRef").SetText("1")
	r.CreateElement("TpoDocRef").SetText(ref.TipoDocRef)
	r.CreateElement("FolioRef").SetText(strconv.FormatInt(ref.FolioRef, 10))
	r.CreateElement("FchRef").SetText(ref.FechaRef.Format(formatoFecha))
	if ref.CodRef != "" {
		r.CreateElement("CodRef").SetText(ref.CodRef)
	}
	if ref.RazonRef != "" {
		r.CreateElement("RazonRef").SetText(sii.Truncate(ref.RazonRef, sii.MaxRazonRef))
	}
}

// serializar produce los bytes finales en ISO-8859-1, sin sangría entre
// elementos para no alterar el contenido firmable.
func (b *builderBase) serializar(doc *etree.Document) ([]byte, error) {
	doc.Indent(etree.NoIndent)
	raw, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("sii: serializar XML: %w", err)
	}
	return CodificarLatin1(raw)
}

// monto serializa un valor monetario como entero en pesos.
func monto(d decimal.Decimal) string {
	return d.Round(0).StringFixed(0)
}

// ── Factura (33) y factura exenta (34) ────────────────────────────────────────

type facturaBuilder struct {
	builderBase
}

func (b *facturaBuilder) Build(d *entity.DTE) ([]byte, error) {
	if err := b.validar(d); err != nil {
		return nil, err
	}
	doc, documento := b.nuevoDocumento(d)
	enc := documento.CreateElement("Encabezado")
	b.escribirIdDoc(enc, d)
	b.escribirEmisor(enc, d)
	b.escribirReceptor(enc, d)
	b.escribirTotales(enc, d)
	b.escribirDetalles(documento, d)
	// Las facturas admiten referencia opcional (ej: orden de compra).
	if d.Referencia != nil {
		b.escribirReferencia(documento, d.Referencia)
	}
	return b.serializar(doc)
}

// ── Boleta (39) y boleta exenta (41) ──────────────────────────────────────────

// boletaBuilder difiere de la factura en los nombres de campos del emisor
// (RznSocEmisor/GiroEmisor) y en el IndServicio obligatorio del IdDoc.
type boletaBuilder struct {
	builderBase
}

func (b *boletaBuilder) Build(d *entity.DTE) ([]byte, error) {
	if err := b.validar(d); err != nil {
		return nil, err
	}
	doc, documento := b.nuevoDocumento(d)
	enc := documento.CreateElement("Encabezado")

	idDoc := b.escribirIdDoc(enc, d)
	// 3 = boleta de venta y servicios
	idDoc.CreateElement("IndServicio").SetText("3")

	e := enc.CreateElement("Emisor")
	e.CreateElement("RUTEmisor").SetText(sii.FormatRUT(d.RUTEmisor))
	e.CreateElement("RznSocEmisor").SetText(sii.Truncate(d.RazonSocialEmisor, sii.MaxRazonSocial))
	e.CreateElement("GiroEmisor").SetText(sii.Truncate(d.GiroEmisor, sii.MaxGiro))
	e.CreateElement("DirOrigen").SetText(sii.Truncate(d.DireccionEmisor, sii.MaxDireccion))
	e.CreateElement("CmnaOrigen").SetText(sii.Truncate(d.ComunaEmisor, sii.MaxComuna))

	b.escribirReceptor(enc, d)
	b.escribirTotales(enc, d)
	b.escribirDetalles(documento, d)
	return b.serializar(doc)
}

// ── Guía de despacho (52) ─────────────────────────────────────────────────────

type guiaBuilder struct {
	builderBase
}

func (b *guiaBuilder) Build(d *entity.DTE) ([]byte, error) {
	if err := b.validar(d); err != nil {
		return nil, err
	}
	doc, documento := b.nuevoDocumento(d)
	enc := documento.CreateElement("Encabezado")

	idDoc := b.escribirIdDoc(enc, d)
	idDoc.CreateElement("IndTraslado").SetText(b.indTraslado(d))

	b.escribirEmisor(enc, d)
	b.escribirReceptor(enc, d)
	b.escribirTotales(enc, d)

	// Destino del traslado: la dirección del receptor.
	tr := enc.CreateElement("Transporte")
	tr.CreateElement("DirDest").SetText(sii.Truncate(d.DireccionReceptor, sii.MaxDireccion))
	tr.CreateElement("CmnaDest").SetText(sii.Truncate(d.ComunaReceptor, sii.MaxComuna))
	tr.CreateElement("CiudadDest").SetText(sii.Truncate(d.CiudadReceptor, sii.MaxCiudad))

	b.escribirDetalles(documento, d)
	return b.serializar(doc)
}

// indTraslado resuelve el motivo de traslado. Sin motivo explícito se asume
// venta (código 1) y se deja registro, porque el código tiene consecuencias
// tributarias. Un código fuera de la enumeración se emite tal cual: la
// corrección ocurre recién al preparar el envío al gateway.
func (b *guiaBuilder) indTraslado(d *entity.DTE) string {
	if d.TipoTraslado == "" {
		b.log.Warn().
			Int64("folio", d.Folio).
			Str("rut_emisor", d.RUTEmisor).
			Msg("guía sin motivo de traslado: se asume venta (IndTraslado=1)")
		return sii.TrasladoVenta
	}
	if !sii.ValidTrasladoCodes[d.TipoTraslado] {
		b.log.Warn().
			Int64("folio", d.Folio).
			Str("ind_traslado", d.TipoTraslado).
			Msg("guía con motivo de traslado fuera de la enumeración del SII")
	}
	return d.TipoTraslado
}

// ── Notas de débito (56) y crédito (61) ───────────────────────────────────────

type notaBuilder struct {
	builderBase
}

func (b *notaBuilder) Build(d *entity.DTE) ([]byte, error) {
	if err := b.validar(d); err != nil {
		return nil, err
	}
	if d.Referencia == nil {
		return nil, fmt.Errorf("%w: tipo %s folio %d", domain.ErrReferenciaFaltante, b.tipo, d.Folio)
	}
	doc, documento := b.nuevoDocumento(d)
	enc := documento.CreateElement("Encabezado")
	b.escribirIdDoc(enc, d)
	b.escribirEmisor(enc, d)
	b.escribirReceptor(enc, d)
	b.escribirTotales(enc, d)
	b.escribirDetalles(documento, d)
	b.escribirReferencia(documento, d.Referencia)
	return b.serializar(doc)
}
