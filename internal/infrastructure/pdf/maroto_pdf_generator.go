// Package pdf implementa la representación impresa de los DTE según el
// formato de muestra del SII.
//
// Layout de la página A4:
//
//	┌──────────────────────────────────────────────────────────────┐
//	│  Razón Social + Giro + Dirección  │  R.U.T. / TIPO / FOLIO   │
//	│  ──────────────────────────────────────────────────────────  │
//	│  RECEPTOR: RUT + Razón Social + Dirección                    │
//	│  ──────────────────────────────────────────────────────────  │
//	│  TABLA: Cant | Detalle | P.Unit | Monto                      │
//	│  TOTALES: Neto / Exento / IVA 19% / TOTAL                    │
//	│  ──────────────────────────────────────────────────────────  │
//	│  [PDF417]  Timbre Electrónico SII                            │
//	│            Res. N° ... de ... - Verifique: www.sii.cl        │
//	└──────────────────────────────────────────────────────────────┘
package pdf

import (
	"context"
	"fmt"

	maroto "github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/image"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/extension"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/pagesize"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"

	"github.com/jhoicas/dte-api/internal/application/impresion"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/pkg/sii"
)

// ── Paleta de colores ─────────────────────────────────────────────────────────

var (
	colorRojoSII = &props.Color{Red: 190, Green: 30, Blue: 45}
	colorGris    = &props.Color{Red: 100, Green: 100, Blue: 100}
)

var _ impresion.GeneradorPDF = (*MarotoPDFGenerator)(nil)

// MarotoPDFGenerator implementa impresion.GeneradorPDF usando Maroto v2.
type MarotoPDFGenerator struct{}

// NewMarotoPDFGenerator construye el generador.
func NewMarotoPDFGenerator() *MarotoPDFGenerator { return &MarotoPDFGenerator{} }

// GenerarDTEPDF genera el PDF y devuelve sus bytes.
func (g *MarotoPDFGenerator) GenerarDTEPDF(
	_ context.Context,
	d *entity.DTE,
	timbrePNG []byte,
	datos impresion.DatosImpresion,
) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageSize(pagesize.A4).
		WithLeftMargin(10).WithRightMargin(10).
		WithTopMargin(10).WithBottomMargin(10).
		WithDefaultFont(&props.Font{Family: "helvetica", Size: 9}).
		WithTitle(sii.NombreTipoDTE[d.TipoDTE], true).
		WithAuthor(d.RazonSocialEmisor, true).
		Build()

	m := maroto.New(cfg)

	m.AddRows(headerRow(d))
	m.AddRows(line.NewRow(1, props.Line{Color: colorRojoSII, Thickness: 0.5}))
	m.AddRows(receptorRow(d))
	m.AddRows(line.NewRow(1, props.Line{Color: colorGris, Thickness: 0.3}))

	m.AddRows(tableHeaderRow())
	for _, r := range tableDetailRows(d.Detalles) {
		m.AddRows(r)
	}

	m.AddRows(line.NewRow(1, props.Line{Color: colorGris, Thickness: 0.3}))
	m.AddRows(totalsRow(d))

	m.AddRows(line.NewRow(3))
	for _, r := range timbreRows(timbrePNG, datos) {
		m.AddRows(r)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("pdf: generar documento: %w", err)
	}
	return doc.GetBytes(), nil
}

// ── Secciones ─────────────────────────────────────────────────────────────────

// headerRow: emisor a la izquierda, recuadro rojo SII a la derecha.
func headerRow(d *entity.DTE) core.Row {
	return row.New(24).Add(
		col.New(7).Add(
			text.New(d.RazonSocialEmisor, props.Text{
				Style: fontstyle.Bold, Size: 12, Top: 1,
			}),
			text.New(d.GiroEmisor, props.Text{Size: 8, Top: 8, Color: colorGris}),
			text.New(fmt.Sprintf("%s, %s", d.DireccionEmisor, d.ComunaEmisor), props.Text{
				Size: 8, Top: 13, Color: colorGris,
			}),
		),
		col.New(5).Add(
			text.New("R.U.T.: "+d.RUTEmisor, props.Text{
				Style: fontstyle.Bold, Size: 10, Align: align.Center,
				Color: colorRojoSII, Top: 2,
			}),
			text.New(nombreImpreso(d.TipoDTE), props.Text{
				Style: fontstyle.Bold, Size: 10, Align: align.Center,
				Color: colorRojoSII, Top: 9,
			}),
			text.New(fmt.Sprintf("N° %d", d.Folio), props.Text{
				Style: fontstyle.Bold, Size: 11, Align: align.Center,
				Color: colorRojoSII, Top: 16,
			}),
		),
	)
}

// receptorRow: datos del receptor y fecha de emisión.
func receptorRow(d *entity.DTE) core.Row {
	return row.New(16).Add(
		col.New(8).Add(
			text.New("SEÑOR(ES): "+d.RazonSocialReceptor, props.Text{
				Style: fontstyle.Bold, Size: 9, Top: 1,
			}),
			text.New("R.U.T.: "+d.RUTReceptor+"   GIRO: "+nonEmpty(d.GiroReceptor, "—"), props.Text{
				Size: 8, Top: 7, Color: colorGris,
			}),
			text.New(fmt.Sprintf("DIRECCIÓN: %s, %s", nonEmpty(d.DireccionReceptor, "—"), d.ComunaReceptor), props.Text{
				Size: 8, Top: 12, Color: colorGris,
			}),
		),
		col.New(4).Add(
			text.New("FECHA EMISIÓN", props.Text{
				Style: fontstyle.Bold, Size: 8, Align: align.Right, Top: 1,
			}),
			text.New(d.FechaEmision.Format("02/01/2006"), props.Text{
				Size: 9, Align: align.Right, Top: 7,
			}),
		),
	)
}

func tableHeaderRow() core.Row {
	h := func(label string, size int, a align.Type) core.Col {
		return col.New(size).Add(text.New(label, props.Text{
			Style: fontstyle.Bold, Size: 8, Align: a, Top: 2, Left: 1, Right: 1,
		}))
	}
	return row.New(8).Add(
		h("Cant.", 1, align.Center),
		h("Detalle", 6, align.Left),
		h("P. Unitario", 2, align.Right),
		h("Monto", 3, align.Right),
	)
}

func tableDetailRows(detalles []entity.DetalleDTE) []core.Row {
	result := make([]core.Row, 0, len(detalles))
	for _, det := range detalles {
		result = append(result, row.New(7).Add(
			col.New(1).Add(text.New(
				det.Cantidad.String(),
				props.Text{Size: 8, Align: align.Center, Top: 1},
			)),
			col.New(6).Add(text.New(
				det.Nombre,
				props.Text{Size: 8, Align: align.Left, Top: 1, Left: 1},
			)),
			col.New(2).Add(text.New(
				"$"+formatMoney(det.PrecioUnit.StringFixed(0)),
				props.Text{Size: 8, Align: align.Right, Top: 1, Right: 1},
			)),
			col.New(3).Add(text.New(
				"$"+formatMoney(det.MontoItem.StringFixed(0)),
				props.Text{Size: 8, Align: align.Right, Top: 1, Right: 1},
			)),
		))
	}
	return result
}

// totalsRow: neto, exento, IVA y total. Las líneas en cero no se muestran
// salvo el total.
func totalsRow(d *entity.DTE) core.Row {
	label := func(s string, top float64) core.Component {
		return text.New(s, props.Text{
			Style: fontstyle.Bold, Size: 9, Align: align.Right, Right: 2, Top: top,
		})
	}
	value := func(s string, top float64) core.Component {
		return text.New(s, props.Text{Size: 9, Align: align.Right, Right: 1, Top: top})
	}

	var labels, values []core.Component
	top := 1.0
	add := func(l, v string) {
		labels = append(labels, label(l, top))
		values = append(values, value(v, top))
		top += 5
	}
	if !d.MontoNeto.IsZero() {
		add("NETO:", "$"+formatMoney(d.MontoNeto.StringFixed(0)))
	}
	if !d.MontoExento.IsZero() {
		add("EXENTO:", "$"+formatMoney(d.MontoExento.StringFixed(0)))
	}
	if !d.MontoIVA.IsZero() {
		add(fmt.Sprintf("IVA %d%%:", sii.TasaIVAPercent), "$"+formatMoney(d.MontoIVA.StringFixed(0)))
	}
	add("TOTAL:", "$"+formatMoney(d.MontoTotal.StringFixed(0)))

	return row.New(top + 5).Add(
		col.New(6),
		col.New(3).Add(labels...),
		col.New(3).Add(values...),
	)
}

// timbreRows: PDF417 del TED + leyenda de resolución.
func timbreRows(timbrePNG []byte, datos impresion.DatosImpresion) []core.Row {
	anio := datos.ResolucionFecha
	if len(anio) >= 4 {
		anio = anio[:4]
	}
	return []core.Row{
		row.New(30).Add(
			col.New(6).Add(image.NewFromBytes(timbrePNG, extension.Png, props.Rect{
				Percent: 95,
				Center:  true,
			})),
			col.New(6),
		),
		row.New(10).Add(
			col.New(6).Add(
				text.New("Timbre Electrónico SII", props.Text{
					Style: fontstyle.Bold, Size: 8, Align: align.Center, Top: 1,
				}),
				text.New(fmt.Sprintf("Res. N° %s de %s - Verifique documento: www.sii.cl", datos.ResolucionNumero, anio), props.Text{
					Size: 7, Align: align.Center, Top: 5, Color: colorGris,
				}),
			),
			col.New(6),
		),
	}
}

// ── helpers ───────────────────────────────────────────────────────────────────

// nombreImpreso devuelve el nombre del tipo en mayúsculas para el recuadro.
func nombreImpreso(tipoDTE string) string {
	switch tipoDTE {
	case sii.TipoFactura:
		return "FACTURA ELECTRÓNICA"
	case sii.TipoFacturaExenta:
		return "FACTURA NO AFECTA O EXENTA ELECTRÓNICA"
	case sii.TipoBoleta:
		return "BOLETA ELECTRÓNICA"
	case sii.TipoBoletaExenta:
		return "BOLETA NO AFECTA O EXENTA ELECTRÓNICA"
	case sii.TipoGuiaDespacho:
		return "GUÍA DE DESPACHO ELECTRÓNICA"
	case sii.TipoNotaDebito:
		return "NOTA DE DÉBITO ELECTRÓNICA"
	case sii.TipoNotaCredito:
		return "NOTA DE CRÉDITO ELECTRÓNICA"
	}
	return "DOCUMENTO TRIBUTARIO ELECTRÓNICO"
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

// formatMoney inserta puntos de miles en un string numérico sin decimales.
// Ej: "25000" → "25.000", "1000000" → "1.000.000"
func formatMoney(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}
	buf := make([]byte, 0, n+n/3)
	for i, c := range []byte(s) {
		if i > 0 && (n-i)%3 == 0 {
			buf = append(buf, '.')
		}
		buf = append(buf, c)
	}
	return string(buf)
}
