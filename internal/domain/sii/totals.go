// Package sii: cálculo de totales de un DTE según el formato del SII.
// Los montos van en pesos enteros; el IVA se redondea al peso más cercano.

package sii

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// TasaIVA es la tasa vigente de IVA en Chile (porcentaje).
var TasaIVA = decimal.NewFromInt(19)

var cien = decimal.NewFromInt(100)

// LineaCalculo son los datos mínimos de un ítem para calcular totales.
type LineaCalculo struct {
	Cantidad       decimal.Decimal
	PrecioUnitario decimal.Decimal
	Exenta         bool // ítem exento dentro de un documento afecto
}

// Totales es el resultado del cálculo: los cuatro montos del Encabezado
// más el monto redondeado de cada línea, en el mismo orden de entrada.
type Totales struct {
	MontoNeto   decimal.Decimal
	MontoExento decimal.Decimal
	MontoIVA    decimal.Decimal
	MontoTotal  decimal.Decimal
	MontosItem  []decimal.Decimal
}

// TotalesService calcula los totales de un documento a partir de sus líneas.
type TotalesService struct{}

// NewTotalesService crea el servicio.
func NewTotalesService() *TotalesService {
	return &TotalesService{}
}

// Calculate suma las líneas y deriva neto, exento, IVA y total.
// Si exento es true (tipos 34 y 41) todas las líneas van al monto exento y
// el IVA queda en cero, sin importar la marca por línea.
// MontoItem = round(cantidad × precio); IVA = round(neto × tasa / 100);
// MontoTotal = neto + exento + IVA.
func (s *TotalesService) Calculate(lineas []LineaCalculo, exento bool) (*Totales, error) {
	if len(lineas) == 0 {
		return nil, fmt.Errorf("sii: el documento no tiene líneas de detalle")
	}

	t := &Totales{
		MontoNeto:   decimal.Zero,
		MontoExento: decimal.Zero,
		MontosItem:  make([]decimal.Decimal, 0, len(lineas)),
	}
	for i, l := range lineas {
		if !l.Cantidad.IsPositive() {
			return nil, fmt.Errorf("sii: línea %d: la cantidad debe ser mayor que cero", i+1)
		}
		if l.PrecioUnitario.IsNegative() {
			return nil, fmt.Errorf("sii: línea %d: el precio unitario no puede ser negativo", i+1)
		}
		monto := l.Cantidad.Mul(l.PrecioUnitario).Round(0)
		t.MontosItem = append(t.MontosItem, monto)
		if exento || l.Exenta {
			t.MontoExento = t.MontoExento.Add(monto)
		} else {
			t.MontoNeto = t.MontoNeto.Add(monto)
		}
	}

	t.MontoIVA = t.MontoNeto.Mul(TasaIVA).Div(cien).Round(0)
	t.MontoTotal = t.MontoNeto.Add(t.MontoExento).Add(t.MontoIVA)
	return t, nil
}
