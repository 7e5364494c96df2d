package sii_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/dte-api/internal/domain/sii"
)

// TestCalculate_DocumentoAfecto verifica el caso típico de una factura afecta:
// neto = suma de líneas, IVA = 19% redondeado al peso, total = neto + IVA.
func TestCalculate_DocumentoAfecto(t *testing.T) {
	svc := sii.NewTotalesService()

	lineas := []sii.LineaCalculo{
		{Cantidad: decimal.NewFromInt(2), PrecioUnitario: decimal.NewFromInt(15_000)},
		{Cantidad: decimal.NewFromInt(1), PrecioUnitario: decimal.NewFromInt(9_990)},
	}

	tot, err := svc.Calculate(lineas, false)
	require.NoError(t, err)

	assert.True(t, decimal.NewFromInt(39_990).Equal(tot.MontoNeto),
		"neto = 2×15000 + 9990 = 39990, obtuvo %s", tot.MontoNeto)
	assert.True(t, decimal.NewFromInt(7_598).Equal(tot.MontoIVA),
		"IVA = round(39990 × 0.19) = round(7598.1) = 7598, obtuvo %s", tot.MontoIVA)
	assert.True(t, decimal.NewFromInt(47_588).Equal(tot.MontoTotal))
	assert.True(t, tot.MontoExento.IsZero())
}

// TestCalculate_RedondeoIVAAlPeso verifica que el IVA se redondea al peso más
// cercano y no se trunca: 0.5 sube.
func TestCalculate_RedondeoIVAAlPeso(t *testing.T) {
	svc := sii.NewTotalesService()

	// neto 1450 -> IVA exacto 275.50 -> redondeado 276
	lineas := []sii.LineaCalculo{
		{Cantidad: decimal.NewFromInt(1), PrecioUnitario: decimal.NewFromInt(1_450)},
	}

	tot, err := svc.Calculate(lineas, false)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(276).Equal(tot.MontoIVA),
		"IVA de 1450 debe redondear 275.5 a 276, obtuvo %s", tot.MontoIVA)
	assert.True(t, decimal.NewFromInt(1_726).Equal(tot.MontoTotal))
}

// TestCalculate_DocumentoExento verifica que en tipos exentos (34, 41) todas
// las líneas van al monto exento aunque no traigan la marca por línea.
func TestCalculate_DocumentoExento(t *testing.T) {
	svc := sii.NewTotalesService()

	lineas := []sii.LineaCalculo{
		{Cantidad: decimal.NewFromInt(3), PrecioUnitario: decimal.NewFromInt(5_000)},
		{Cantidad: decimal.NewFromInt(1), PrecioUnitario: decimal.NewFromInt(2_500), Exenta: false},
	}

	tot, err := svc.Calculate(lineas, true)
	require.NoError(t, err)

	assert.True(t, tot.MontoNeto.IsZero(), "un documento exento no lleva neto")
	assert.True(t, tot.MontoIVA.IsZero(), "un documento exento no lleva IVA")
	assert.True(t, decimal.NewFromInt(17_500).Equal(tot.MontoExento))
	assert.True(t, decimal.NewFromInt(17_500).Equal(tot.MontoTotal))
}

// TestCalculate_LineaExentaEnDocumentoAfecto verifica la mezcla: la línea
// marcada exenta suma al exento, el resto al neto, y el total incluye ambos.
func TestCalculate_LineaExentaEnDocumentoAfecto(t *testing.T) {
	svc := sii.NewTotalesService()

	lineas := []sii.LineaCalculo{
		{Cantidad: decimal.NewFromInt(1), PrecioUnitario: decimal.NewFromInt(10_000)},
		{Cantidad: decimal.NewFromInt(1), PrecioUnitario: decimal.NewFromInt(4_000), Exenta: true},
	}

	tot, err := svc.Calculate(lineas, false)
	require.NoError(t, err)

	assert.True(t, decimal.NewFromInt(10_000).Equal(tot.MontoNeto))
	assert.True(t, decimal.NewFromInt(4_000).Equal(tot.MontoExento))
	assert.True(t, decimal.NewFromInt(1_900).Equal(tot.MontoIVA))
	assert.True(t, decimal.NewFromInt(15_900).Equal(tot.MontoTotal))
}

// TestCalculate_CantidadFraccionaria verifica que el monto por línea se
// redondea a pesos enteros (2.5 × 333 = 832.5 -> 833).
func TestCalculate_CantidadFraccionaria(t *testing.T) {
	svc := sii.NewTotalesService()

	lineas := []sii.LineaCalculo{
		{Cantidad: decimal.NewFromFloat(2.5), PrecioUnitario: decimal.NewFromInt(333)},
	}

	tot, err := svc.Calculate(lineas, false)
	require.NoError(t, err)
	require.Len(t, tot.MontosItem, 1)
	assert.True(t, decimal.NewFromInt(833).Equal(tot.MontosItem[0]),
		"el monto de línea debe ir en pesos enteros, obtuvo %s", tot.MontosItem[0])
}

// ── Errores de validación ─────────────────────────────────────────────────────

func TestCalculate_ErrorSinLineas(t *testing.T) {
	svc := sii.NewTotalesService()
	_, err := svc.Calculate(nil, false)
	assert.Error(t, err, "Calculate sin líneas debe retornar error")
}

func TestCalculate_ErrorCantidadCero(t *testing.T) {
	svc := sii.NewTotalesService()
	lineas := []sii.LineaCalculo{
		{Cantidad: decimal.Zero, PrecioUnitario: decimal.NewFromInt(100)},
	}
	_, err := svc.Calculate(lineas, false)
	assert.Error(t, err, "una línea con cantidad cero debe retornar error")
}

func TestCalculate_ErrorPrecioNegativo(t *testing.T) {
	svc := sii.NewTotalesService()
	lineas := []sii.LineaCalculo{
		{Cantidad: decimal.NewFromInt(1), PrecioUnitario: decimal.NewFromInt(-10)},
	}
	_, err := svc.Calculate(lineas, false)
	assert.Error(t, err, "una línea con precio negativo debe retornar error")
}
