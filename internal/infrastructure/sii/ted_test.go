package sii_test

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/infrastructure/sii"
)

func buildTestCAF() *entity.CAF {
	return &entity.CAF{
		ID:                "caf-test-1",
		RUTEmpresa:        testRUTEmisor,
		RazonSocial:       "Comercial Los Andes SpA",
		TipoDTE:           "33",
		FolioDesde:        100,
		FolioHasta:        200,
		CantidadFolios:    101,
		FolioActual:       122,
		Estado:            entity.CAFActivo,
		FechaAutorizacion: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		ModuloRSA:         "vQnY1Zl8mN0pQrStUvWxYz0123456789abcdef==",
		ExponenteRSA:      "Aw==",
		IDK:               "100",
		FirmaCAF:          "firmaDelRangoEnBase64==",
	}
}

func testPrivateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return priv
}

func TestGenerarTED_EstructuraDD(t *testing.T) {
	svc := sii.NewTimbreService()
	d := buildTestDTE("33")
	caf := buildTestCAF()
	priv := testPrivateKey(t)

	ted, err := svc.Generar(d, caf, priv)
	require.NoError(t, err)

	s := string(ted)
	assert.Contains(t, s, `<TED version="1.0">`)
	assert.Contains(t, s, "<RE>76086428-5</RE>")
	assert.Contains(t, s, "<TD>33</TD>")
	assert.Contains(t, s, "<F>123</F>")
	assert.Contains(t, s, "<FE>2026-08-29</FE>")
	assert.Contains(t, s, "<RR>12345678-5</RR>")
	assert.Contains(t, s, "<MNT>47588</MNT>")
	assert.Contains(t, s, "<IT1>Cuaderno universitario</IT1>")
	assert.Contains(t, s, "<D>100</D>")
	assert.Contains(t, s, "<H>200</H>")
	assert.Contains(t, s, "<M>"+caf.ModuloRSA+"</M>")
	assert.Contains(t, s, "<E>"+caf.ExponenteRSA+"</E>")
	assert.Contains(t, s, `<FRMA algoritmo="SHA1withRSA">`)
	assert.Contains(t, s, `<FRMT algoritmo="SHA1withRSA">`)
	assert.Contains(t, s, "<TSTED>2026-08-29T10:30:00</TSTED>",
		"el TSTED sale del timestamp de emisión almacenado, no del reloj")
}

// TestGenerarTED_Determinista verifica que regenerar el timbre con los mismos
// campos produce bytes idénticos: la firma PKCS#1 v1.5 es determinista y el
// TSTED está fijado por la fecha de emisión del documento.
func TestGenerarTED_Determinista(t *testing.T) {
	svc := sii.NewTimbreService()
	d := buildTestDTE("33")
	caf := buildTestCAF()
	priv := testPrivateKey(t)

	ted1, err1 := svc.Generar(d, caf, priv)
	ted2, err2 := svc.Generar(d, caf, priv)

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, ted1, ted2, "dos generaciones con los mismos campos deben ser byte a byte iguales")
}

func TestGenerarTED_CambioDeMontoCambiaLaFirma(t *testing.T) {
	svc := sii.NewTimbreService()
	caf := buildTestCAF()
	priv := testPrivateKey(t)

	d1 := buildTestDTE("33")
	d2 := buildTestDTE("33")
	d2.MontoTotal = d2.MontoTotal.Add(decimal.NewFromInt(1))

	ted1, err1 := svc.Generar(d1, caf, priv)
	ted2, err2 := svc.Generar(d2, caf, priv)

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.NotEqual(t, ted1, ted2, "el timbre compromete el monto: cambiarlo debe cambiar la firma")
}

func TestGenerarTED_TruncaReceptorYPrimerItem(t *testing.T) {
	svc := sii.NewTimbreService()
	d := buildTestDTE("33")
	d.RazonSocialReceptor = "Distribuidora Nacional de Productos del Sur y Patagonia Austral Limitada"
	caf := buildTestCAF()

	ted, err := svc.Generar(d, caf, testPrivateKey(t))
	require.NoError(t, err)
	assert.Contains(t, string(ted), "<RSR>Distribuidora Nacional de Productos del </RSR>",
		"RSR se trunca a 40 caracteres")
}

func TestGenerarTED_ErrorSinClavePublicaCAF(t *testing.T) {
	svc := sii.NewTimbreService()
	d := buildTestDTE("33")
	caf := buildTestCAF()
	caf.ModuloRSA = ""

	_, err := svc.Generar(d, caf, testPrivateKey(t))
	assert.ErrorIs(t, err, domain.ErrCAFSinClavePublica,
		"sin bloque RSAPK la firma debe fallar, nunca sustituir valores de relleno")
}

func TestGenerarTED_ErrorSinLlavePrivada(t *testing.T) {
	svc := sii.NewTimbreService()
	_, err := svc.Generar(buildTestDTE("33"), buildTestCAF(), nil)
	assert.Error(t, err)
}
