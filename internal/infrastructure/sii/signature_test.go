package sii_test

import (
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/dte-api/internal/infrastructure/sii"
)

// testCertificado genera un certificado autofirmado con llave RSA para firmar
// en tests, sin depender de un .p12 real.
func testCertificado(t *testing.T) tls.Certificate {
	t.Helper()
	priv := testPrivateKey(t)
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "Firma de Prueba"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}
}

func TestFirmar_DocumentoCompleto(t *testing.T) {
	d := buildTestDTE("33")
	builder, err := sii.NewDocumentoBuilder("33", testLogger())
	require.NoError(t, err)
	xmlDTE, err := builder.Build(d)
	require.NoError(t, err)

	cert := testCertificado(t)
	ted, err := sii.NewTimbreService().Generar(d, buildTestCAF(), testPrivateKey(t))
	require.NoError(t, err)

	firmado, err := sii.NewFirmaService().Firmar(xmlDTE, ted, cert)
	require.NoError(t, err)

	utf8XML, err := sii.DecodificarLatin1(firmado)
	require.NoError(t, err)
	s := string(utf8XML)

	assert.Contains(t, s, `URI="#F123"`, "la Reference apunta al ID del Documento")
	assert.Contains(t, s, sii.AlgRSASHA1)
	assert.Contains(t, s, sii.AlgSHA1)
	assert.Contains(t, s, sii.TransformEnveloped)
	assert.Contains(t, s, "<SignatureValue>")
	assert.Contains(t, s, "<Modulus>")
	assert.Contains(t, s, "<X509Certificate>")
	assert.Contains(t, s, "<TED ", "el TED debe quedar inyectado dentro del Documento")
	assert.Contains(t, s, "<TmstFirma>")
}

func TestFirmar_ErrorXMLVacio(t *testing.T) {
	_, err := sii.NewFirmaService().Firmar(nil, nil, testCertificado(t))
	assert.Error(t, err)
}

func TestFirmar_ErrorSinDocumento(t *testing.T) {
	xml := []byte(`<?xml version="1.0" encoding="ISO-8859-1"?><DTE version="1.0"><Otro/></DTE>`)
	_, err := sii.NewFirmaService().Firmar(xml, nil, testCertificado(t))
	assert.Error(t, err)
}

func TestFirmar_ErrorLlaveNoRSA(t *testing.T) {
	cert := testCertificado(t)
	cert.PrivateKey = nil
	_, err := sii.NewFirmaService().Firmar([]byte("<DTE/>"), nil, cert)
	assert.Error(t, err)
}
