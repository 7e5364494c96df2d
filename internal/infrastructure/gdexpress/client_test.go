package gdexpress_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/infrastructure/gdexpress"
	siixml "github.com/jhoicas/dte-api/internal/infrastructure/sii"
	"github.com/jhoicas/dte-api/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Env: "production", Level: "error"})
}

func newTestClient(url string) *gdexpress.Client {
	return gdexpress.NewClient(gdexpress.Config{
		URL:              url,
		AuthKey:          "clave-de-prueba",
		Ambiente:         gdexpress.AmbienteCertificacion,
		NumeroResolucion: "80",
		FechaResolucion:  "2014-08-22",
	}, testLogger())
}

// XML firmado de ejemplo: sobre EnvioDTE con firma y TED que el gateway
// regenera por su cuenta.
const xmlGuiaFirmada = `<?xml version="1.0" encoding="ISO-8859-1"?>` +
	`<EnvioDTE version="1.0"><SetDTE>` +
	`<DTE version="1.0"><Documento ID="G123">` +
	`<Encabezado><IdDoc><TipoDTE>52</TipoDTE><Folio>123</Folio><IndTraslado>9</IndTraslado></IdDoc></Encabezado>` +
	`<TED version="1.0"><DD><F>123</F></DD></TED>` +
	`</Documento>` +
	`<Signature xmlns="http://www.w3.org/2000/09/xmldsig#"><SignatureValue>abc</SignatureValue></Signature>` +
	`</DTE></SetDTE></EnvioDTE>`

// decodificarPayload deshace el Base64 y el ISO-8859-1 del wire payload.
func decodificarPayload(t *testing.T, payload []byte) string {
	t.Helper()
	latin1, err := base64.StdEncoding.DecodeString(string(payload))
	require.NoError(t, err)
	utf8, err := siixml.DecodificarLatin1(latin1)
	require.NoError(t, err)
	return string(utf8)
}

func TestPreparar_ExtraeDTEYQuitaFirmaYTED(t *testing.T) {
	c := newTestClient("http://gateway.invalido")

	payload, err := c.Preparar([]byte(xmlGuiaFirmada), "52")
	require.NoError(t, err)

	s := decodificarPayload(t, payload)
	assert.True(t, len(s) > 0)
	assert.Contains(t, s, "<DTE ")
	assert.NotContains(t, s, "<EnvioDTE", "el sobre se descarta: viaja solo el DTE")
	assert.NotContains(t, s, "<Signature", "la firma local se quita, el gateway firma de nuevo")
	assert.NotContains(t, s, "<TED", "el TED local se quita, el gateway retimbra")
}

func TestPreparar_CoercionIndTrasladoFueraDeRango(t *testing.T) {
	c := newTestClient("http://gateway.invalido")

	payload, err := c.Preparar([]byte(xmlGuiaFirmada), "52")
	require.NoError(t, err)

	s := decodificarPayload(t, payload)
	assert.Contains(t, s, "<IndTraslado>1</IndTraslado>",
		"el código 9 está fuera de la enumeración y se transmite como venta")
	assert.NotContains(t, s, "<IndTraslado>9</IndTraslado>")
}

func TestPreparar_AgregaIndTrasladoFaltante(t *testing.T) {
	sinTraslado := `<?xml version="1.0" encoding="ISO-8859-1"?>` +
		`<DTE version="1.0"><Documento ID="G124">` +
		`<Encabezado><IdDoc><TipoDTE>52</TipoDTE><Folio>124</Folio></IdDoc></Encabezado>` +
		`</Documento></DTE>`
	c := newTestClient("http://gateway.invalido")

	payload, err := c.Preparar([]byte(sinTraslado), "52")
	require.NoError(t, err)
	assert.Contains(t, decodificarPayload(t, payload), "<IndTraslado>1</IndTraslado>")
}

func TestPreparar_NoTocaTrasladoDeOtrosTipos(t *testing.T) {
	factura := `<?xml version="1.0" encoding="ISO-8859-1"?>` +
		`<DTE version="1.0"><Documento ID="F125">` +
		`<Encabezado><IdDoc><TipoDTE>33</TipoDTE><Folio>125</Folio></IdDoc></Encabezado>` +
		`</Documento></DTE>`
	c := newTestClient("http://gateway.invalido")

	payload, err := c.Preparar([]byte(factura), "33")
	require.NoError(t, err)
	assert.NotContains(t, decodificarPayload(t, payload), "<IndTraslado>")
}

func TestPreparar_Errores(t *testing.T) {
	c := newTestClient("http://gateway.invalido")

	_, err := c.Preparar(nil, "33")
	assert.Error(t, err)

	_, err = c.Preparar([]byte("<EnvioDTE><SetDTE/></EnvioDTE>"), "33")
	assert.Error(t, err, "sobre sin DTE interior debe fallar")

	_, err = c.Preparar([]byte("<Otro/>"), "33")
	assert.Error(t, err, "raíz que no es DTE ni EnvioDTE debe fallar")
}

// respuestaEnvuelta arma la forma JSON {Data: base64(xml)} del gateway.
func respuestaEnvuelta(t *testing.T, inner string) []byte {
	t.Helper()
	out, err := json.Marshal(map[string]string{
		"Data": base64.StdEncoding.EncodeToString([]byte(inner)),
	})
	require.NoError(t, err)
	return out
}

func TestEnviar_RespuestaJSONConEstadoOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "clave-de-prueba", r.Header.Get("AuthKey"))
		w.Write(respuestaEnvuelta(t,
			`<RECEPCIONDTE><TrackId>12345</TrackId><Estado>OK</Estado><Glosa>Recibido</Glosa></RECEPCIONDTE>`))
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).Enviar(context.Background(), []byte("cGF5bG9hZA=="))
	require.NoError(t, err)
	assert.True(t, res.Aceptado)
	assert.Equal(t, "12345", res.TrackID)
	assert.Equal(t, "OK", res.Estado)
	assert.Equal(t, "Recibido", res.Glosa)
}

func TestEnviar_RespuestaXMLCruda(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<Respuesta><TrackId>777</TrackId></Respuesta>`))
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).Enviar(context.Background(), []byte("cGF5bG9hZA=="))
	require.NoError(t, err)
	assert.False(t, res.Aceptado, "un TrackId sin Estado es recepción, no veredicto")
	assert.Equal(t, "777", res.TrackID)
	assert.Empty(t, res.Estado)
}

func TestEnviar_EstadoEPRAcepta(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(respuestaEnvuelta(t, `<Resp><Estado>DOK-EPR</Estado></Resp>`))
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).Enviar(context.Background(), []byte("cGF5bG9hZA=="))
	require.NoError(t, err)
	assert.True(t, res.Aceptado)
}

func TestEnviar_RechazoConGlosa(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(respuestaEnvuelta(t,
			`<Resp><Estado>RCH</Estado><Glosa>RUT emisor no autorizado</Glosa></Resp>`))
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).Enviar(context.Background(), []byte("cGF5bG9hZA=="))
	require.NoError(t, err)
	assert.False(t, res.Aceptado)
	assert.Equal(t, "RUT emisor no autorizado", res.Glosa)
}

// TestEnviar_ReintentoInmediatoAnte5xx verifica el único reintento interno del
// adaptador: el primer 500 se reintenta al tiro; el segundo intento exitoso
// resuelve la llamada sin pasar por el backoff de la cola.
func TestEnviar_ReintentoInmediatoAnte5xx(t *testing.T) {
	var llamadas int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&llamadas, 1) == 1 {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Write(respuestaEnvuelta(t, `<Resp><TrackId>99</TrackId><Estado>OK</Estado></Resp>`))
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).Enviar(context.Background(), []byte("cGF5bG9hZA=="))
	require.NoError(t, err)
	assert.True(t, res.Aceptado)
	assert.Equal(t, int32(2), atomic.LoadInt32(&llamadas), "exactamente un reintento inmediato")
}

func TestEnviar_5xxPersistenteFalla(t *testing.T) {
	var llamadas int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&llamadas, 1)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Enviar(context.Background(), []byte("cGF5bG9hZA=="))
	assert.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&llamadas),
		"tras el reintento inmediato la falla sube a la cola, sin más reintentos aquí")
}

func TestEnviar_RespuestaIlegible(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("esto no es ni JSON ni XML"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Enviar(context.Background(), []byte("cGF5bG9hZA=="))
	assert.ErrorIs(t, err, domain.ErrRespuestaIlegible)
}

func TestEnviar_ContextoCancelado(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<Resp><TrackId>1</TrackId></Resp>`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestClient(srv.URL).Enviar(ctx, []byte("cGF5bG9hZA=="))
	assert.Error(t, err)
}
