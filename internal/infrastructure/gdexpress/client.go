// Cliente del gateway GDExpress: normaliza el DTE firmado al formato que el
// gateway espera (Preparar) y lo envía con su API SendDocumentAsXML (Enviar).
// El gateway retimbra y reenvía al SII, por eso la firma y el TED locales se
// quitan antes de transmitir.

package gdexpress

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/jhoicas/dte-api/internal/domain"
	siixml "github.com/jhoicas/dte-api/internal/infrastructure/sii"
	"github.com/jhoicas/dte-api/pkg/logger"
	"github.com/jhoicas/dte-api/pkg/sii"
)

// Ambientes del gateway.
const (
	AmbienteCertificacion = "T"
	AmbienteProduccion    = "P"
)

// namespace del API de GDExpress.
const namespaceAPI = "http://gdexpress.cl/api"

// TimeoutEnvio es el límite de la llamada al gateway. Pasado este plazo el
// intento cuenta como fallo y entra al backoff de la cola.
const TimeoutEnvio = 45 * time.Second

// Config parámetros de conexión y de la resolución SII del emisor.
type Config struct {
	URL              string
	AuthKey          string
	Ambiente         string // "T" certificación, "P" producción
	NumeroResolucion string
	FechaResolucion  string // YYYY-MM-DD
	Timeout          time.Duration
}

// ResultadoEnvio es la respuesta normalizada del gateway, sea cual sea la
// forma en que llegó.
type ResultadoEnvio struct {
	Aceptado bool
	TrackID  string
	Estado   string
	Glosa    string
}

// Client implementa la preparación y el envío de documentos a GDExpress.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *logger.Logger
}

// NewClient construye el cliente. Sin timeout configurado usa los 45 s de
// referencia.
func NewClient(cfg Config, log *logger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = TimeoutEnvio
	}
	if cfg.Ambiente == "" {
		cfg.Ambiente = AmbienteCertificacion
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.Component("gdexpress"),
	}
}

// ── Preparar ──────────────────────────────────────────────────────────────────

// Preparar extrae el elemento DTE (descartando un eventual sobre EnvioDTE),
// quita la firma y el TED locales, corrige el IndTraslado de las guías y
// devuelve el XML compacto en ISO-8859-1 codificado en Base64.
func (c *Client) Preparar(xmlFirmado []byte, tipoDTE string) ([]byte, error) {
	if len(xmlFirmado) == 0 {
		return nil, fmt.Errorf("gdexpress: XML vacío")
	}
	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = siixml.LectorCharset
	if err := doc.ReadFromBytes(xmlFirmado); err != nil {
		return nil, fmt.Errorf("gdexpress: parsear XML: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("gdexpress: documento sin raíz")
	}

	dte := root
	if root.Tag == "EnvioDTE" {
		dte = root.FindElement(".//DTE")
		if dte == nil {
			return nil, fmt.Errorf("gdexpress: el sobre EnvioDTE no contiene un DTE")
		}
	}
	if dte.Tag != "DTE" {
		return nil, fmt.Errorf("gdexpress: elemento raíz inesperado %q", dte.Tag)
	}

	// La firma y el TED los regenera el gateway.
	for _, sig := range dte.FindElements(".//Signature") {
		sig.Parent().RemoveChild(sig)
	}
	for _, ted := range dte.FindElements(".//TED") {
		ted.Parent().RemoveChild(ted)
	}

	if tipoDTE == sii.TipoGuiaDespacho {
		c.corregirIndTraslado(dte)
	}

	out := etree.NewDocument()
	out.CreateProcInst("xml", `version="1.0" encoding="ISO-8859-1"`)
	out.SetRoot(dte.Copy())
	out.Indent(etree.NoIndent)
	raw, err := out.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("gdexpress: serializar DTE: %w", err)
	}
	latin1, err := siixml.CodificarLatin1(raw)
	if err != nil {
		return nil, err
	}
	return []byte(base64.StdEncoding.EncodeToString(latin1)), nil
}

// corregirIndTraslado aplica la política de lenidad del gateway: un motivo de
// traslado ausente o fuera de la enumeración se transmite como venta (1) en
// lugar de rechazar el envío. Siempre queda registro de la corrección.
func (c *Client) corregirIndTraslado(dte *etree.Element) {
	idDoc := dte.FindElement(".//IdDoc")
	if idDoc == nil {
		return
	}
	ind := idDoc.SelectElement("IndTraslado")
	if ind == nil {
		c.log.Warn().Msg("gdexpress: guía sin IndTraslado, se transmite como venta (1)")
		idDoc.CreateElement("IndTraslado").SetText(sii.TrasladoVenta)
		return
	}
	if !sii.ValidTrasladoCodes[ind.Text()] {
		c.log.Warn().
			Str("ind_traslado", ind.Text()).
			Msg("gdexpress: IndTraslado fuera de la enumeración, se transmite como venta (1)")
		ind.SetText(sii.TrasladoVenta)
	}
}

// ── Enviar ────────────────────────────────────────────────────────────────────

// sendDocumentRequest es el cuerpo de SendDocumentAsXML. Los campos PDF417 son
// pistas de render que el gateway suele ignorar; TED va vacío porque el
// gateway retimbra.
type sendDocumentRequest struct {
	XMLName          xml.Name `xml:"SendDocumentAsXMLRequest"`
	Xmlns            string   `xml:"xmlns,attr"`
	Environment      string   `xml:"Environment"`
	Content          string   `xml:"Content"`
	ResolutionNumber string   `xml:"ResolutionNumber"`
	ResolutionDate   string   `xml:"ResolutionDate"`
	PDF417Columns    string   `xml:"PDF417Columns"`
	PDF417Level      string   `xml:"PDF417Level"`
	PDF417Type       string   `xml:"PDF417Type"`
	TED              string   `xml:"TED"`
}

// respuestaJSON es la forma estructurada: el XML de respuesta viene en Base64
// dentro de un JSON.
type respuestaJSON struct {
	Data string `json:"Data"`
}

// Enviar hace el POST al gateway con un reintento inmediato ante un 5xx (el
// gateway falla de forma transitoria bajo carga). Cualquier otra falla se
// reporta a la cola de despacho, que maneja su propio backoff.
func (c *Client) Enviar(ctx context.Context, payload []byte) (*ResultadoEnvio, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("gdexpress: payload vacío")
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, status, err := c.post(ctx, payload)
	if err == nil && status >= 500 {
		c.log.Warn().Int("status", status).Msg("gdexpress: error 5xx, reintento inmediato")
		body, status, err = c.post(ctx, payload)
	}
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("gdexpress: el gateway respondió HTTP %d: %s",
			status, resumen(body))
	}
	return c.parseRespuesta(body)
}

func (c *Client) post(ctx context.Context, payload []byte) (respBody []byte, status int, err error) {
	reqBody := sendDocumentRequest{
		Xmlns:            namespaceAPI,
		Environment:      c.cfg.Ambiente,
		Content:          string(payload),
		ResolutionNumber: c.cfg.NumeroResolucion,
		ResolutionDate:   c.cfg.FechaResolucion,
	}
	xmlPayload, err := xml.Marshal(reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("gdexpress: serializar request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(xmlPayload))
	if err != nil {
		return nil, 0, fmt.Errorf("gdexpress: crear request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("AuthKey", c.cfg.AuthKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, fmt.Errorf("gdexpress: timeout o cancelación: %w", ctx.Err())
		}
		return nil, 0, fmt.Errorf("gdexpress: llamada HTTP fallida: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // max 1 MB
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("gdexpress: leer respuesta: %w", err)
	}
	return raw, resp.StatusCode, nil
}

// parseRespuesta normaliza las dos formas observadas de respuesta exitosa:
// JSON {Data: base64(xml)} o el XML crudo con <TrackId>. Cualquier otra cosa
// es ErrRespuestaIlegible.
func (c *Client) parseRespuesta(body []byte) (*ResultadoEnvio, error) {
	var wrapped respuestaJSON
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Data != "" {
		inner, err := base64.StdEncoding.DecodeString(wrapped.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: Data no es Base64: %v", domain.ErrRespuestaIlegible, err)
		}
		if r, ok := c.extraerResultado(inner); ok {
			return r, nil
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrRespuestaIlegible, resumen(inner))
	}
	if r, ok := c.extraerResultado(body); ok {
		return r, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrRespuestaIlegible, resumen(body))
}

// extraerResultado busca TrackId/Estado/Glosa en un XML y arma el resultado.
func (c *Client) extraerResultado(raw []byte) (*ResultadoEnvio, bool) {
	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = siixml.LectorCharset
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, false
	}
	r := &ResultadoEnvio{}
	if e := doc.FindElement("//TrackId"); e != nil {
		r.TrackID = strings.TrimSpace(e.Text())
	}
	if e := doc.FindElement("//Estado"); e != nil {
		r.Estado = strings.TrimSpace(e.Text())
	}
	if e := doc.FindElement("//Glosa"); e != nil {
		r.Glosa = strings.TrimSpace(e.Text())
	}
	if r.TrackID == "" && r.Estado == "" {
		return nil, false
	}
	// EPR: envío procesado por el SII. Un TrackId sin Estado es solo
	// recepción, no veredicto: queda Aceptado en falso.
	r.Aceptado = r.Estado == "OK" || strings.Contains(r.Estado, "EPR")
	return r, true
}

// resumen acota el cuerpo crudo para mensajes de error.
func resumen(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 300 {
		return s[:300] + "…"
	}
	return s
}
