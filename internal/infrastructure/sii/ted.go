// Generación del TED (Timbre Electrónico de Documento). El bloque DD se firma
// con RSA PKCS#1 v1.5 + SHA-1; el algoritmo lo fija el SII y no es negociable
// aunque SHA-1 esté obsoleto como elección criptográfica.

package sii

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strconv"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/pkg/sii"
)

// formato del timestamp TSTED dentro del DD.
const formatoTimestamp = "2006-01-02T15:04:05"

// TimbreService genera el TED de un documento a partir de su CAF.
type TimbreService struct{}

// NewTimbreService crea el servicio.
func NewTimbreService() *TimbreService {
	return &TimbreService{}
}

// Generar construye y firma el TED. El contenido del DD se fija desde los
// campos actuales del documento (incluido TSTED, que sale del timestamp de
// emisión almacenado): regenerar el timbre con los mismos campos produce
// exactamente los mismos bytes firmados.
func (s *TimbreService) Generar(d *entity.DTE, caf *entity.CAF, priv *rsa.PrivateKey) ([]byte, error) {
	if d == nil || caf == nil {
		return nil, fmt.Errorf("sii: documento y CAF son obligatorios para el TED")
	}
	if priv == nil {
		return nil, fmt.Errorf("sii: se requiere la llave privada para firmar el TED")
	}
	if !caf.TieneClavePublica() {
		return nil, fmt.Errorf("%w: CAF %s", domain.ErrCAFSinClavePublica, caf.ID)
	}

	ted := etree.NewElement("TED")
	ted.CreateAttr("version", "1.0")
	dd := ted.CreateElement("DD")
	dd.CreateElement("RE").SetText(sii.FormatRUT(d.RUTEmisor))
	dd.CreateElement("TD").SetText(d.TipoDTE)
	dd.CreateElement("F").SetText(strconv.FormatInt(d.Folio, 10))
	dd.CreateElement("FE").SetText(d.FechaEmision.Format(formatoFecha))
	dd.CreateElement("RR").SetText(sii.FormatRUT(d.RUTReceptor))
	dd.CreateElement("RSR").SetText(sii.Truncate(d.RazonSocialReceptor, sii.MaxReceptorTimbre))
	dd.CreateElement("MNT").SetText(d.MontoTotal.Round(0).StringFixed(0))
	dd.CreateElement("IT1").SetText(sii.Truncate(primerItem(d), sii.MaxItemTimbre))
	s.escribirCAF(dd, caf)
	dd.CreateElement("TSTED").SetText(d.FechaEmision.Format(formatoTimestamp))

	firma, err := s.firmarDD(dd, priv)
	if err != nil {
		return nil, err
	}
	frmt := ted.CreateElement("FRMT")
	frmt.CreateAttr("algoritmo", "SHA1withRSA")
	frmt.SetText(firma)

	doc := etree.NewDocument()
	doc.SetRoot(ted)
	doc.Indent(etree.NoIndent)
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("sii: serializar TED: %w", err)
	}
	return out, nil
}

// escribirCAF reproduce dentro del DD el bloque de autorización tal como vino
// del SII: datos DA más la firma FRMA del rango.
func (s *TimbreService) escribirCAF(dd *etree.Element, caf *entity.CAF) {
	c := dd.CreateElement("CAF")
	c.CreateAttr("version", "1.0")
	da := c.CreateElement("DA")
	da.CreateElement("RE").SetText(sii.FormatRUT(caf.RUTEmpresa))
	da.CreateElement("RS").SetText(sii.Truncate(caf.RazonSocial, sii.MaxRazonSocial))
	da.CreateElement("TD").SetText(caf.TipoDTE)
	rng := da.CreateElement("RNG")
	rng.CreateElement("D").SetText(strconv.FormatInt(caf.FolioDesde, 10))
	rng.CreateElement("H").SetText(strconv.FormatInt(caf.FolioHasta, 10))
	da.CreateElement("FA").SetText(caf.FechaAutorizacion.Format(formatoFecha))
	rsapk := da.CreateElement("RSAPK")
	rsapk.CreateElement("M").SetText(caf.ModuloRSA)
	rsapk.CreateElement("E").SetText(caf.ExponenteRSA)
	da.CreateElement("IDK").SetText(caf.IDK)
	frma := c.CreateElement("FRMA")
	frma.CreateAttr("algoritmo", "SHA1withRSA")
	frma.SetText(caf.FirmaCAF)
}

// firmarDD canonicaliza el bloque DD sin sangría y lo firma.
func (s *TimbreService) firmarDD(dd *etree.Element, priv *rsa.PrivateKey) (string, error) {
	ddDoc := etree.NewDocument()
	ddDoc.SetRoot(dd.Copy())
	ddDoc.Indent(etree.NoIndent)
	raw, err := ddDoc.WriteToBytes()
	if err != nil {
		return "", fmt.Errorf("sii: serializar DD: %w", err)
	}
	canonical, err := canonicalizar(raw)
	if err != nil {
		canonical = raw
	}
	digest := sha1.Sum(canonical)
	firma, err := rsa.SignPKCS1v15(nil, priv, crypto.SHA1, digest[:])
	if err != nil {
		return "", fmt.Errorf("sii: firmar DD: %w", err)
	}
	return base64.StdEncoding.EncodeToString(firma), nil
}

// canonicalizar aplica C14N inclusivo sobre los bytes XML.
func canonicalizar(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}

// primerItem devuelve el nombre del primer ítem del detalle para IT1.
func primerItem(d *entity.DTE) string {
	if len(d.Detalles) == 0 {
		return ""
	}
	return d.Detalles[0].Nombre
}
