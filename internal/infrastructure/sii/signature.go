// Firma digital enveloped (XMLDSig) del DTE. El SII exige el triple
// C14N inclusivo / SHA-1 / RSA-SHA1: es un requisito de cumplimiento del
// receptor, no una elección criptográfica de este código.

package sii

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/jhoicas/dte-api/pkg/sii"
)

// Algoritmos XMLDSig del formato DTE.
const (
	NamespaceDS        = "http://www.w3.org/2000/09/xmldsig#"
	AlgC14N            = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	AlgRSASHA1         = "http://www.w3.org/2000/09/xmldsig#rsa-sha1"
	AlgSHA1            = "http://www.w3.org/2000/09/xmldsig#sha1"
	TransformEnveloped = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
)

// FirmaService implementa sii.Firmador: inyecta TED y TmstFirma en el
// Documento y agrega la firma como hermano dentro del elemento DTE.
type FirmaService struct {
	// ahora permite fijar el reloj en tests; nil usa time.Now.
	ahora func() time.Time
}

// NewFirmaService crea el servicio.
func NewFirmaService() *FirmaService {
	return &FirmaService{}
}

// Firmar implementa sii.Firmador.
func (s *FirmaService) Firmar(xmlDTE, tedXML []byte, cert tls.Certificate) ([]byte, error) {
	if len(xmlDTE) == 0 {
		return nil, fmt.Errorf("sii: XML vacío")
	}
	priv, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("sii: el certificado debe incluir llave privada RSA")
	}

	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = LectorCharset
	if err := doc.ReadFromBytes(xmlDTE); err != nil {
		return nil, fmt.Errorf("sii: parsear XML: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("sii: documento sin raíz")
	}
	documento := root.SelectElement("Documento")
	if documento == nil {
		return nil, fmt.Errorf("sii: no se encontró el elemento Documento")
	}
	refID := documento.SelectAttrValue("ID", "")
	if refID == "" {
		return nil, fmt.Errorf("sii: el elemento Documento no tiene atributo ID")
	}

	// 1) Inyectar TED y timestamp de firma como últimos hijos del Documento.
	if len(tedXML) > 0 {
		tedDoc := etree.NewDocument()
		tedDoc.ReadSettings.CharsetReader = LectorCharset
		if err := tedDoc.ReadFromBytes(tedXML); err != nil {
			return nil, fmt.Errorf("sii: parsear TED: %w", err)
		}
		if tedRoot := tedDoc.Root(); tedRoot != nil {
			documento.AddChild(tedRoot)
		}
	}
	documento.CreateElement("TmstFirma").SetText(s.reloj().Format(formatoTimestamp))

	// 2) Digest SHA-1 del Documento canonicalizado (Reference URI="#<ID>").
	digestB64, err := s.digestDocumento(documento)
	if err != nil {
		return nil, err
	}

	// 3) SignedInfo canonicalizado y firmado con RSA-SHA1.
	signedInfoXML := s.buildSignedInfo(refID, digestB64)
	canonicalSignedInfo, err := canonicalizar([]byte(signedInfoXML))
	if err != nil {
		canonicalSignedInfo = []byte(signedInfoXML)
	}
	signHash := sha1.Sum(canonicalSignedInfo)
	signatureValue, err := rsa.SignPKCS1v15(nil, priv, crypto.SHA1, signHash[:])
	if err != nil {
		return nil, fmt.Errorf("sii: firmar SignedInfo: %w", err)
	}

	// 4) KeyInfo: llave pública RSA y certificado.
	x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("sii: parsear certificado: %w", err)
	}
	signatureXML := s.buildSignature(signedInfoXML,
		base64.StdEncoding.EncodeToString(signatureValue),
		base64.StdEncoding.EncodeToString(priv.N.Bytes()),
		base64.StdEncoding.EncodeToString(exponentBytes(priv.E)),
		base64.StdEncoding.EncodeToString(x509Cert.Raw))

	// 5) Inyectar Signature como hermano del Documento y serializar.
	sigDoc := etree.NewDocument()
	if err := sigDoc.ReadFromString(signatureXML); err != nil {
		return nil, fmt.Errorf("sii: parsear nodo Signature: %w", err)
	}
	if sigRoot := sigDoc.Root(); sigRoot != nil {
		root.AddChild(sigRoot)
	}

	doc.Indent(etree.NoIndent)
	raw, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("sii: serializar XML firmado: %w", err)
	}
	return CodificarLatin1(raw)
}

func (s *FirmaService) reloj() time.Time {
	if s.ahora != nil {
		return s.ahora()
	}
	return time.Now()
}

// digestDocumento serializa el subárbol Documento, lo canonicaliza y calcula
// el digest SHA-1 en Base64.
func (s *FirmaService) digestDocumento(documento *etree.Element) (string, error) {
	sub := etree.NewDocument()
	sub.SetRoot(documento.Copy())
	sub.Indent(etree.NoIndent)
	raw, err := sub.WriteToBytes()
	if err != nil {
		return "", fmt.Errorf("sii: serializar Documento: %w", err)
	}
	canonical, err := canonicalizar(raw)
	if err != nil {
		canonical = raw
	}
	digest := sha1.Sum(canonical)
	return base64.StdEncoding.EncodeToString(digest[:]), nil
}

func (s *FirmaService) buildSignedInfo(refID, digestB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<SignedInfo xmlns="` + NamespaceDS + `">`)
	sb.WriteString(`<CanonicalizationMethod Algorithm="` + AlgC14N + `"/>`)
	sb.WriteString(`<SignatureMethod Algorithm="` + AlgRSASHA1 + `"/>`)
	sb.WriteString(`<Reference URI="#` + refID + `">`)
	sb.WriteString(`<Transforms><Transform Algorithm="` + TransformEnveloped + `"/></Transforms>`)
	sb.WriteString(`<DigestMethod Algorithm="` + AlgSHA1 + `"/>`)
	sb.WriteString(`<DigestValue>` + digestB64 + `</DigestValue>`)
	sb.WriteString(`</Reference>`)
	sb.WriteString(`</SignedInfo>`)
	return sb.String()
}

func (s *FirmaService) buildSignature(signedInfoXML, signatureValueB64, modulusB64, exponentB64, certB64 string) string {
	var sb strings.Builder
	sb.WriteString(`<Signature xmlns="` + NamespaceDS + `">`)
	sb.WriteString(signedInfoXML)
	sb.WriteString(`<SignatureValue>` + signatureValueB64 + `</SignatureValue>`)
	sb.WriteString(`<KeyInfo>`)
	sb.WriteString(`<KeyValue><RSAKeyValue>`)
	sb.WriteString(`<Modulus>` + modulusB64 + `</Modulus>`)
	sb.WriteString(`<Exponent>` + exponentB64 + `</Exponent>`)
	sb.WriteString(`</RSAKeyValue></KeyValue>`)
	sb.WriteString(`<X509Data><X509Certificate>` + certB64 + `</X509Certificate></X509Data>`)
	sb.WriteString(`</KeyInfo>`)
	sb.WriteString(`</Signature>`)
	return sb.String()
}

// exponentBytes serializa el exponente público como big-endian sin ceros a la
// izquierda.
func exponentBytes(e int) []byte {
	var out []byte
	for e > 0 {
		out = append([]byte{byte(e & 0xff)}, out...)
		e >>= 8
	}
	if len(out) == 0 {
		out = []byte{0}
	}
	return out
}

// Asegurar que FirmaService implementa sii.Firmador.
var _ sii.Firmador = (*FirmaService)(nil)
