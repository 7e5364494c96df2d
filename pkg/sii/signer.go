// Package sii: interfaz para la firma digital de documentos XML (XMLDSig, SII).

package sii

import "crypto/tls"

// Firmador firma un DTE y devuelve el XML listo para el envío.
type Firmador interface {
	// Firmar toma el XML del documento (sin firma), el TED ya generado y el
	// certificado con llave privada; retorna el XML con el TED y el nodo
	// Signature inyectados junto al elemento Documento.
	Firmar(xmlDTE, tedXML []byte, cert tls.Certificate) ([]byte, error)
}
