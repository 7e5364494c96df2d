// Render del timbre como código de barras 2-D. El SII exige PDF417 en la
// representación impresa; la función es pura, sin estado.

package sii

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/pdf417"
)

// Nivel de corrección de errores del PDF417 (0-8). El SII recomienda 5.
const nivelCorreccionPDF417 = 5

// GenerarPDF417 codifica el TED como PDF417 y lo devuelve como PNG.
func GenerarPDF417(tedXML []byte, ancho, alto int) ([]byte, error) {
	if len(tedXML) == 0 {
		return nil, fmt.Errorf("sii: TED vacío")
	}
	code, err := pdf417.Encode(string(tedXML), nivelCorreccionPDF417)
	if err != nil {
		return nil, fmt.Errorf("sii: codificar PDF417: %w", err)
	}
	scaled, err := barcode.Scale(code, ancho, alto)
	if err != nil {
		return nil, fmt.Errorf("sii: escalar PDF417 a %dx%d: %w", ancho, alto, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return nil, fmt.Errorf("sii: serializar PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// PayloadPDF417 devuelve el contenido del timbre en Base64, que es lo que se
// persiste en el documento para regenerar el código cuando haga falta.
func PayloadPDF417(tedXML []byte) string {
	return base64.StdEncoding.EncodeToString(tedXML)
}

// CodificadorBarras adapta las funciones PDF417 al puerto del caso de uso de
// emisión y a la representación impresa.
type CodificadorBarras struct{}

// Payload devuelve el contenido persistible del código de barras.
func (CodificadorBarras) Payload(tedXML []byte) string {
	return PayloadPDF417(tedXML)
}

// Imagen genera el PNG del PDF417 en el tamaño pedido.
func (CodificadorBarras) Imagen(tedXML []byte, ancho, alto int) ([]byte, error) {
	return GenerarPDF417(tedXML, ancho, alto)
}
