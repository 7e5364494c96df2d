// Codec ISO-8859-1 para el intercambio con el SII. El formato DTE exige esa
// codificación en el XML final; internamente todo se maneja en UTF-8.

package sii

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// CodificarLatin1 convierte bytes UTF-8 a ISO-8859-1.
func CodificarLatin1(data []byte) ([]byte, error) {
	var out bytes.Buffer
	w := transform.NewWriter(&out, charmap.ISO8859_1.NewEncoder())
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("sii: codificar ISO-8859-1: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("sii: codificar ISO-8859-1: %w", err)
	}
	return out.Bytes(), nil
}

// DecodificarLatin1 convierte bytes ISO-8859-1 a UTF-8.
func DecodificarLatin1(data []byte) ([]byte, error) {
	out, err := io.ReadAll(transform.NewReader(bytes.NewReader(data), charmap.ISO8859_1.NewDecoder()))
	if err != nil {
		return nil, fmt.Errorf("sii: decodificar ISO-8859-1: %w", err)
	}
	return out, nil
}

// LectorCharset es un CharsetReader para xml.Decoder que entiende las
// variantes de nombre con que llegan los archivos del SII.
func LectorCharset(charset string, input io.Reader) (io.Reader, error) {
	if strings.EqualFold(charset, "ISO-8859-1") || strings.EqualFold(charset, "ISO8859-1") {
		return transform.NewReader(input, charmap.ISO8859_1.NewDecoder()), nil
	}
	return input, nil
}
