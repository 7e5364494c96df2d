// Parser del archivo CAF (Código de Autorización de Folios) emitido por el
// SII. El archivo llega en ISO-8859-1 y se guarda completo como blob; aquí
// solo se extraen los campos que el sistema necesita.

package sii

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/pkg/sii"
)

// cafXML mapea la estructura AUTORIZACION/CAF/DA del archivo del SII.
type cafXML struct {
	CAF struct {
		Version string `xml:"version,attr"`
		DA      struct {
			RE  string `xml:"RE"`
			RS  string `xml:"RS"`
			TD  string `xml:"TD"`
			RNG struct {
				D int64 `xml:"D"`
				H int64 `xml:"H"`
			} `xml:"RNG"`
			FA    string `xml:"FA"`
			RSAPK struct {
				M string `xml:"M"`
				E string `xml:"E"`
			} `xml:"RSAPK"`
			IDK string `xml:"IDK"`
		} `xml:"DA"`
		FRMA struct {
			Algoritmo string `xml:"algoritmo,attr"`
			Valor     string `xml:",chardata"`
		} `xml:"FRMA"`
	} `xml:"CAF"`
}

// ParserCAF adapta ParseCAF al puerto del servicio de folios.
type ParserCAF struct{}

// Parse convierte el archivo CAF en la entidad de dominio.
func (ParserCAF) Parse(contenido []byte) (*entity.CAF, error) {
	return ParseCAF(contenido)
}

// ParseCAF lee un archivo de autorización y devuelve la entidad lista para
// persistir. FolioActual parte en FolioDesde-1 (ningún folio entregado).
func ParseCAF(raw []byte) (*entity.CAF, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("sii: archivo CAF vacío")
	}

	var parsed cafXML
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.CharsetReader = LectorCharset
	if err := dec.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("sii: parsear CAF: %w", err)
	}
	da := parsed.CAF.DA

	rut := strings.TrimSpace(da.RE)
	if err := sii.ValidateRUT(rut); err != nil {
		return nil, fmt.Errorf("CAF con RUT emisor inválido %q: %w", da.RE, err)
	}
	if !sii.EsTipoSoportado(da.TD) {
		return nil, fmt.Errorf("sii: CAF para tipo de documento no soportado %q", da.TD)
	}
	if da.RNG.D <= 0 || da.RNG.H < da.RNG.D {
		return nil, fmt.Errorf("sii: rango de folios inválido [%d, %d]", da.RNG.D, da.RNG.H)
	}
	fa, err := time.Parse("2006-01-02", strings.TrimSpace(da.FA))
	if err != nil {
		return nil, fmt.Errorf("sii: fecha de autorización inválida %q: %w", da.FA, err)
	}

	return &entity.CAF{
		RUTEmpresa:        sii.FormatRUT(rut),
		RazonSocial:       strings.TrimSpace(da.RS),
		TipoDTE:           da.TD,
		FolioDesde:        da.RNG.D,
		FolioHasta:        da.RNG.H,
		CantidadFolios:    da.RNG.H - da.RNG.D + 1,
		FolioActual:       da.RNG.D - 1,
		FoliosUtilizados:  0,
		Estado:            entity.CAFActivo,
		FechaAutorizacion: fa,
		ModuloRSA:         strings.TrimSpace(da.RSAPK.M),
		ExponenteRSA:      strings.TrimSpace(da.RSAPK.E),
		IDK:               strings.TrimSpace(da.IDK),
		FirmaCAF:          strings.TrimSpace(parsed.CAF.FRMA.Valor),
		ContenidoXML:      string(raw),
		Huella:            HuellaCAF(raw),
	}, nil
}

// HuellaCAF calcula el SHA-256 del contenido sin espacios en blanco. Sirve
// para detectar la carga duplicada del mismo archivo aunque cambie el
// formateo.
func HuellaCAF(raw []byte) string {
	compacto := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, string(raw))
	sum := sha256.Sum256([]byte(compacto))
	return hex.EncodeToString(sum[:])
}
