package sii

import (
	"fmt"
	"strings"
	"unicode"
)

// ValidateRUT valida que el RUT (con o sin puntos, con guión y dígito verificador)
// tenga un dígito verificador correcto según el algoritmo módulo 11 del SII.
// rut puede ser "77.117.239-3", "77117239-3" o "771172393".
func ValidateRUT(rut string) error {
	cuerpo, dv, err := splitRUT(rut)
	if err != nil {
		return err
	}
	expected := computeDV(cuerpo)
	if dv != expected {
		return fmt.Errorf("sii: dígito verificador del RUT inválido: esperado %c, recibido %c", expected, dv)
	}
	return nil
}

// FormatRUT normaliza un RUT al formato que espera el SII en los XML:
// sin puntos, con guión antes del dígito verificador (ej: 77117239-3).
func FormatRUT(rut string) string {
	cuerpo, dv, err := splitRUT(rut)
	if err != nil {
		return strings.TrimSpace(rut)
	}
	return cuerpo + "-" + string(dv)
}

// CleanRUT deja solo los dígitos del cuerpo del RUT, sin dígito verificador.
// Útil para nombres de archivo y rutas de API del gateway.
func CleanRUT(rut string) string {
	cuerpo, _, err := splitRUT(rut)
	if err != nil {
		var b strings.Builder
		for _, r := range rut {
			if unicode.IsDigit(r) {
				b.WriteRune(r)
			}
		}
		return b.String()
	}
	return cuerpo
}

// splitRUT separa cuerpo y dígito verificador. Acepta K/k como DV.
func splitRUT(rut string) (cuerpo string, dv byte, err error) {
	s := strings.ToUpper(strings.TrimSpace(rut))
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, "-", "")
	if len(s) < 2 {
		return "", 0, fmt.Errorf("sii: RUT demasiado corto: %q", rut)
	}
	dv = s[len(s)-1]
	cuerpo = s[:len(s)-1]
	if dv != 'K' && (dv < '0' || dv > '9') {
		return "", 0, fmt.Errorf("sii: dígito verificador inválido: %c", dv)
	}
	for i := 0; i < len(cuerpo); i++ {
		if cuerpo[i] < '0' || cuerpo[i] > '9' {
			return "", 0, fmt.Errorf("sii: RUT contiene caracteres no numéricos: %q", rut)
		}
	}
	return cuerpo, dv, nil
}

// computeDV calcula el dígito verificador módulo 11 con la serie 2,3,4,5,6,7
// aplicada de derecha a izquierda.
func computeDV(cuerpo string) byte {
	factor := 2
	sum := 0
	for i := len(cuerpo) - 1; i >= 0; i-- {
		sum += int(cuerpo[i]-'0') * factor
		factor++
		if factor > 7 {
			factor = 2
		}
	}
	switch resto := 11 - (sum % 11); resto {
	case 11:
		return '0'
	case 10:
		return 'K'
	default:
		return byte('0' + resto)
	}
}
