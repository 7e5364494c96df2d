// Carga del certificado digital de firma desde .p12 (PKCS#12) o par PEM.

package sii

import (
	"crypto/tls"
	"fmt"
	"os"

	"golang.org/x/crypto/pkcs12"

	"github.com/jhoicas/dte-api/internal/domain"
)

// CargarCertificadoP12 carga certificado y llave privada desde un .p12/.pfx.
// Una contraseña incorrecta o un archivo corrupto se reportan como
// ErrCertificadoInvalido.
func CargarCertificadoP12(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("leer p12: %w", err)
	}
	priv, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: %v", domain.ErrCertificadoInvalido, err)
	}
	// pkcs12.Decode devuelve solo el certificado hoja; para el SII basta.
	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  priv,
		Leaf:        cert,
	}, nil
}

// CargarCertificadoPEM carga certificado y llave desde archivos PEM
// (separados o combinados en uno solo).
func CargarCertificadoPEM(certPath, keyPath string) (tls.Certificate, error) {
	if keyPath == "" {
		keyPath = certPath
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: %v", domain.ErrCertificadoInvalido, err)
	}
	return cert, nil
}
