package domain

import "errors"

// Errores de dominio (sin dependencias externas).
var (
	ErrNotFound             = errors.New("recurso no encontrado")
	ErrInvalidInput         = errors.New("entrada inválida")
	ErrDuplicate            = errors.New("recurso duplicado")
	ErrConflict             = errors.New("conflicto con el estado actual")
	ErrUnauthorized         = errors.New("no autorizado")
	ErrForbidden            = errors.New("acceso denegado")
	ErrNoFoliosDisponibles  = errors.New("no hay folios disponibles para el tipo de documento")
	ErrCAFConFoliosUsados   = errors.New("el CAF tiene folios ya emitidos y no puede ser reseteado")
	ErrTipoDTENoSoportado   = errors.New("tipo de DTE no soportado")
	ErrReferenciaFaltante   = errors.New("nota de crédito/débito requiere referencia al documento original")
	ErrCertificadoInvalido  = errors.New("certificado digital inválido o contraseña incorrecta")
	ErrCAFSinClavePublica   = errors.New("el CAF no contiene una clave pública RSA parseable")
	ErrRespuestaIlegible    = errors.New("respuesta del gateway no reconocida")
	ErrDTEYaEnviado         = errors.New("el documento ya fue enviado al gateway")
	ErrDTEEnVuelo           = errors.New("el documento tiene un envío en curso")
)
