package logger_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jhoicas/dte-api/pkg/logger"
)

func TestComponent_EtiquetaLasEntradas(t *testing.T) {
	var buf bytes.Buffer
	l := logger.New(logger.Config{Env: "production", Level: "info"})

	zl := l.Component("despacho").Zerolog().Output(&buf)
	zl.Info().Str("dte_id", "dte-1").Msg("documento despachado")

	assert.Contains(t, buf.String(), `"componente":"despacho"`)
	assert.Contains(t, buf.String(), `"dte_id":"dte-1"`)
}

func TestComponent_NoContaminaElLoggerPadre(t *testing.T) {
	var buf bytes.Buffer
	l := logger.New(logger.Config{Env: "production", Level: "info"})
	_ = l.Component("folios")

	zl := l.Zerolog().Output(&buf)
	zl.Info().Msg("sin componente")

	assert.NotContains(t, buf.String(), "componente")
}
