package emision

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/dte-api/internal/application/folios"
	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/domain/repository"
	siidom "github.com/jhoicas/dte-api/internal/domain/sii"
	"github.com/jhoicas/dte-api/pkg/logger"
	"github.com/jhoicas/dte-api/pkg/sii"
)

// EmitirUseCase orquesta el pipeline de emisión: folio, XML, timbre, firma y
// persistencia, todo en una transacción. Si cualquier paso falla el folio no
// se consume.
type EmitirUseCase struct {
	txRunner    folios.TxRunner
	asignador   AsignadorFolios
	totales     *siidom.TotalesService
	constructor ConstructorXML
	timbre      Timbrador
	firmador    sii.Firmador
	barras      CodificadorBarras
	encolador   Encolador
	cert        tls.Certificate
	log         *logger.Logger
	ahora       func() time.Time
}

// NewEmitirUseCase construye el caso de uso con el certificado del emisor.
func NewEmitirUseCase(
	txRunner folios.TxRunner,
	asignador AsignadorFolios,
	constructor ConstructorXML,
	timbre Timbrador,
	firmador sii.Firmador,
	barras CodificadorBarras,
	encolador Encolador,
	cert tls.Certificate,
	log *logger.Logger,
) *EmitirUseCase {
	return &EmitirUseCase{
		txRunner:    txRunner,
		asignador:   asignador,
		totales:     siidom.NewTotalesService(),
		constructor: constructor,
		timbre:      timbre,
		firmador:    firmador,
		barras:      barras,
		encolador:   encolador,
		cert:        cert,
		log:         log,
		ahora:       time.Now,
	}
}

// DetalleInput es una línea de detalle del documento a emitir.
type DetalleInput struct {
	Nombre      string
	Descripcion string
	Codigo      string
	Unidad      string
	Cantidad    decimal.Decimal
	PrecioUnit  decimal.Decimal
	Exenta      bool
}

// EmitirInput entrada del caso de uso de emisión. Los montos no vienen del
// caller: se calculan siempre a partir de las líneas.
type EmitirInput struct {
	TipoDTE string

	RUTEmisor         string
	RazonSocialEmisor string
	GiroEmisor        string
	DireccionEmisor   string
	ComunaEmisor      string

	RUTReceptor         string
	RazonSocialReceptor string
	GiroReceptor        string
	DireccionReceptor   string
	ComunaReceptor      string
	CiudadReceptor      string

	// Solo guías de despacho.
	TipoTraslado string

	// Obligatoria en notas de crédito y débito.
	Referencia *entity.ReferenciaDTE

	Detalles []DetalleInput
}

// Emitir ejecuta el pipeline completo y deja el documento firmado y en cola
// de despacho. Devuelve el documento persistido con su folio asignado.
func (uc *EmitirUseCase) Emitir(ctx context.Context, input EmitirInput) (*entity.DTE, error) {
	if err := uc.validar(input); err != nil {
		return nil, err
	}

	exento := sii.EsExento(input.TipoDTE)
	lineas := make([]siidom.LineaCalculo, len(input.Detalles))
	for i, det := range input.Detalles {
		lineas[i] = siidom.LineaCalculo{
			Cantidad:       det.Cantidad,
			PrecioUnitario: det.PrecioUnit,
			Exenta:         det.Exenta,
		}
	}
	totales, err := uc.totales.Calculate(lineas, exento)
	if err != nil {
		return nil, err
	}

	priv, ok := uc.cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: la clave del certificado no es RSA", domain.ErrCertificadoInvalido)
	}

	ahora := uc.ahora()
	var emitido *entity.DTE
	err = uc.txRunner.Run(ctx, func(cafRepo repository.CAFRepository, dteRepo repository.DTERepository) error {
		caf, folio, err := uc.asignador.AsignarEnTx(ctx, cafRepo, input.RUTEmisor, input.TipoDTE)
		if err != nil {
			return err
		}

		d := uc.armarDocumento(input, caf, folio, totales, ahora)

		xmlDTE, err := uc.constructor.Construir(d)
		if err != nil {
			return err
		}
		d.XMLDTE = string(xmlDTE)

		ted, err := uc.timbre.Generar(d, caf, priv)
		if err != nil {
			return err
		}
		d.TEDXML = string(ted)

		firmado, err := uc.firmador.Firmar(xmlDTE, ted, uc.cert)
		if err != nil {
			return err
		}
		d.XMLFirmado = string(firmado)
		d.DatosPDF417 = uc.barras.Payload(ted)
		d.Estado = entity.EstadoFirmado

		if err := dteRepo.Create(ctx, d); err != nil {
			return err
		}
		emitido = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	uc.log.Info().
		Str("dte_id", emitido.ID).
		Str("tipo_dte", emitido.TipoDTE).
		Int64("folio", emitido.Folio).
		Str("monto_total", emitido.MontoTotal.String()).
		Msg("documento emitido y firmado")

	// El documento ya es válido aunque el encolado falle: queda firmado y un
	// reenvío posterior lo recupera.
	if err := uc.encolador.Encolar(ctx, emitido.ID); err != nil {
		uc.log.Error().Err(err).Str("dte_id", emitido.ID).Msg("no se pudo encolar el documento")
	}
	return emitido, nil
}

func (uc *EmitirUseCase) validar(input EmitirInput) error {
	if !sii.EsTipoSoportado(input.TipoDTE) {
		return fmt.Errorf("%w: %q", domain.ErrTipoDTENoSoportado, input.TipoDTE)
	}
	if sii.RequiereReferencia(input.TipoDTE) && input.Referencia == nil {
		return domain.ErrReferenciaFaltante
	}
	if err := sii.ValidateRUT(input.RUTEmisor); err != nil {
		return fmt.Errorf("%w: RUT emisor: %v", domain.ErrInvalidInput, err)
	}
	if err := sii.ValidateRUT(input.RUTReceptor); err != nil {
		return fmt.Errorf("%w: RUT receptor: %v", domain.ErrInvalidInput, err)
	}
	if len(input.Detalles) == 0 {
		return fmt.Errorf("%w: el documento no tiene líneas de detalle", domain.ErrInvalidInput)
	}
	return nil
}

func (uc *EmitirUseCase) armarDocumento(input EmitirInput, caf *entity.CAF, folio int64, totales *siidom.Totales, ahora time.Time) *entity.DTE {
	detalles := make([]entity.DetalleDTE, len(input.Detalles))
	for i, det := range input.Detalles {
		unidad := det.Unidad
		if unidad == "" {
			unidad = sii.UnidadPorDefecto
		}
		detalles[i] = entity.DetalleDTE{
			Nombre:      det.Nombre,
			Descripcion: det.Descripcion,
			Codigo:      det.Codigo,
			Unidad:      unidad,
			Cantidad:    det.Cantidad,
			PrecioUnit:  det.PrecioUnit,
			MontoItem:   totales.MontosItem[i],
		}
	}
	return &entity.DTE{
		ID:           uuid.New().String(),
		CAFID:        caf.ID,
		TipoDTE:      input.TipoDTE,
		Folio:        folio,
		FechaEmision: ahora,

		RUTEmisor:         input.RUTEmisor,
		RazonSocialEmisor: input.RazonSocialEmisor,
		GiroEmisor:        input.GiroEmisor,
		DireccionEmisor:   input.DireccionEmisor,
		ComunaEmisor:      input.ComunaEmisor,

		RUTReceptor:         input.RUTReceptor,
		RazonSocialReceptor: input.RazonSocialReceptor,
		GiroReceptor:        input.GiroReceptor,
		DireccionReceptor:   input.DireccionReceptor,
		ComunaReceptor:      input.ComunaReceptor,
		CiudadReceptor:      input.CiudadReceptor,

		MontoNeto:   totales.MontoNeto,
		MontoExento: totales.MontoExento,
		MontoIVA:    totales.MontoIVA,
		MontoTotal:  totales.MontoTotal,

		TipoTraslado: input.TipoTraslado,
		Referencia:   input.Referencia,
		Detalles:     detalles,

		Estado:        entity.EstadoGenerado,
		FechaCreacion: ahora,
	}
}
