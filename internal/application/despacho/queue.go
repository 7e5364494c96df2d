package despacho

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/domain/repository"
	"github.com/jhoicas/dte-api/pkg/logger"
	"github.com/jhoicas/dte-api/pkg/sii"
)

// MaxIntentos es el total de envíos antes de declarar el documento fallido.
const MaxIntentos = 6

// NumWorkersPorDefecto trabajadores concurrentes de la cola.
const NumWorkersPorDefecto = 5

// IntervaloReencole frecuencia del barrido que recupera reintentos vencidos.
// El estado de la cola vive en la base: el barrido es lo que hace que los
// reintentos sobrevivan a un reinicio del proceso.
const IntervaloReencole = 30 * time.Second

// esperas entre reintentos; el último valor queda como tope.
var esperasReintento = []time.Duration{
	5 * time.Second,
	30 * time.Second,
	2 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
}

// Queue es la cola de despacho: recibe documentos firmados, los envía al
// gateway con workers concurrentes y administra reintentos con backoff.
type Queue struct {
	dteRepo repository.DTERepository
	gateway Gateway
	log     *logger.Logger
	ahora   func() time.Time

	workers  int
	trabajos chan string
	wg       sync.WaitGroup
	cancelar context.CancelFunc
}

// NewQueue construye la cola. workers <= 0 usa el valor por defecto.
func NewQueue(dteRepo repository.DTERepository, gateway Gateway, workers int, log *logger.Logger) *Queue {
	if workers <= 0 {
		workers = NumWorkersPorDefecto
	}
	return &Queue{
		dteRepo:  dteRepo,
		gateway:  gateway,
		log:      log.Component("despacho"),
		ahora:    time.Now,
		workers:  workers,
		trabajos: make(chan string, 256),
	}
}

// Start levanta los workers y el barrido de reintentos. No bloquea.
func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancelar = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	q.wg.Add(1)
	go q.reencolador(ctx)
	q.log.Info().Int("workers", q.workers).Msg("cola de despacho iniciada")
}

// Stop detiene los workers y espera a que terminen el envío en curso.
func (q *Queue) Stop() {
	if q.cancelar != nil {
		q.cancelar()
	}
	q.wg.Wait()
	q.log.Info().Msg("cola de despacho detenida")
}

// Encolar marca el documento para envío y lo entrega a los workers. Es la
// entrada tanto de la emisión como del reenvío manual: un documento fallido o
// rechazado vuelve a la cola con el ciclo de reintentos reiniciado.
func (q *Queue) Encolar(ctx context.Context, dteID string) error {
	d, err := q.dteRepo.GetEstado(ctx, dteID)
	if err != nil {
		return err
	}
	if d == nil {
		return fmt.Errorf("%w: documento %s", domain.ErrNotFound, dteID)
	}

	switch d.Estado {
	case entity.EstadoEnviando:
		return fmt.Errorf("%w: documento %s", domain.ErrDTEEnVuelo, dteID)
	case entity.EstadoEnviado, entity.EstadoAceptado:
		// encolar lo ya recibido por el gateway es un no-op: reenviarlo
		// duplicaría el documento ante el SII
		q.log.Warn().Str("dte_id", dteID).Str("estado", d.Estado).Msg("encolar ignorado: documento ya enviado")
		return nil
	case entity.EstadoAnulado:
		return fmt.Errorf("%w: documento anulado", domain.ErrConflict)
	case entity.EstadoEnCola:
		// ya está en cola; reentregar el ID es inocuo, el claim es atómico
	default:
		if !d.Despachable() {
			return fmt.Errorf("%w: estado %s no es despachable", domain.ErrConflict, d.Estado)
		}
	}

	// La transición va condicionada en la base: si un worker reclamó el
	// documento después de la lectura de arriba, la fila no cambia y no se
	// pisa el estado enviando.
	ok, err := q.dteRepo.MarcarEnCola(ctx, dteID, q.ahora())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: documento %s", domain.ErrDTEEnVuelo, dteID)
	}

	select {
	case q.trabajos <- dteID:
	default:
		// canal lleno: el reencolador lo recoge en el próximo barrido
		q.log.Warn().Str("dte_id", dteID).Msg("cola llena, documento queda para el barrido")
	}
	return nil
}

// Anular retira un documento que aún no salió: generado, firmado o en cola.
func (q *Queue) Anular(ctx context.Context, dteID string) error {
	d, err := q.dteRepo.GetEstado(ctx, dteID)
	if err != nil {
		return err
	}
	if d == nil {
		return fmt.Errorf("%w: documento %s", domain.ErrNotFound, dteID)
	}
	switch d.Estado {
	case entity.EstadoGenerado, entity.EstadoFirmado, entity.EstadoEnCola:
		ok, err := q.dteRepo.MarcarAnulado(ctx, dteID)
		if err != nil {
			return err
		}
		if !ok {
			// un worker lo reclamó entre la lectura y la escritura
			return fmt.Errorf("%w: documento %s", domain.ErrDTEEnVuelo, dteID)
		}
		return nil
	case entity.EstadoEnviando:
		return fmt.Errorf("%w: documento %s", domain.ErrDTEEnVuelo, dteID)
	default:
		return fmt.Errorf("%w: documento %s ya fue enviado", domain.ErrDTEYaEnviado, dteID)
	}
}

// ── workers ───────────────────────────────────────────────────────────────────

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case dteID := <-q.trabajos:
			q.procesar(ctx, dteID)
		}
	}
}

// procesar reclama el documento (en_cola -> enviando), lo envía y persiste el
// resultado. El claim atómico garantiza a lo sumo un envío en vuelo por
// documento aunque el ID llegue duplicado por el canal y el barrido.
func (q *Queue) procesar(ctx context.Context, dteID string) {
	d, err := q.dteRepo.ClaimEnviando(ctx, dteID)
	if err != nil {
		q.log.Debug().Err(err).Str("dte_id", dteID).Msg("claim descartado")
		return
	}

	res, err := q.gateway.Despachar(ctx, d)
	ahora := q.ahora()
	if err != nil {
		q.registrarFallo(ctx, d, err, ahora)
		return
	}

	d.TrackID = res.TrackID
	d.GlosaSII = res.Glosa
	d.ErrorEnvio = ""
	d.ProximoIntento = nil
	d.FechaEnvio = &ahora
	d.FechaRespuesta = &ahora
	switch {
	case res.Aceptado:
		d.Estado = entity.EstadoAceptado
	case res.Estado == "" && res.TrackID != "":
		// el gateway entregó TrackId sin veredicto: el documento quedó
		// recibido y la resolución llega después
		d.Estado = entity.EstadoEnviado
	default:
		d.Estado = entity.EstadoRechazado
	}
	if err := q.dteRepo.UpdateDespacho(ctx, d); err != nil {
		q.log.Error().Err(err).Str("dte_id", d.ID).Msg("no se pudo persistir el resultado del envío")
		return
	}
	q.log.Info().
		Str("dte_id", d.ID).
		Str("estado", d.Estado).
		Str("track_id", d.TrackID).
		Msg("documento despachado")
}

// registrarFallo agenda el reintento o declara el documento fallido.
func (q *Queue) registrarFallo(ctx context.Context, d *entity.DTE, causa error, ahora time.Time) {
	d.Intentos++
	// truncado por runas para no partir un carácter multibyte
	msg := sii.Truncate(causa.Error(), entity.MaxLargoError)
	d.ErrorEnvio = msg

	if d.Intentos >= MaxIntentos {
		d.Estado = entity.EstadoFallido
		d.ProximoIntento = nil
		q.log.Error().
			Str("dte_id", d.ID).
			Int("intentos", d.Intentos).
			Str("causa", msg).
			Msg("documento fallido: reintentos agotados")
	} else {
		espera := esperaReintento(d.Intentos)
		siguiente := ahora.Add(espera)
		d.Estado = entity.EstadoEnCola
		d.ProximoIntento = &siguiente
		q.log.Warn().
			Str("dte_id", d.ID).
			Int("intentos", d.Intentos).
			Dur("espera", espera).
			Str("causa", msg).
			Msg("envío fallido, reintento agendado")
	}
	if err := q.dteRepo.UpdateDespacho(ctx, d); err != nil {
		q.log.Error().Err(err).Str("dte_id", d.ID).Msg("no se pudo persistir el fallo de envío")
	}
}

func esperaReintento(intento int) time.Duration {
	idx := intento - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(esperasReintento) {
		idx = len(esperasReintento) - 1
	}
	return esperasReintento[idx]
}

// reencolador barre la base en busca de reintentos vencidos y los entrega a
// los workers. También recupera documentos encolados por un proceso anterior.
func (q *Queue) reencolador(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(IntervaloReencole)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.barrer(ctx)
		}
	}
}

func (q *Queue) barrer(ctx context.Context) {
	pendientes, err := q.dteRepo.ListReintentosPendientes(ctx, q.ahora(), 100)
	if err != nil {
		q.log.Error().Err(err).Msg("barrido de reintentos falló")
		return
	}
	for _, d := range pendientes {
		select {
		case q.trabajos <- d.ID:
		default:
			return // canal lleno: el resto espera al próximo barrido
		}
	}
}
