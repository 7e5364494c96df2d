package despacho

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/pkg/logger"
)

// ── fakes ─────────────────────────────────────────────────────────────────────

type memDTERepo struct {
	mu   sync.Mutex
	docs map[string]*entity.DTE

	// trasLeerEstado corre después de cada GetEstado; permite intercalar
	// otra transición entre la lectura y la escritura de un llamador
	trasLeerEstado func()
}

func newMemDTERepo(docs ...*entity.DTE) *memDTERepo {
	r := &memDTERepo{docs: map[string]*entity.DTE{}}
	for _, d := range docs {
		c := *d
		r.docs[d.ID] = &c
	}
	return r
}

func (r *memDTERepo) get(id string) *entity.DTE {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.docs[id]; ok {
		c := *d
		return &c
	}
	return nil
}

func (r *memDTERepo) Create(_ context.Context, d *entity.DTE) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *d
	r.docs[d.ID] = &c
	return nil
}

func (r *memDTERepo) GetByID(_ context.Context, id string) (*entity.DTE, error) {
	return r.get(id), nil
}

func (r *memDTERepo) GetEstado(_ context.Context, id string) (*entity.DTE, error) {
	d := r.get(id)
	if r.trasLeerEstado != nil {
		r.trasLeerEstado()
	}
	return d, nil
}

func (r *memDTERepo) GetByFolio(context.Context, string, string, int64) (*entity.DTE, error) {
	return nil, nil
}

func (r *memDTERepo) Update(_ context.Context, d *entity.DTE) error {
	return r.Create(context.Background(), d)
}

func (r *memDTERepo) UpdateDespacho(_ context.Context, d *entity.DTE) error {
	return r.Create(context.Background(), d)
}

func (r *memDTERepo) ListByEstado(context.Context, string, string, int) ([]*entity.DTE, error) {
	return nil, nil
}

func (r *memDTERepo) CountByRangoFolio(context.Context, string, string, int64, int64) (int64, error) {
	return 0, nil
}

func (r *memDTERepo) ClaimEnviando(_ context.Context, id string) (*entity.DTE, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok || d.Estado != entity.EstadoEnCola {
		return nil, domain.ErrDTEEnVuelo
	}
	d.Estado = entity.EstadoEnviando
	c := *d
	return &c, nil
}

func (r *memDTERepo) MarcarEnCola(_ context.Context, id string, proximoIntento time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok || !d.Despachable() {
		return false, nil
	}
	d.Estado = entity.EstadoEnCola
	d.Intentos = 0
	d.ProximoIntento = &proximoIntento
	d.ErrorEnvio = ""
	return true, nil
}

func (r *memDTERepo) MarcarAnulado(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return false, nil
	}
	switch d.Estado {
	case entity.EstadoGenerado, entity.EstadoFirmado, entity.EstadoEnCola:
		d.Estado = entity.EstadoAnulado
		d.ProximoIntento = nil
		return true, nil
	}
	return false, nil
}

func (r *memDTERepo) ListReintentosPendientes(_ context.Context, ahora time.Time, limit int) ([]*entity.DTE, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []*entity.DTE
	for _, d := range r.docs {
		if d.Estado == entity.EstadoEnCola && d.ProximoIntento != nil && !d.ProximoIntento.After(ahora) {
			c := *d
			list = append(list, &c)
			if len(list) == limit {
				break
			}
		}
	}
	return list, nil
}

type fakeGateway struct {
	mu       sync.Mutex
	llamadas int
	res      *ResultadoEnvio
	err      error
}

func (g *fakeGateway) Despachar(context.Context, *entity.DTE) (*ResultadoEnvio, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.llamadas++
	if g.err != nil {
		return nil, g.err
	}
	return g.res, nil
}

func (g *fakeGateway) vecesLlamado() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.llamadas
}

// ── helpers ───────────────────────────────────────────────────────────────────

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Env: "production", Level: "error"})
}

func docFirmado(id string) *entity.DTE {
	return &entity.DTE{
		ID:         id,
		TipoDTE:    "33",
		Folio:      123,
		RUTEmisor:  "76086428-5",
		XMLFirmado: "<DTE/>",
		Estado:     entity.EstadoFirmado,
	}
}

func nuevaCola(repo *memDTERepo, gw Gateway) *Queue {
	return NewQueue(repo, gw, 1, testLogger())
}

// ── encolado ──────────────────────────────────────────────────────────────────

func TestEncolar_DocumentoFirmado(t *testing.T) {
	repo := newMemDTERepo(docFirmado("dte-1"))
	q := nuevaCola(repo, &fakeGateway{})

	require.NoError(t, q.Encolar(context.Background(), "dte-1"))

	d := repo.get("dte-1")
	assert.Equal(t, entity.EstadoEnCola, d.Estado)
	assert.Equal(t, 0, d.Intentos)
	assert.NotNil(t, d.ProximoIntento)
}

func TestEncolar_ReenvioReiniciaElCiclo(t *testing.T) {
	d := docFirmado("dte-1")
	d.Estado = entity.EstadoFallido
	d.Intentos = MaxIntentos
	d.ErrorEnvio = "timeout"
	repo := newMemDTERepo(d)
	q := nuevaCola(repo, &fakeGateway{})

	require.NoError(t, q.Encolar(context.Background(), "dte-1"))

	res := repo.get("dte-1")
	assert.Equal(t, entity.EstadoEnCola, res.Estado)
	assert.Equal(t, 0, res.Intentos)
	assert.Empty(t, res.ErrorEnvio)
}

func TestEncolar_DocumentoYaAceptadoEsNoOp(t *testing.T) {
	d := docFirmado("dte-1")
	d.Estado = entity.EstadoAceptado
	repo := newMemDTERepo(d)
	q := nuevaCola(repo, &fakeGateway{})

	require.NoError(t, q.Encolar(context.Background(), "dte-1"))
	assert.Equal(t, entity.EstadoAceptado, repo.get("dte-1").Estado)

	select {
	case id := <-q.trabajos:
		t.Fatalf("no debía entregar %s a los workers", id)
	default:
	}
}

func TestEncolar_DocumentoEnviadoEsNoOp(t *testing.T) {
	d := docFirmado("dte-1")
	d.Estado = entity.EstadoEnviado
	repo := newMemDTERepo(d)
	q := nuevaCola(repo, &fakeGateway{})

	require.NoError(t, q.Encolar(context.Background(), "dte-1"))
	assert.Equal(t, entity.EstadoEnviado, repo.get("dte-1").Estado)
}

func TestEncolar_DocumentoEnVuelo(t *testing.T) {
	d := docFirmado("dte-1")
	d.Estado = entity.EstadoEnviando
	q := nuevaCola(newMemDTERepo(d), &fakeGateway{})

	err := q.Encolar(context.Background(), "dte-1")
	assert.ErrorIs(t, err, domain.ErrDTEEnVuelo)
}

func TestEncolar_DocumentoAnulado(t *testing.T) {
	d := docFirmado("dte-1")
	d.Estado = entity.EstadoAnulado
	q := nuevaCola(newMemDTERepo(d), &fakeGateway{})

	err := q.Encolar(context.Background(), "dte-1")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestEncolar_DocumentoInexistente(t *testing.T) {
	q := nuevaCola(newMemDTERepo(), &fakeGateway{})
	err := q.Encolar(context.Background(), "no-existe")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEncolar_SinFirmarNoEsDespachable(t *testing.T) {
	d := docFirmado("dte-1")
	d.Estado = entity.EstadoGenerado
	q := nuevaCola(newMemDTERepo(d), &fakeGateway{})

	err := q.Encolar(context.Background(), "dte-1")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestEncolar_NoPisaUnClaimIntercalado(t *testing.T) {
	repo := newMemDTERepo(docFirmado("dte-1"))
	q := nuevaCola(repo, &fakeGateway{})
	encolado(repo, "dte-1")

	// un worker reclama el documento justo después de la lectura de estado
	repo.trasLeerEstado = func() {
		_, _ = repo.ClaimEnviando(context.Background(), "dte-1")
	}

	err := q.Encolar(context.Background(), "dte-1")
	assert.ErrorIs(t, err, domain.ErrDTEEnVuelo)
	assert.Equal(t, entity.EstadoEnviando, repo.get("dte-1").Estado)
}

// ── procesamiento ─────────────────────────────────────────────────────────────

func encolado(repo *memDTERepo, id string) {
	d := repo.get(id)
	ahora := time.Now()
	d.Estado = entity.EstadoEnCola
	d.ProximoIntento = &ahora
	_ = repo.UpdateDespacho(context.Background(), d)
}

func TestProcesar_EnvioAceptado(t *testing.T) {
	repo := newMemDTERepo(docFirmado("dte-1"))
	gw := &fakeGateway{res: &ResultadoEnvio{Aceptado: true, TrackID: "TRK-99", Estado: "EPR"}}
	q := nuevaCola(repo, gw)
	encolado(repo, "dte-1")

	q.procesar(context.Background(), "dte-1")

	d := repo.get("dte-1")
	assert.Equal(t, entity.EstadoAceptado, d.Estado)
	assert.Equal(t, "TRK-99", d.TrackID)
	assert.NotNil(t, d.FechaEnvio)
	assert.NotNil(t, d.FechaRespuesta)
	assert.Nil(t, d.ProximoIntento)
	assert.Equal(t, 1, gw.vecesLlamado())
}

func TestProcesar_RechazoDefinitivoNoReintenta(t *testing.T) {
	repo := newMemDTERepo(docFirmado("dte-1"))
	gw := &fakeGateway{res: &ResultadoEnvio{Aceptado: false, Estado: "RCH", Glosa: "RUT receptor inválido"}}
	q := nuevaCola(repo, gw)
	encolado(repo, "dte-1")

	q.procesar(context.Background(), "dte-1")

	d := repo.get("dte-1")
	assert.Equal(t, entity.EstadoRechazado, d.Estado)
	assert.Equal(t, "RUT receptor inválido", d.GlosaSII)
	assert.Nil(t, d.ProximoIntento)
}

func TestProcesar_RecepcionSinVeredictoQuedaEnviado(t *testing.T) {
	repo := newMemDTERepo(docFirmado("dte-1"))
	gw := &fakeGateway{res: &ResultadoEnvio{Aceptado: false, TrackID: "TRK-7"}}
	q := nuevaCola(repo, gw)
	encolado(repo, "dte-1")

	q.procesar(context.Background(), "dte-1")

	d := repo.get("dte-1")
	assert.Equal(t, entity.EstadoEnviado, d.Estado)
	assert.Equal(t, "TRK-7", d.TrackID)
	assert.Nil(t, d.ProximoIntento)
}

func TestProcesar_FalloAgendaReintento(t *testing.T) {
	repo := newMemDTERepo(docFirmado("dte-1"))
	gw := &fakeGateway{err: errors.New("gdexpress: timeout")}
	q := nuevaCola(repo, gw)
	encolado(repo, "dte-1")

	antes := time.Now()
	q.procesar(context.Background(), "dte-1")

	d := repo.get("dte-1")
	assert.Equal(t, entity.EstadoEnCola, d.Estado)
	assert.Equal(t, 1, d.Intentos)
	assert.Contains(t, d.ErrorEnvio, "timeout")
	require.NotNil(t, d.ProximoIntento)
	assert.WithinDuration(t, antes.Add(5*time.Second), *d.ProximoIntento, 2*time.Second)
}

func TestProcesar_ReintentosAgotados(t *testing.T) {
	d := docFirmado("dte-1")
	d.Intentos = MaxIntentos - 1
	repo := newMemDTERepo(d)
	gw := &fakeGateway{err: errors.New("gdexpress: 503")}
	q := nuevaCola(repo, gw)
	encolado(repo, "dte-1")

	q.procesar(context.Background(), "dte-1")

	res := repo.get("dte-1")
	assert.Equal(t, entity.EstadoFallido, res.Estado)
	assert.Equal(t, MaxIntentos, res.Intentos)
	assert.Nil(t, res.ProximoIntento)
}

func TestProcesar_ErrorLargoSeTruncaPorRunas(t *testing.T) {
	repo := newMemDTERepo(docFirmado("dte-1"))
	gw := &fakeGateway{err: errors.New(strings.Repeat("ñ", entity.MaxLargoError+200))}
	q := nuevaCola(repo, gw)
	encolado(repo, "dte-1")

	q.procesar(context.Background(), "dte-1")

	d := repo.get("dte-1")
	assert.Equal(t, entity.MaxLargoError, utf8.RuneCountInString(d.ErrorEnvio))
	assert.True(t, utf8.ValidString(d.ErrorEnvio), "el corte no debe partir un carácter")
}

func TestProcesar_ClaimPerdidoNoEnvia(t *testing.T) {
	d := docFirmado("dte-1")
	d.Estado = entity.EstadoEnviando // otro worker lo tiene
	repo := newMemDTERepo(d)
	gw := &fakeGateway{res: &ResultadoEnvio{Aceptado: true}}
	q := nuevaCola(repo, gw)

	q.procesar(context.Background(), "dte-1")
	assert.Equal(t, 0, gw.vecesLlamado())
}

// ── backoff ───────────────────────────────────────────────────────────────────

func TestEsperaReintento_Progresion(t *testing.T) {
	casos := map[int]time.Duration{
		1:  5 * time.Second,
		2:  30 * time.Second,
		3:  2 * time.Minute,
		4:  5 * time.Minute,
		5:  15 * time.Minute,
		6:  30 * time.Minute,
		10: 30 * time.Minute, // tope
	}
	for intento, esperado := range casos {
		assert.Equal(t, esperado, esperaReintento(intento), "intento %d", intento)
	}
}

// ── barrido ───────────────────────────────────────────────────────────────────

func TestBarrer_RecogeReintentosVencidos(t *testing.T) {
	d := docFirmado("dte-1")
	vencido := time.Now().Add(-time.Minute)
	d.Estado = entity.EstadoEnCola
	d.ProximoIntento = &vencido
	repo := newMemDTERepo(d)
	q := nuevaCola(repo, &fakeGateway{})

	q.barrer(context.Background())

	select {
	case id := <-q.trabajos:
		assert.Equal(t, "dte-1", id)
	default:
		t.Fatal("el barrido no entregó el documento vencido")
	}
}

func TestBarrer_IgnoraReintentosFuturos(t *testing.T) {
	d := docFirmado("dte-1")
	futuro := time.Now().Add(time.Hour)
	d.Estado = entity.EstadoEnCola
	d.ProximoIntento = &futuro
	repo := newMemDTERepo(d)
	q := nuevaCola(repo, &fakeGateway{})

	q.barrer(context.Background())

	select {
	case id := <-q.trabajos:
		t.Fatalf("no debía entregar %s", id)
	default:
	}
}

// ── ciclo completo con workers ────────────────────────────────────────────────

func TestStartStop_ProcesaEncolados(t *testing.T) {
	repo := newMemDTERepo(docFirmado("dte-1"))
	gw := &fakeGateway{res: &ResultadoEnvio{Aceptado: true, TrackID: "TRK-1"}}
	q := nuevaCola(repo, gw)

	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Encolar(context.Background(), "dte-1"))

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if repo.get("dte-1").Estado == entity.EstadoAceptado {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, entity.EstadoAceptado, repo.get("dte-1").Estado)
}

// ── anulación ─────────────────────────────────────────────────────────────────

func TestAnular_DesdeEnCola(t *testing.T) {
	repo := newMemDTERepo(docFirmado("dte-1"))
	q := nuevaCola(repo, &fakeGateway{})
	encolado(repo, "dte-1")

	require.NoError(t, q.Anular(context.Background(), "dte-1"))
	assert.Equal(t, entity.EstadoAnulado, repo.get("dte-1").Estado)
}

func TestAnular_NoPisaUnClaimIntercalado(t *testing.T) {
	repo := newMemDTERepo(docFirmado("dte-1"))
	q := nuevaCola(repo, &fakeGateway{})
	encolado(repo, "dte-1")

	repo.trasLeerEstado = func() {
		_, _ = repo.ClaimEnviando(context.Background(), "dte-1")
	}

	err := q.Anular(context.Background(), "dte-1")
	assert.ErrorIs(t, err, domain.ErrDTEEnVuelo)
	assert.Equal(t, entity.EstadoEnviando, repo.get("dte-1").Estado)
}

func TestAnular_DocumentoEnviadoFalla(t *testing.T) {
	d := docFirmado("dte-1")
	d.Estado = entity.EstadoAceptado
	q := nuevaCola(newMemDTERepo(d), &fakeGateway{})

	err := q.Anular(context.Background(), "dte-1")
	assert.ErrorIs(t, err, domain.ErrDTEYaEnviado)
}
