package folios

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jhoicas/dte-api/internal/domain"
	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/domain/repository"
	"github.com/jhoicas/dte-api/pkg/logger"
)

// UmbralAlertaFolios es el mínimo de folios disponibles por tipo bajo el cual
// se alerta al operador para que importe un nuevo CAF.
const UmbralAlertaFolios = 50

// LedgerService administra los rangos de folios CAF: importación, asignación
// secuencial bajo bloqueo de fila, barrido de vencidos y reset.
type LedgerService struct {
	txRunner TxRunner
	cafRepo  repository.CAFRepository
	dteRepo  repository.DTERepository
	parser   CAFParser
	log      *logger.Logger
	ahora    func() time.Time
}

// NewLedgerService construye el servicio de folios.
func NewLedgerService(
	txRunner TxRunner,
	cafRepo repository.CAFRepository,
	dteRepo repository.DTERepository,
	parser CAFParser,
	log *logger.Logger,
) *LedgerService {
	return &LedgerService{
		txRunner: txRunner,
		cafRepo:  cafRepo,
		dteRepo:  dteRepo,
		parser:   parser,
		log:      log.Component("folios"),
		ahora:    time.Now,
	}
}

// ImportarCAF parsea y registra un archivo CAF. Rechaza duplicados (misma
// huella) y rangos que se solapan con un CAF ya cargado del mismo tipo.
func (s *LedgerService) ImportarCAF(ctx context.Context, contenido []byte) (*entity.CAF, error) {
	caf, err := s.parser.Parse(contenido)
	if err != nil {
		return nil, err
	}
	caf.ID = uuid.New().String()

	existentes, err := s.cafRepo.ListByEmpresa(ctx, caf.RUTEmpresa, caf.TipoDTE)
	if err != nil {
		return nil, err
	}
	for _, e := range existentes {
		if e.Estado == entity.CAFAnulado {
			continue
		}
		if caf.FolioDesde <= e.FolioHasta && caf.FolioHasta >= e.FolioDesde {
			return nil, fmt.Errorf("%w: el rango %d-%d se solapa con el CAF %s (%d-%d)",
				domain.ErrConflict, caf.FolioDesde, caf.FolioHasta, e.ID, e.FolioDesde, e.FolioHasta)
		}
	}

	if err := s.cafRepo.Create(ctx, caf); err != nil {
		return nil, err
	}
	s.log.Info().
		Str("caf_id", caf.ID).
		Str("tipo_dte", caf.TipoDTE).
		Int64("folio_desde", caf.FolioDesde).
		Int64("folio_hasta", caf.FolioHasta).
		Msg("CAF importado")
	return caf, nil
}

// Asignar entrega el siguiente folio para la empresa y tipo dados, en una
// transacción propia. Para emisión de documentos usar AsignarEnTx, que
// comparte transacción con la persistencia del documento.
func (s *LedgerService) Asignar(ctx context.Context, rutEmpresa, tipoDTE string) (*entity.CAF, int64, error) {
	var (
		caf   *entity.CAF
		folio int64
	)
	err := s.txRunner.Run(ctx, func(cafRepo repository.CAFRepository, _ repository.DTERepository) error {
		var err error
		caf, folio, err = s.AsignarEnTx(ctx, cafRepo, rutEmpresa, tipoDTE)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return caf, folio, nil
}

// AsignarEnTx entrega el siguiente folio usando un repositorio ya atado a una
// transacción. La fila del CAF queda bloqueada (FOR UPDATE) hasta el Commit,
// así dos emisiones concurrentes nunca reciben el mismo folio. Los CAF
// vencidos o desbordados que encuentre en el camino quedan marcados y se
// sigue con el siguiente candidato.
func (s *LedgerService) AsignarEnTx(ctx context.Context, cafRepo repository.CAFRepository, rutEmpresa, tipoDTE string) (*entity.CAF, int64, error) {
	ahora := s.ahora()
	for {
		caf, err := cafRepo.GetCandidatoAsignacion(ctx, rutEmpresa, tipoDTE)
		if err != nil {
			return nil, 0, err
		}
		if caf == nil {
			return nil, 0, fmt.Errorf("%w: tipo %s", domain.ErrNoFoliosDisponibles, tipoDTE)
		}

		if !caf.Vigente(ahora) {
			caf.Estado = entity.CAFVencido
			if err := cafRepo.Update(ctx, caf); err != nil {
				return nil, 0, err
			}
			s.log.Warn().Str("caf_id", caf.ID).Msg("CAF vencido detectado en asignación")
			continue
		}

		folio := caf.FolioActual + 1
		if folio > caf.FolioHasta {
			caf.Estado = entity.CAFAgotado
			caf.FechaAgotamiento = &ahora
			if err := cafRepo.Update(ctx, caf); err != nil {
				return nil, 0, err
			}
			continue
		}

		caf.FolioActual = folio
		caf.FoliosUtilizados++
		if folio == caf.FolioHasta {
			caf.Estado = entity.CAFAgotado
			caf.FechaAgotamiento = &ahora
			s.log.Info().Str("caf_id", caf.ID).Msg("CAF agotado: último folio asignado")
		}
		if err := cafRepo.Update(ctx, caf); err != nil {
			return nil, 0, err
		}

		if disp := caf.FoliosDisponibles(); caf.Estado == entity.CAFActivo && disp < UmbralAlertaFolios {
			s.log.Warn().
				Str("tipo_dte", tipoDTE).
				Int64("folios_disponibles", disp).
				Msg("folios por agotarse: importar un nuevo CAF")
		}
		return caf, folio, nil
	}
}

// Reset devuelve el puntero de un CAF al inicio del rango. Solo es válido
// cuando ningún documento fue emitido con folios del rango: recupera un CAF
// cuyo puntero avanzó por emisiones que terminaron en rollback o crash.
func (s *LedgerService) Reset(ctx context.Context, cafID string) (*entity.CAF, error) {
	caf, err := s.cafRepo.GetByID(ctx, cafID)
	if err != nil {
		return nil, err
	}
	if caf == nil {
		return nil, fmt.Errorf("%w: caf %s", domain.ErrNotFound, cafID)
	}

	emitidos, err := s.dteRepo.CountByRangoFolio(ctx, caf.RUTEmpresa, caf.TipoDTE, caf.FolioDesde, caf.FolioHasta)
	if err != nil {
		return nil, err
	}
	if emitidos > 0 {
		return nil, fmt.Errorf("%w: %d documentos emitidos en el rango %d-%d",
			domain.ErrCAFConFoliosUsados, emitidos, caf.FolioDesde, caf.FolioHasta)
	}

	caf.FolioActual = caf.FolioDesde - 1
	caf.FoliosUtilizados = 0
	caf.FechaAgotamiento = nil
	if caf.Estado == entity.CAFAgotado {
		caf.Estado = entity.CAFActivo
	}
	if err := s.cafRepo.Update(ctx, caf); err != nil {
		return nil, err
	}
	s.log.Info().Str("caf_id", caf.ID).Msg("CAF reseteado al inicio del rango")
	return caf, nil
}

// Anular retira un CAF de la asignación de forma definitiva.
func (s *LedgerService) Anular(ctx context.Context, cafID string) error {
	caf, err := s.cafRepo.GetByID(ctx, cafID)
	if err != nil {
		return err
	}
	if caf == nil {
		return fmt.Errorf("%w: caf %s", domain.ErrNotFound, cafID)
	}
	caf.Estado = entity.CAFAnulado
	return s.cafRepo.Update(ctx, caf)
}

// ListarCAF lista los CAF de una empresa y alerta por tipos con pocos folios.
func (s *LedgerService) ListarCAF(ctx context.Context, rutEmpresa, tipoDTE string) ([]*entity.CAF, error) {
	list, err := s.cafRepo.ListByEmpresa(ctx, rutEmpresa, tipoDTE)
	if err != nil {
		return nil, err
	}
	disponibles := map[string]int64{}
	for _, caf := range list {
		if caf.Estado == entity.CAFActivo && caf.Vigente(s.ahora()) {
			disponibles[caf.TipoDTE] += caf.FoliosDisponibles()
		}
	}
	for tipo, disp := range disponibles {
		if disp < UmbralAlertaFolios {
			s.log.Warn().
				Str("tipo_dte", tipo).
				Int64("folios_disponibles", disp).
				Msg("folios por agotarse: importar un nuevo CAF")
		}
	}
	return list, nil
}

// SweepVencidos marca como vencidos los CAF activos fuera de vigencia. Lo
// invoca el cron periódico.
func (s *LedgerService) SweepVencidos(ctx context.Context) (int64, error) {
	n, err := s.cafRepo.MarcarVencidos(ctx, s.ahora())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info().Int64("cantidad", n).Msg("CAF vencidos marcados")
	}
	return n, nil
}
