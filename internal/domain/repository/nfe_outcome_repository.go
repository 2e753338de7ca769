package repository

import (
	"context"

	"github.com/jhoicas/nfe-emissor/internal/domain/entity"
)

// NFeOutcomeRepository puerto de persistencia del diario de resultados. Sólo agrega
// registros; nunca actualiza uno existente.
type NFeOutcomeRepository interface {
	Save(ctx context.Context, outcome *entity.NFeOutcome) error
	// GetLatestByAccessKey devuelve el último registro de la clave o nil si no hay ninguno.
	GetLatestByAccessKey(ctx context.Context, accessKey string) (*entity.NFeOutcome, error)
	ListByAccessKey(ctx context.Context, accessKey string) ([]*entity.NFeOutcome, error)
	// ListPending claves cuyo último resultado es TIMED_OUT, más antiguas primero.
	ListPending(ctx context.Context, limit int) ([]*entity.NFeOutcome, error)
}
