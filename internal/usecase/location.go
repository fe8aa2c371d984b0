package usecase

import (
	"context"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/totegamma/agrichain/internal/domain"
)

var locationTracer = otel.Tracer("location")

type LocationUsecase struct {
	locations LocationRepository
}

func NewLocationUsecase(locations LocationRepository) *LocationUsecase {
	return &LocationUsecase{locations: locations}
}

// Seed saves every location, overwriting existing ones with the same id.
// Nothing is written when any entry lacks an id or a name.
func (uc *LocationUsecase) Seed(ctx context.Context, locations []domain.Location) (int, error) {
	ctx, span := locationTracer.Start(ctx, "Location.Usecase.Seed")
	defer span.End()

	for _, l := range locations {
		if strings.TrimSpace(l.ID) == "" || strings.TrimSpace(l.Name) == "" {
			return 0, domain.ValidationError{Message: "location id and name are required"}
		}
	}

	for i, l := range locations {
		if err := uc.locations.Save(ctx, l); err != nil {
			span.RecordError(err)
			return i, pkgerrors.Wrapf(err, "failed to save location %s", l.ID)
		}
	}
	return len(locations), nil
}
