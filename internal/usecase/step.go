package usecase

import (
	"context"
	"log/slog"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/agrichain/internal/domain"
	"github.com/totegamma/agrichain/policy"
)

var stepTracer = otel.Tracer("step")

type RecordStepInput struct {
	Action      string
	Description string
	LocationID  *string
	Temperature *float64
	Humidity    *float64
	Metadata    map[string]any
	Status      string
}

type productResolver interface {
	Resolve(ctx context.Context, id string) (domain.Product, error)
}

type StepUsecase struct {
	resolver  productResolver
	steps     StepRepository
	locations LocationRepository
	mirror    *MirrorUsecase
	events    EventPublisher
	now       func() time.Time
}

func NewStepUsecase(
	resolver productResolver,
	steps StepRepository,
	locations LocationRepository,
	mirror *MirrorUsecase,
	events EventPublisher,
) *StepUsecase {
	return &StepUsecase{
		resolver:  resolver,
		steps:     steps,
		locations: locations,
		mirror:    mirror,
		events:    events,
		now:       time.Now,
	}
}

// Record appends a step to a product's supply chain. Any role holding
// CapRecordStep may record on any product, related to it or not. The
// performer is copied from the requester's session. A failed ledger mirror does not fail the
// step; the outbox entry stays for the reconciler.
func (uc *StepUsecase) Record(ctx context.Context, requester domain.SessionUser, productID string, input RecordStepInput) (domain.SupplyChainStep, error) {
	ctx, span := stepTracer.Start(ctx, "Step.Usecase.Record")
	defer span.End()

	if !policy.Allowed(requester.Role, domain.CapRecordStep) {
		return domain.SupplyChainStep{}, domain.ErrUnauthorized
	}
	if strings.TrimSpace(input.Action) == "" {
		return domain.SupplyChainStep{}, domain.ValidationError{Message: "action is required"}
	}

	product, err := uc.resolver.Resolve(ctx, productID)
	if err != nil {
		span.RecordError(err)
		return domain.SupplyChainStep{}, err
	}
	span.SetAttributes(attribute.String("ProductID", product.ID))

	locationID := input.LocationID
	address := ""
	if locationID == nil {
		location, err := uc.locations.ResolveForUser(ctx, requester.Username)
		if err != nil {
			span.RecordError(err)
			return domain.SupplyChainStep{}, pkgerrors.Wrap(err, "failed to resolve performer location")
		}
		if location != nil {
			locationID = &location.ID
			address = location.Address
		}
	} else {
		locations, err := uc.locations.ListByIDs(ctx, []string{*locationID})
		if err != nil {
			span.RecordError(err)
			return domain.SupplyChainStep{}, pkgerrors.Wrap(err, "failed to load location")
		}
		if len(locations) == 0 {
			return domain.SupplyChainStep{}, domain.ValidationError{Message: "unknown location"}
		}
		address = locations[0].Address
	}

	metadata := input.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	step := domain.SupplyChainStep{
		ProductID:   product.ID,
		Timestamp:   uc.now(),
		Action:      input.Action,
		Description: input.Description,
		PerformedBy: &domain.Performer{
			ID:           requester.Username,
			Name:         requester.Name,
			Role:         string(requester.Role),
			Organization: requester.Organization,
		},
		LocationID:  locationID,
		Temperature: input.Temperature,
		Humidity:    input.Humidity,
		Metadata:    metadata,
	}

	var newStatus *string
	if s := strings.TrimSpace(input.Status); s != "" {
		newStatus = &s
	}

	step, entry, err := uc.steps.Create(ctx, step, newStatus, func(stored domain.SupplyChainStep) domain.OutboxEntry {
		return domain.OutboxEntry{
			AggregateID: stored.ProductID,
			StepID:      &stored.ID,
			Capability:  domain.CapabilityAddSupplyChainStep,
			Args: []string{
				stored.ProductID,
				stored.ID,
				stored.Action,
				stored.Description,
				stored.PerformedBy.ID,
				address,
			},
			Status: domain.OutboxInFlight,
		}
	})
	if err != nil {
		span.RecordError(err)
		return domain.SupplyChainStep{}, pkgerrors.Wrap(err, "failed to store step")
	}

	status := product.Status
	if newStatus != nil {
		status = *newStatus
	}
	if uc.events != nil {
		event := domain.ProductEvent{
			Type:      domain.EventStepRecorded,
			ProductID: product.ID,
			BatchID:   product.BatchID,
			Actor:     requester.Username,
			Status:    status,
			At:        step.Timestamp,
		}
		if err := uc.events.Publish(ctx, event); err != nil {
			slog.WarnContext(ctx, "failed to publish step event", "product", product.ID, "err", err)
		}
	}

	if receipt := uc.mirror.Attempt(ctx, entry); receipt != nil {
		step.TxHash = &receipt.TxHash
		step.Verified = true
	} else {
		slog.WarnContext(ctx, "step stored but ledger mirror failed", "product", product.ID, "step", step.ID)
	}

	return step, nil
}
