package service

import (
	"context"
	"encoding/json"
	"time"

	"sbtc-gateway/internal/core/domain"
	"sbtc-gateway/internal/core/ports"
	"sbtc-gateway/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DispatchServiceImpl implements ports.DispatchService.
//
// Fan-out creates one persisted WebhookEvent per delivery target and
// hands each to the delivery worker asynchronously. A merchant with
// zero configured targets is a normal state: the dispatch is a silent
// no-op so a settled payment never fails on having no subscribers.
type DispatchServiceImpl struct {
	endpointRepo ports.WebhookEndpointRepository
	merchantRepo ports.MerchantRepository
	eventRepo    ports.WebhookEventRepository
	delivery     ports.DeliveryService
	log          zerolog.Logger
}

// NewDispatchService creates a new DispatchServiceImpl.
func NewDispatchService(
	endpointRepo ports.WebhookEndpointRepository,
	merchantRepo ports.MerchantRepository,
	eventRepo ports.WebhookEventRepository,
	delivery ports.DeliveryService,
	log zerolog.Logger,
) *DispatchServiceImpl {
	return &DispatchServiceImpl{
		endpointRepo: endpointRepo,
		merchantRepo: merchantRepo,
		eventRepo:    eventRepo,
		delivery:     delivery,
		log:          log,
	}
}

// Dispatch fans object out as an eventType event to the merchant's
// active subscribed endpoints, or to the single endpointOverride when
// set (merchant-initiated test events). Each target gets its own
// WebhookEvent with its own id.
func (s *DispatchServiceImpl) Dispatch(ctx context.Context, merchantID uuid.UUID, eventType domain.EventType, object any, endpointOverride *uuid.UUID) error {
	if endpointOverride != nil {
		endpoint, err := s.endpointRepo.GetByID(ctx, *endpointOverride)
		if err != nil {
			return apperror.ErrDatabaseError(err)
		}
		if endpoint == nil || endpoint.MerchantID != merchantID {
			return apperror.ErrNotFound("webhook endpoint")
		}
		if !endpoint.Active {
			return apperror.ErrEndpointInactive()
		}
		// The override path skips the subscription filter: a test
		// event is an explicit merchant action on this endpoint.
		return s.createAndHandOff(ctx, merchantID, eventType, object, &endpoint.ID)
	}

	endpoints, err := s.endpointRepo.ListActive(ctx, merchantID, eventType)
	if err != nil {
		return apperror.ErrDatabaseError(err)
	}

	if len(endpoints) == 0 {
		return s.dispatchLegacy(ctx, merchantID, eventType, object)
	}

	for i := range endpoints {
		if err := s.createAndHandOff(ctx, merchantID, eventType, object, &endpoints[i].ID); err != nil {
			return err
		}
	}
	return nil
}

// dispatchLegacy covers merchants configured before per-endpoint
// webhooks existed: a single merchant-level URL/secret pair. It only
// applies while the merchant has no endpoints at all; once any endpoint
// is registered, subscriptions are authoritative and an event type
// nobody subscribed to is simply not delivered.
func (s *DispatchServiceImpl) dispatchLegacy(ctx context.Context, merchantID uuid.UUID, eventType domain.EventType, object any) error {
	registered, err := s.endpointRepo.ListByMerchant(ctx, merchantID)
	if err != nil {
		return apperror.ErrDatabaseError(err)
	}
	if len(registered) > 0 {
		s.log.Debug().
			Str("merchant_id", merchantID.String()).
			Str("event_type", string(eventType)).
			Msg("dispatch: no endpoint subscribed to event type, skipping")
		return nil
	}

	merchant, err := s.merchantRepo.GetByID(ctx, merchantID)
	if err != nil {
		return apperror.ErrDatabaseError(err)
	}
	if merchant == nil || !merchant.HasLegacyWebhook() {
		s.log.Debug().
			Str("merchant_id", merchantID.String()).
			Str("event_type", string(eventType)).
			Msg("dispatch: no delivery targets configured, skipping")
		return nil
	}
	return s.createAndHandOff(ctx, merchantID, eventType, object, nil)
}

func (s *DispatchServiceImpl) createAndHandOff(ctx context.Context, merchantID uuid.UUID, eventType domain.EventType, object any, endpointID *uuid.UUID) error {
	now := time.Now().UTC()
	eventID := domain.NewEventID()

	payload, err := json.Marshal(domain.EventPayload{
		ID:      eventID,
		Type:    eventType,
		Data:    domain.EventPayloadData{Object: object},
		Created: now.Unix(),
	})
	if err != nil {
		return apperror.InternalError(err)
	}

	event := &domain.WebhookEvent{
		ID:         eventID,
		MerchantID: merchantID,
		EndpointID: endpointID,
		EventType:  eventType,
		Payload:    payload,
		Delivered:  false,
		Attempts:   0,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.eventRepo.Insert(ctx, event); err != nil {
		return apperror.ErrDatabaseError(err)
	}

	s.log.Info().
		Str("event_id", eventID).
		Str("merchant_id", merchantID.String()).
		Str("event_type", string(eventType)).
		Msg("dispatch: webhook event created")

	// First attempt runs off the request path. The event is already
	// durable; a crash here is recovered by the retry sweep.
	deliverCtx := context.WithoutCancel(ctx)
	go func() {
		if err := s.delivery.Deliver(deliverCtx, eventID); err != nil {
			s.log.Error().Err(err).Str("event_id", eventID).Msg("dispatch: initial delivery attempt failed")
		}
	}()

	return nil
}
