package service

import (
	"context"
	"time"

	"sbtc-gateway/internal/core/domain"
	"sbtc-gateway/internal/core/ports"
	"sbtc-gateway/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EndpointServiceImpl implements ports.EndpointService.
type EndpointServiceImpl struct {
	endpointRepo ports.WebhookEndpointRepository
	merchantRepo ports.MerchantRepository
	crypto       ports.EncryptionService
	dispatch     ports.DispatchService
	log          zerolog.Logger
}

// NewEndpointService creates a new EndpointServiceImpl.
func NewEndpointService(
	endpointRepo ports.WebhookEndpointRepository,
	merchantRepo ports.MerchantRepository,
	crypto ports.EncryptionService,
	dispatch ports.DispatchService,
	log zerolog.Logger,
) *EndpointServiceImpl {
	return &EndpointServiceImpl{
		endpointRepo: endpointRepo,
		merchantRepo: merchantRepo,
		crypto:       crypto,
		dispatch:     dispatch,
		log:          log,
	}
}

// Create registers a delivery endpoint and returns it together with
// the plaintext signing secret. The secret is shown exactly once; only
// the encrypted form is stored.
func (s *EndpointServiceImpl) Create(ctx context.Context, merchantID uuid.UUID, url string, events []domain.EventType) (*domain.WebhookEndpoint, string, error) {
	merchant, err := s.merchantRepo.GetByID(ctx, merchantID)
	if err != nil {
		return nil, "", apperror.ErrDatabaseError(err)
	}
	if merchant == nil {
		return nil, "", apperror.ErrNotFound("merchant")
	}
	if !merchant.IsActive() {
		return nil, "", apperror.ErrMerchantSuspended()
	}

	if len(events) == 0 {
		return nil, "", apperror.Validation("at least one subscribed event type is required")
	}
	for _, ev := range events {
		if !domain.IsValidEventType(string(ev)) {
			return nil, "", apperror.ErrUnknownEventType(string(ev))
		}
	}

	secret := domain.NewEndpointSecret()
	secretEnc, err := s.crypto.Encrypt(secret)
	if err != nil {
		return nil, "", apperror.ErrEncryptionFailure(err)
	}

	endpoint := &domain.WebhookEndpoint{
		ID:               uuid.New(),
		MerchantID:       merchantID,
		URL:              url,
		SecretEnc:        secretEnc,
		SubscribedEvents: events,
		Active:           true,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.endpointRepo.Create(ctx, endpoint); err != nil {
		return nil, "", apperror.ErrDatabaseError(err)
	}

	s.log.Info().
		Str("endpoint_id", endpoint.ID.String()).
		Str("merchant_id", merchantID.String()).
		Str("url", url).
		Msg("endpoint: created")

	return endpoint, secret, nil
}

// List returns all of the merchant's endpoints, active and inactive.
func (s *EndpointServiceImpl) List(ctx context.Context, merchantID uuid.UUID) ([]domain.WebhookEndpoint, error) {
	endpoints, err := s.endpointRepo.ListByMerchant(ctx, merchantID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return endpoints, nil
}

// Deactivate retires an endpoint. There is no reactivation: rotation
// means creating a replacement endpoint.
func (s *EndpointServiceImpl) Deactivate(ctx context.Context, merchantID, id uuid.UUID) error {
	endpoint, err := s.endpointRepo.GetByID(ctx, id)
	if err != nil {
		return apperror.ErrDatabaseError(err)
	}
	if endpoint == nil || endpoint.MerchantID != merchantID {
		return apperror.ErrNotFound("webhook endpoint")
	}
	if err := s.endpointRepo.Deactivate(ctx, merchantID, id); err != nil {
		return apperror.ErrDatabaseError(err)
	}
	s.log.Info().
		Str("endpoint_id", id.String()).
		Str("merchant_id", merchantID.String()).
		Msg("endpoint: deactivated")
	return nil
}

// SendTest dispatches an endpoint.test event to the one endpoint so a
// merchant can verify their handler and signature check end to end.
func (s *EndpointServiceImpl) SendTest(ctx context.Context, merchantID, id uuid.UUID) error {
	object := map[string]any{
		"endpoint_id": id.String(),
		"message":     "test webhook event",
	}
	return s.dispatch.Dispatch(ctx, merchantID, domain.EventEndpointTest, object, &id)
}
