package service

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"sbtc-gateway/internal/core/domain"
	"sbtc-gateway/internal/core/ports"
	"sbtc-gateway/pkg/apperror"

	"github.com/rs/zerolog"
)

const (
	// MaxDeliveryAttempts caps the retry ladder. After the fifth
	// failed attempt the event stays permanently undelivered and is
	// surfaced only through the audit listing.
	MaxDeliveryAttempts = 5

	deliveryTimeout   = 30 * time.Second
	deliveryUserAgent = "sbtc-gateway-webhooks/1.0"

	// responseBodyLimit truncates stored merchant responses.
	responseBodyLimit = 1000

	headerSignature = "X-SBTC-Signature"
	headerEventID   = "X-SBTC-Event-Id"
	headerEventType = "X-SBTC-Event-Type"
)

// DeliveryServiceImpl implements ports.DeliveryService.
//
// One call is one signed delivery attempt. Failures schedule exactly
// one retry through the durable queue with exponential backoff
// (2^attempts seconds). A per-event in-flight guard keeps a scheduled
// retry from racing a still-running attempt.
type DeliveryServiceImpl struct {
	eventRepo    ports.WebhookEventRepository
	endpointRepo ports.WebhookEndpointRepository
	merchantRepo ports.MerchantRepository
	crypto       ports.EncryptionService
	signer       ports.SignatureService
	retryQueue   ports.RetryQueue
	client       *http.Client
	log          zerolog.Logger
	now          func() time.Time

	inFlight sync.Map // event id -> struct{}
}

// NewDeliveryService creates a new DeliveryServiceImpl.
func NewDeliveryService(
	eventRepo ports.WebhookEventRepository,
	endpointRepo ports.WebhookEndpointRepository,
	merchantRepo ports.MerchantRepository,
	crypto ports.EncryptionService,
	signer ports.SignatureService,
	retryQueue ports.RetryQueue,
	log zerolog.Logger,
) *DeliveryServiceImpl {
	return &DeliveryServiceImpl{
		eventRepo:    eventRepo,
		endpointRepo: endpointRepo,
		merchantRepo: merchantRepo,
		crypto:       crypto,
		signer:       signer,
		retryQueue:   retryQueue,
		client:       &http.Client{Timeout: deliveryTimeout},
		log:          log,
		now:          time.Now,
	}
}

// Deliver performs one delivery attempt for the persisted event.
// Already-delivered and attempt-exhausted events are a no-op.
func (s *DeliveryServiceImpl) Deliver(ctx context.Context, eventID string) error {
	if _, running := s.inFlight.LoadOrStore(eventID, struct{}{}); running {
		return apperror.ErrDeliveryInFlight()
	}
	defer s.inFlight.Delete(eventID)

	event, err := s.eventRepo.GetByID(ctx, eventID)
	if err != nil {
		return apperror.ErrDatabaseError(err)
	}
	if event == nil {
		return apperror.ErrNotFound("webhook event")
	}
	if event.Delivered || event.Attempts >= MaxDeliveryAttempts {
		s.log.Debug().Str("event_id", eventID).Msg("delivery: event already settled, skipping")
		return nil
	}

	target, err := s.resolveTarget(ctx, event)
	if err != nil {
		return err
	}
	if target == nil {
		// resolveTarget already finalized the event.
		return nil
	}

	status, body, attemptErr := s.attempt(ctx, event, target)
	return s.recordOutcome(ctx, event, status, body, attemptErr)
}

// resolveTarget decides where the event goes: its registered endpoint
// or the merchant's legacy single-URL pair. Unsalvageable targets are
// finalized here and reported as a nil target.
func (s *DeliveryServiceImpl) resolveTarget(ctx context.Context, event *domain.WebhookEvent) (*domain.EndpointTarget, error) {
	if event.EndpointID != nil {
		endpoint, err := s.endpointRepo.GetByID(ctx, *event.EndpointID)
		if err != nil {
			return nil, apperror.ErrDatabaseError(err)
		}
		if endpoint == nil || !endpoint.Active {
			// Deactivated after fan-out. Finalize instead of leaving
			// the event silently pending forever.
			return nil, s.finalize(ctx, event, false, "endpoint inactive")
		}
		return &domain.EndpointTarget{Endpoint: endpoint}, nil
	}

	merchant, err := s.merchantRepo.GetByID(ctx, event.MerchantID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if merchant == nil || !merchant.HasLegacyWebhook() || merchant.WebhookSecretEnc == nil {
		// Nowhere to deliver. Mark delivered so it is never retried.
		return nil, s.finalize(ctx, event, true, "no legacy webhook url configured")
	}
	secret, err := s.crypto.Decrypt(*merchant.WebhookSecretEnc)
	if err != nil {
		return nil, apperror.ErrEncryptionFailure(err)
	}
	return &domain.EndpointTarget{LegacyURL: *merchant.WebhookURL, LegacySecret: secret}, nil
}

// attempt issues the signed POST. Returns the response status and
// truncated body, or a non-nil error for timeouts and network faults.
func (s *DeliveryServiceImpl) attempt(ctx context.Context, event *domain.WebhookEvent, target *domain.EndpointTarget) (int, string, error) {
	url := target.LegacyURL
	secret := target.LegacySecret
	if target.Endpoint != nil {
		url = target.Endpoint.URL
		dec, err := s.crypto.Decrypt(target.Endpoint.SecretEnc)
		if err != nil {
			return 0, "", apperror.ErrEncryptionFailure(err)
		}
		secret = dec
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(event.Payload))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", deliveryUserAgent)
	req.Header.Set(headerSignature, s.signer.Sign(event.Payload, secret))
	req.Header.Set(headerEventID, event.ID)
	req.Header.Set(headerEventType, string(event.EventType))

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	return resp.StatusCode, string(body), nil
}

// recordOutcome persists the attempt result and arms the retry.
func (s *DeliveryServiceImpl) recordOutcome(ctx context.Context, event *domain.WebhookEvent, status int, body string, attemptErr error) error {
	now := s.now().UTC()
	event.Attempts++
	event.LastAttemptedAt = &now
	event.UpdatedAt = now

	switch {
	case attemptErr == nil && status >= 200 && status < 300:
		event.Delivered = true
		event.NextRetryAt = nil
		event.ResponseStatus = &status
		event.ResponseBody = truncated(body)
		s.log.Info().
			Str("event_id", event.ID).
			Int("attempts", event.Attempts).
			Int("status", status).
			Msg("delivery: delivered")

	case attemptErr != nil:
		event.ResponseStatus = nil
		event.ResponseBody = truncated(attemptErr.Error())
		s.scheduleRetry(ctx, event, now)
		s.log.Warn().Err(attemptErr).
			Str("event_id", event.ID).
			Int("attempts", event.Attempts).
			Msg("delivery: attempt failed")

	default:
		event.ResponseStatus = &status
		event.ResponseBody = truncated(body)
		s.scheduleRetry(ctx, event, now)
		s.log.Warn().
			Str("event_id", event.ID).
			Int("attempts", event.Attempts).
			Int("status", status).
			Msg("delivery: non-2xx response")
	}

	if err := s.eventRepo.Update(ctx, event); err != nil {
		return apperror.ErrDatabaseError(err)
	}
	return nil
}

func (s *DeliveryServiceImpl) scheduleRetry(ctx context.Context, event *domain.WebhookEvent, now time.Time) {
	if event.Attempts >= MaxDeliveryAttempts {
		// Out of attempts: permanently undelivered, visible in the
		// audit listing only.
		event.NextRetryAt = nil
		s.log.Error().
			Str("event_id", event.ID).
			Int("attempts", event.Attempts).
			Msg("delivery: attempts exhausted, giving up")
		return
	}

	backoff := time.Duration(1<<event.Attempts) * time.Second
	next := now.Add(backoff)
	event.NextRetryAt = &next

	if err := s.retryQueue.Schedule(ctx, event.ID, next); err != nil {
		// The persisted next_retry_at still reaches the recovery
		// sweep, so a queue hiccup delays the retry instead of
		// losing it.
		s.log.Error().Err(err).
			Str("event_id", event.ID).
			Msg("delivery: failed to schedule retry")
	}
}

// finalize writes a terminal outcome that did not involve an HTTP
// attempt (inactive endpoint, missing legacy target).
func (s *DeliveryServiceImpl) finalize(ctx context.Context, event *domain.WebhookEvent, delivered bool, reason string) error {
	now := s.now().UTC()
	event.Delivered = delivered
	event.NextRetryAt = nil
	event.ResponseBody = truncated(reason)
	event.UpdatedAt = now

	s.log.Info().
		Str("event_id", event.ID).
		Bool("delivered", delivered).
		Str("reason", reason).
		Msg("delivery: finalized without attempt")

	if err := s.eventRepo.Update(ctx, event); err != nil {
		return apperror.ErrDatabaseError(err)
	}
	return nil
}

func truncated(s string) *string {
	if len(s) > responseBodyLimit {
		s = s[:responseBodyLimit]
	}
	return &s
}
