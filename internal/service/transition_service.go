package service

import (
	"context"
	"strconv"
	"sync"

	"sbtc-gateway/internal/core/domain"
	"sbtc-gateway/internal/core/ports"

	"github.com/rs/zerolog"
)

// TransitionServiceImpl implements ports.TransitionService.
//
// Exactly-once is enforced twice over: a per-intent in-process lock
// serializes concurrent applies inside one instance, and the
// conditional repository update (status must still equal the observed
// status) settles races across instances. Losing the conditional
// update is a silent no-op, not an error.
type TransitionServiceImpl struct {
	intentRepo ports.PaymentIntentRepository
	dispatch   ports.DispatchService
	log        zerolog.Logger
	locks      sync.Map // intent id -> *sync.Mutex
}

// NewTransitionService creates a new TransitionServiceImpl.
func NewTransitionService(intentRepo ports.PaymentIntentRepository, dispatch ports.DispatchService, log zerolog.Logger) *TransitionServiceImpl {
	return &TransitionServiceImpl{
		intentRepo: intentRepo,
		dispatch:   dispatch,
		log:        log,
	}
}

// Apply settles intent with the outcome of tx. Returns true only if
// this call performed the transition; duplicates and races return
// false with a nil error.
func (s *TransitionServiceImpl) Apply(ctx context.Context, intent *domain.PaymentIntent, tx *domain.ChainTransaction) (bool, error) {
	if intent.IsTerminal() {
		s.log.Debug().
			Str("intent_id", intent.ID).
			Str("status", string(intent.Status)).
			Str("tx_id", tx.TxID).
			Msg("transition: intent already terminal, skipping")
		return false, nil
	}

	mu := s.lockFor(intent.ID)
	mu.Lock()
	defer mu.Unlock()

	next := domain.PaymentIntentStatusSucceeded
	eventType := domain.EventPaymentIntentSucceeded
	if !tx.Success {
		next = domain.PaymentIntentStatusFailed
		eventType = domain.EventPaymentIntentFailed
	}

	patch := chainMetadata(tx)

	won, err := s.intentRepo.UpdateStatusIf(ctx, intent.ID, intent.Status, next, tx.TxID, patch)
	if err != nil {
		return false, err
	}
	if !won {
		s.log.Info().
			Str("intent_id", intent.ID).
			Str("tx_id", tx.TxID).
			Msg("transition: lost conditional update, another transaction settled first")
		return false, nil
	}

	s.log.Info().
		Str("intent_id", intent.ID).
		Str("tx_id", tx.TxID).
		Str("status", string(next)).
		Msg("transition: intent settled")

	settled := *intent
	settled.Status = next
	settled.TxID = &tx.TxID
	settled.Metadata = mergeMetadata(intent.Metadata, patch)

	if err := s.dispatch.Dispatch(ctx, intent.MerchantID, eventType, &settled, nil); err != nil {
		// The transition is already durable. Webhook creation failure
		// must not roll it back or fail the batch.
		s.log.Error().Err(err).
			Str("intent_id", intent.ID).
			Msg("transition: webhook dispatch failed after settle")
	}

	return true, nil
}

func (s *TransitionServiceImpl) lockFor(intentID string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(intentID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// chainMetadata is the settlement context recorded onto the intent.
// The patch is additive: existing metadata keys survive.
func chainMetadata(tx *domain.ChainTransaction) map[string]string {
	return map[string]string{
		"block_height":    strconv.FormatUint(tx.BlockHeight, 10),
		"block_hash":      tx.BlockHash,
		"block_timestamp": strconv.FormatInt(tx.BlockTimestamp, 10),
		"tx_fee":          strconv.FormatUint(tx.Fee, 10),
		"tx_events":       strconv.Itoa(len(tx.Events)),
	}
}

func mergeMetadata(base, patch map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(patch))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return merged
}
