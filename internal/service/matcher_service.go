package service

import (
	"context"
	"time"

	"sbtc-gateway/internal/core/domain"
	"sbtc-gateway/internal/core/ports"

	"github.com/rs/zerolog"
)

const (
	// candidateWindow bounds the heuristic scan: intents older than
	// this are considered abandoned and never matched heuristically.
	candidateWindow = 30 * time.Minute

	// degradedWindow is the tighter recency check used when heuristic
	// evaluation of a candidate panics on malformed event data.
	degradedWindow = 10 * time.Minute

	// amountToleranceFloor is the absolute matching slack in sats,
	// used when 1% of the intent amount is smaller.
	amountToleranceFloor = 100
)

// MatcherServiceImpl implements ports.MatcherService.
//
// Matching is two-phase: an exact lookup on the transaction id (the
// idempotent path — re-delivered chain events land here), then a
// heuristic scan over open intents. The heuristic is first-match in
// scan order (oldest intent first), not best-match.
type MatcherServiceImpl struct {
	intentRepo ports.PaymentIntentRepository
	log        zerolog.Logger
	now        func() time.Time
}

// NewMatcherService creates a new MatcherServiceImpl.
func NewMatcherService(intentRepo ports.PaymentIntentRepository, log zerolog.Logger) *MatcherServiceImpl {
	return &MatcherServiceImpl{
		intentRepo: intentRepo,
		log:        log,
		now:        time.Now,
	}
}

// Match returns the payment intent the transaction settles, or nil
// when nothing qualifies. A nil result is not an error; the caller
// logs and skips the transaction.
func (s *MatcherServiceImpl) Match(ctx context.Context, tx *domain.ChainTransaction) (*domain.PaymentIntent, error) {
	// Phase 1: exact match on tx id.
	intent, err := s.intentRepo.GetByTxID(ctx, tx.TxID)
	if err != nil {
		return nil, err
	}
	if intent != nil {
		s.log.Debug().Str("tx_id", tx.TxID).Str("intent_id", intent.ID).Msg("matcher: exact tx id match")
		return intent, nil
	}

	// Phase 2: heuristic scan. The transaction must carry an sBTC
	// transfer event at all, otherwise it cannot settle anything.
	transfer, ok := tx.SBTCTransfer()
	if !ok {
		s.log.Debug().Str("tx_id", tx.TxID).Msg("matcher: no sbtc transfer event, skipping")
		return nil, nil
	}

	now := s.now()
	candidates, err := s.intentRepo.ListCandidates(ctx, now.Add(-candidateWindow))
	if err != nil {
		return nil, err
	}

	for i := range candidates {
		candidate := &candidates[i]
		if s.evaluate(candidate, transfer, now) {
			s.log.Info().
				Str("tx_id", tx.TxID).
				Str("intent_id", candidate.ID).
				Int64("intent_amount", candidate.Amount).
				Msg("matcher: heuristic match")
			return candidate, nil
		}
	}

	return nil, nil
}

// evaluate applies the heuristic filters to one candidate. If the
// evaluation panics on malformed data, it degrades to a pure recency
// check: accept the candidate only if it was created within the last
// ten minutes.
func (s *MatcherServiceImpl) evaluate(intent *domain.PaymentIntent, transfer *domain.FTTransfer, now time.Time) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn().
				Str("intent_id", intent.ID).
				Interface("panic", r).
				Msg("matcher: heuristic evaluation panicked, degrading to recency check")
			matched = now.Sub(intent.CreatedAt) <= degradedWindow
		}
	}()

	// Amount filter: within 1% of the intent amount or the absolute
	// floor, whichever is larger. An unrecoverable amount skips the
	// check rather than rejecting.
	if transfer.Amount != nil {
		if !amountWithinTolerance(intent.Amount, *transfer.Amount) {
			return false
		}
	}

	// Recipient filter: only enforced when both sides are known.
	if expected, ok := intent.ExpectedRecipient(); ok && transfer.Recipient != "" {
		if expected != transfer.Recipient {
			return false
		}
	}

	return true
}

// amountWithinTolerance implements |txAmount - intentAmount| <=
// max(intentAmount * 1%, floor).
func amountWithinTolerance(intentAmount, txAmount int64) bool {
	tolerance := intentAmount / 100
	if tolerance < amountToleranceFloor {
		tolerance = amountToleranceFloor
	}
	diff := txAmount - intentAmount
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}
