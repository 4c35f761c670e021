package service

import (
	"context"
	"time"

	"sbtc-gateway/internal/core/domain"
	"sbtc-gateway/internal/core/ports"

	"github.com/rs/zerolog"
)

// seenTxTTL bounds the dedupe fast path. Chainhook re-deliveries
// cluster within minutes of the original; anything older is caught by
// the exact-match lookup anyway.
const seenTxTTL = 24 * time.Hour

// IngestServiceImpl implements ports.IngestService.
//
// One batch is processed synchronously: apply blocks in the order
// received, each transaction driven through match and transition. A
// failing transaction is logged and skipped, never failing the batch;
// chainhook would otherwise redeliver the whole payload forever.
type IngestServiceImpl struct {
	matcher    ports.MatcherService
	transition ports.TransitionService
	seenCache  ports.SeenTxCache
	log        zerolog.Logger
}

// NewIngestService creates a new IngestServiceImpl.
func NewIngestService(matcher ports.MatcherService, transition ports.TransitionService, seenCache ports.SeenTxCache, log zerolog.Logger) *IngestServiceImpl {
	return &IngestServiceImpl{
		matcher:    matcher,
		transition: transition,
		seenCache:  seenCache,
		log:        log,
	}
}

// ProcessBatch drives every transaction of every apply block through
// the matching pipeline. Rollback blocks are logged and counted but
// deliberately not acted on: succeeded payments are not un-succeeded
// by a reorg.
func (s *IngestServiceImpl) ProcessBatch(ctx context.Context, batch *domain.ChainhookBatch) (*ports.IngestSummary, error) {
	summary := &ports.IngestSummary{RolledBack: len(batch.Rollback)}

	for _, block := range batch.Rollback {
		s.log.Warn().
			Uint64("height", block.Height).
			Str("hash", block.Hash).
			Int("transactions", len(block.Transactions)).
			Msg("ingest: rollback block received, ignoring")
	}

	for _, block := range batch.Apply {
		summary.BlocksApplied++
		for i := range block.Transactions {
			tx := &block.Transactions[i]
			stampBlockContext(tx, &block)
			summary.Transactions++

			if s.alreadySeen(ctx, tx.TxID) {
				summary.Skipped++
				continue
			}

			matched, failed := s.processTransaction(ctx, tx)
			if failed {
				// Leave the transaction unmarked so a redelivered
				// batch retries it once the fault clears.
				summary.Skipped++
				continue
			}
			if matched {
				summary.Matched++
			} else {
				summary.Skipped++
			}

			s.markSeen(ctx, tx.TxID)
		}
	}

	s.log.Info().
		Int("blocks_applied", summary.BlocksApplied).
		Int("transactions", summary.Transactions).
		Int("matched", summary.Matched).
		Int("skipped", summary.Skipped).
		Int("rollback_blocks", summary.RolledBack).
		Msg("ingest: batch processed")

	return summary, nil
}

// processTransaction reports whether the transaction settled an intent
// and whether it failed outright. Errors are contained here: one bad
// transaction must not poison the rest of the batch.
func (s *IngestServiceImpl) processTransaction(ctx context.Context, tx *domain.ChainTransaction) (matched, failed bool) {
	intent, err := s.matcher.Match(ctx, tx)
	if err != nil {
		s.log.Error().Err(err).Str("tx_id", tx.TxID).Msg("ingest: matching failed, skipping transaction")
		return false, true
	}
	if intent == nil {
		return false, false
	}

	won, err := s.transition.Apply(ctx, intent, tx)
	if err != nil {
		s.log.Error().Err(err).
			Str("tx_id", tx.TxID).
			Str("intent_id", intent.ID).
			Msg("ingest: transition failed, skipping transaction")
		return false, true
	}
	return won, false
}

// alreadySeen consults the dedupe fast path. Cache failures read as
// not-seen: the terminal-state guard stays authoritative.
func (s *IngestServiceImpl) alreadySeen(ctx context.Context, txID string) bool {
	seen, err := s.seenCache.Seen(ctx, txID)
	if err != nil {
		s.log.Warn().Err(err).Str("tx_id", txID).Msg("ingest: seen-cache read failed")
		return false
	}
	if seen {
		s.log.Debug().Str("tx_id", txID).Msg("ingest: transaction already processed, skipping")
	}
	return seen
}

func (s *IngestServiceImpl) markSeen(ctx context.Context, txID string) {
	if err := s.seenCache.MarkSeen(ctx, txID, seenTxTTL); err != nil {
		s.log.Warn().Err(err).Str("tx_id", txID).Msg("ingest: seen-cache write failed")
	}
}

// stampBlockContext copies block-level fields onto the transaction so
// downstream stages see one self-contained record.
func stampBlockContext(tx *domain.ChainTransaction, block *domain.ChainBlock) {
	if tx.BlockHeight == 0 {
		tx.BlockHeight = block.Height
	}
	if tx.BlockHash == "" {
		tx.BlockHash = block.Hash
	}
	if tx.BlockTimestamp == 0 {
		tx.BlockTimestamp = block.Timestamp
	}
}
