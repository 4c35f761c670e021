package dto

import (
	"encoding/json"
	"errors"

	"sbtc-gateway/internal/core/domain"
	"sbtc-gateway/pkg/apperror"
)

// ChainhookPayload mirrors the chainhook predicate delivery format:
// batches of confirmed blocks to apply and reorged blocks to roll back.
type ChainhookPayload struct {
	Apply    []ChainhookBlock `json:"apply"`
	Rollback []ChainhookBlock `json:"rollback"`
}

// ChainhookBlock is one block in a chainhook batch.
type ChainhookBlock struct {
	BlockIdentifier       BlockIdentifier        `json:"block_identifier"`
	ParentBlockIdentifier BlockIdentifier        `json:"parent_block_identifier"`
	Timestamp             int64                  `json:"timestamp"`
	Transactions          []ChainhookTransaction `json:"transactions"`
}

// BlockIdentifier pairs a block height with its hash.
type BlockIdentifier struct {
	Index uint64 `json:"index"`
	Hash  string `json:"hash"`
}

// ChainhookTransaction is one transaction within a delivered block.
type ChainhookTransaction struct {
	TransactionIdentifier TransactionIdentifier        `json:"transaction_identifier"`
	Metadata              ChainhookTransactionMetadata `json:"metadata"`
}

// TransactionIdentifier carries the transaction hash.
type TransactionIdentifier struct {
	Hash string `json:"hash"`
}

// ChainhookTransactionMetadata holds the execution result and decoded
// receipt for a transaction.
type ChainhookTransactionMetadata struct {
	Success     bool             `json:"success"`
	Sender      string           `json:"sender"`
	Fee         uint64           `json:"fee"`
	Result      string           `json:"result"`
	Receipt     ChainhookReceipt `json:"receipt"`
	Description string           `json:"description"`
}

// ChainhookReceipt carries the ledger events emitted by a transaction.
type ChainhookReceipt struct {
	Events []ChainhookEvent `json:"events"`
}

// ChainhookEvent is one raw ledger event. Data stays loosely typed;
// downstream extraction only reads the keys it needs.
type ChainhookEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Validate rejects structurally unusable batches: every block needs a
// hash and every transaction an id. Empty apply+rollback is fine.
func (p *ChainhookPayload) Validate() error {
	for _, blocks := range [][]ChainhookBlock{p.Apply, p.Rollback} {
		for _, b := range blocks {
			if b.BlockIdentifier.Hash == "" {
				return apperror.ErrMalformedBatch(errors.New("block missing hash"))
			}
			for _, tx := range b.Transactions {
				if tx.TransactionIdentifier.Hash == "" {
					return apperror.ErrMalformedBatch(errors.New("transaction missing id"))
				}
			}
		}
	}
	return nil
}

// ToDomain converts the wire payload into the domain batch.
func (p *ChainhookPayload) ToDomain() *domain.ChainhookBatch {
	return &domain.ChainhookBatch{
		Apply:    toDomainBlocks(p.Apply),
		Rollback: toDomainBlocks(p.Rollback),
	}
}

func toDomainBlocks(blocks []ChainhookBlock) []domain.ChainBlock {
	if len(blocks) == 0 {
		return nil
	}
	out := make([]domain.ChainBlock, len(blocks))
	for i, b := range blocks {
		out[i] = domain.ChainBlock{
			Height:       b.BlockIdentifier.Index,
			Hash:         b.BlockIdentifier.Hash,
			ParentHash:   b.ParentBlockIdentifier.Hash,
			Timestamp:    b.Timestamp,
			Transactions: toDomainTransactions(b.Transactions),
		}
	}
	return out
}

func toDomainTransactions(txs []ChainhookTransaction) []domain.ChainTransaction {
	out := make([]domain.ChainTransaction, len(txs))
	for i, tx := range txs {
		out[i] = domain.ChainTransaction{
			TxID:              tx.TransactionIdentifier.Hash,
			SenderAddress:     tx.Metadata.Sender,
			Success:           tx.Metadata.Success,
			Fee:               tx.Metadata.Fee,
			Events:            toDomainEvents(tx.Metadata.Receipt.Events),
			ResultDescription: tx.Metadata.Result,
		}
	}
	return out
}

func toDomainEvents(events []ChainhookEvent) []domain.LedgerEvent {
	if len(events) == 0 {
		return nil
	}
	out := make([]domain.LedgerEvent, len(events))
	for i, ev := range events {
		var data map[string]any
		if len(ev.Data) > 0 {
			// malformed event data degrades to an empty map; the
			// transaction still flows through unmatched
			_ = json.Unmarshal(ev.Data, &data)
		}
		out[i] = domain.LedgerEvent{Type: ev.Type, Data: data}
	}
	return out
}
