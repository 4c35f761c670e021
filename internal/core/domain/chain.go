package domain

import (
	"strconv"
	"strings"
)

// SBTCAssetIdentifier is the on-chain asset identifier suffix of the
// sBTC token contract.
const SBTCAssetIdentifier = "sbtc-token"

// LedgerEventTypeFTTransfer tags a fungible-token transfer ledger event.
const LedgerEventTypeFTTransfer = "FTTransferEvent"

// LedgerEvent is one decoded event emitted by a chain transaction.
// Data is free-form; the matcher only inspects the keys it needs.
type LedgerEvent struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// FTTransfer holds the fields the matcher extracts from an sBTC
// transfer ledger event. Amount and Recipient may be absent when the
// event payload is incomplete.
type FTTransfer struct {
	Amount    *int64
	Sender    string
	Recipient string
	AssetID   string
}

// ChainTransaction is one transaction from an incoming confirmed block.
// Ephemeral: it is consumed by the matcher and never persisted.
type ChainTransaction struct {
	TxID              string
	BlockHeight       uint64
	BlockHash         string
	BlockTimestamp    int64 // unix seconds
	SenderAddress     string
	Success           bool
	Fee               uint64
	Events            []LedgerEvent
	ResultDescription string
}

// ChainBlock is one confirmed block in a chainhook batch.
type ChainBlock struct {
	Height       uint64
	Hash         string
	ParentHash   string
	Timestamp    int64
	Transactions []ChainTransaction
}

// ChainhookBatch is a push notification of newly confirmed (apply)
// and reorged-away (rollback) blocks.
type ChainhookBatch struct {
	Apply    []ChainBlock
	Rollback []ChainBlock
}

// SBTCTransfer scans the transaction's ledger events for an sBTC
// fungible-token transfer and returns the extracted fields.
// Returns false if the transaction carries no recognizable sBTC
// transfer at all.
func (t *ChainTransaction) SBTCTransfer() (*FTTransfer, bool) {
	for _, ev := range t.Events {
		if ev.Type != LedgerEventTypeFTTransfer {
			continue
		}
		asset, _ := ev.Data["asset_identifier"].(string)
		if !containsAsset(asset, SBTCAssetIdentifier) {
			continue
		}
		tr := &FTTransfer{AssetID: asset}
		if s, ok := ev.Data["sender"].(string); ok {
			tr.Sender = s
		}
		if r, ok := ev.Data["recipient"].(string); ok {
			tr.Recipient = r
		}
		tr.Amount = parseEventAmount(ev.Data["amount"])
		return tr, true
	}
	return nil, false
}

// parseEventAmount tolerates the amount arriving as a decimal string
// (chainhook wire format) or as a JSON number.
func parseEventAmount(v any) *int64 {
	switch a := v.(type) {
	case string:
		n, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return nil
		}
		return &n
	case float64:
		n := int64(a)
		return &n
	case int64:
		return &a
	}
	return nil
}

// asset identifiers look like "<contract-principal>.sbtc-token::sbtc-token"
func containsAsset(assetID, want string) bool {
	return assetID != "" && strings.Contains(assetID, want)
}
