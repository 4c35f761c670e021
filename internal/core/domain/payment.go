package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentIntentStatus represents the lifecycle state of a payment intent.
type PaymentIntentStatus string

const (
	PaymentIntentStatusCreated   PaymentIntentStatus = "created"
	PaymentIntentStatusPending   PaymentIntentStatus = "pending"
	PaymentIntentStatusSucceeded PaymentIntentStatus = "succeeded"
	PaymentIntentStatusFailed    PaymentIntentStatus = "failed"
	PaymentIntentStatusCanceled  PaymentIntentStatus = "canceled"
)

// MetadataRecipientKey is the metadata key under which the checkout flow
// records the address the customer was asked to pay.
const MetadataRecipientKey = "recipient"

// PaymentIntent is a request to pay a specific amount of sBTC.
// Created by the checkout flow; mutated only by the state transition
// service; never deleted.
type PaymentIntent struct {
	ID              string              `json:"id"` // pi_<random>
	MerchantID      uuid.UUID           `json:"merchant_id"`
	ProductID       *string             `json:"product_id,omitempty"`
	Amount          int64               `json:"amount"` // sats
	AmountUsd       *decimal.Decimal    `json:"amount_usd,omitempty"`
	Currency        string              `json:"currency"` // "sbtc"
	Status          PaymentIntentStatus `json:"status"`
	CustomerAddress *string             `json:"customer_address,omitempty"`
	TxID            *string             `json:"tx_id,omitempty"` // set once matched
	Metadata        map[string]string   `json:"metadata,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// IsTerminal returns true if the intent is in a final state.
// Terminal intents never transition again (idempotence under
// duplicate chain events).
func (p *PaymentIntent) IsTerminal() bool {
	return p.Status == PaymentIntentStatusSucceeded ||
		p.Status == PaymentIntentStatusFailed ||
		p.Status == PaymentIntentStatusCanceled
}

// IsOpen returns true if the intent can still be matched to a chain
// transaction.
func (p *PaymentIntent) IsOpen() bool {
	return p.Status == PaymentIntentStatusCreated ||
		p.Status == PaymentIntentStatusPending
}

// ExpectedRecipient returns the recipient address the checkout recorded,
// if any.
func (p *PaymentIntent) ExpectedRecipient() (string, bool) {
	if p.Metadata == nil {
		return "", false
	}
	addr, ok := p.Metadata[MetadataRecipientKey]
	return addr, ok && addr != ""
}
