package dto

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sbtc-gateway/internal/core/domain"
	"sbtc-gateway/pkg/apperror"
)

// --- safe_url validator ---

func TestSafeURL(t *testing.T) {
	cases := []struct {
		name string
		url  string
		want bool
	}{
		{"https", "https://merchant.example/hooks", true},
		{"http", "http://merchant.example/hooks", true},
		{"empty is left to required", "", true},
		{"ftp scheme", "ftp://merchant.example/hooks", false},
		{"javascript scheme", "javascript:alert(1)", false},
		{"relative path", "/hooks", false},
		{"missing host", "https://", false},
		{"not a url", "not a url", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isSafeURL(tc.url))
		})
	}
}

// --- chainhook payload ---

func chainhookFixture() ChainhookPayload {
	return ChainhookPayload{
		Apply: []ChainhookBlock{{
			BlockIdentifier:       BlockIdentifier{Index: 1200, Hash: "0xblock"},
			ParentBlockIdentifier: BlockIdentifier{Index: 1199, Hash: "0xparent"},
			Timestamp:             1756400000,
			Transactions: []ChainhookTransaction{{
				TransactionIdentifier: TransactionIdentifier{Hash: "0xabc"},
				Metadata: ChainhookTransactionMetadata{
					Success: true,
					Sender:  "SP2SENDER",
					Fee:     180,
					Result:  "(ok true)",
					Receipt: ChainhookReceipt{Events: []ChainhookEvent{{
						Type: domain.LedgerEventTypeFTTransfer,
						Data: json.RawMessage(`{"asset_identifier":"SP4K.sbtc-token::sbtc-token","amount":"50000","sender":"SP2SENDER","recipient":"SP3SHOP"}`),
					}}},
				},
			}},
		}},
		Rollback: []ChainhookBlock{{
			BlockIdentifier: BlockIdentifier{Index: 1198, Hash: "0xstale"},
		}},
	}
}

func TestChainhookPayload_ToDomain(t *testing.T) {
	p := chainhookFixture()
	require.NoError(t, p.Validate())

	batch := p.ToDomain()

	require.Len(t, batch.Apply, 1)
	blk := batch.Apply[0]
	assert.Equal(t, uint64(1200), blk.Height)
	assert.Equal(t, "0xblock", blk.Hash)
	assert.Equal(t, "0xparent", blk.ParentHash)
	assert.Equal(t, int64(1756400000), blk.Timestamp)

	require.Len(t, blk.Transactions, 1)
	tx := blk.Transactions[0]
	assert.Equal(t, "0xabc", tx.TxID)
	assert.Equal(t, "SP2SENDER", tx.SenderAddress)
	assert.True(t, tx.Success)
	assert.Equal(t, uint64(180), tx.Fee)

	transfer, ok := tx.SBTCTransfer()
	require.True(t, ok)
	require.NotNil(t, transfer.Amount)
	assert.Equal(t, int64(50000), *transfer.Amount)
	assert.Equal(t, "SP3SHOP", transfer.Recipient)

	require.Len(t, batch.Rollback, 1)
	assert.Equal(t, "0xstale", batch.Rollback[0].Hash)
}

func TestChainhookPayload_ValidateRejectsMissingBlockHash(t *testing.T) {
	p := chainhookFixture()
	p.Apply[0].BlockIdentifier.Hash = ""

	err := p.Validate()

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "VAL_002", appErr.Code)
}

func TestChainhookPayload_ValidateRejectsMissingTxID(t *testing.T) {
	p := chainhookFixture()
	p.Apply[0].Transactions[0].TransactionIdentifier.Hash = ""

	err := p.Validate()

	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "VAL_002", appErr.Code)
}

func TestChainhookPayload_ValidateAllowsEmptyBatch(t *testing.T) {
	p := ChainhookPayload{}
	assert.NoError(t, p.Validate())
}

func TestChainhookPayload_MalformedEventDataDegrades(t *testing.T) {
	p := chainhookFixture()
	p.Apply[0].Transactions[0].Metadata.Receipt.Events[0].Data = json.RawMessage(`"not an object"`)

	tx := p.ToDomain().Apply[0].Transactions[0]

	_, ok := tx.SBTCTransfer()
	assert.False(t, ok)
}

// --- response mapping ---

func TestNewWebhookEventResponse(t *testing.T) {
	endpointID := uuid.New()
	attempted := time.Date(2026, 2, 10, 9, 30, 0, 0, time.UTC)
	retry := attempted.Add(4 * time.Second)
	status := 503
	body := "service unavailable"

	resp := NewWebhookEventResponse(&domain.WebhookEvent{
		ID:              "evt_1234",
		MerchantID:      uuid.New(),
		EndpointID:      &endpointID,
		EventType:       domain.EventPaymentIntentSucceeded,
		Delivered:       false,
		Attempts:        2,
		LastAttemptedAt: &attempted,
		NextRetryAt:     &retry,
		ResponseStatus:  &status,
		ResponseBody:    &body,
		CreatedAt:       attempted.Add(-time.Minute),
	})

	assert.Equal(t, "evt_1234", resp.ID)
	require.NotNil(t, resp.EndpointID)
	assert.Equal(t, endpointID.String(), *resp.EndpointID)
	assert.Equal(t, "payment_intent.succeeded", resp.EventType)
	assert.Equal(t, 2, resp.Attempts)
	require.NotNil(t, resp.NextRetryAt)
	assert.Equal(t, "2026-02-10T09:30:04Z", *resp.NextRetryAt)
	assert.Equal(t, &status, resp.ResponseStatus)
}

func TestNewWebhookEventResponse_LegacyEventHasNoEndpoint(t *testing.T) {
	resp := NewWebhookEventResponse(&domain.WebhookEvent{
		ID:        "evt_legacy",
		EventType: domain.EventPaymentIntentFailed,
		Delivered: true,
		CreatedAt: time.Now(),
	})

	assert.Nil(t, resp.EndpointID)
	assert.Nil(t, resp.LastAttemptedAt)
	assert.Nil(t, resp.NextRetryAt)
}

func TestCreateEndpointRequest_EventTypes(t *testing.T) {
	req := CreateEndpointRequest{
		URL:              "https://merchant.example/hooks",
		SubscribedEvents: []string{"payment_intent.succeeded", "payment_intent.failed"},
	}

	types := req.EventTypes()

	assert.Equal(t, []domain.EventType{
		domain.EventPaymentIntentSucceeded,
		domain.EventPaymentIntentFailed,
	}, types)
}
