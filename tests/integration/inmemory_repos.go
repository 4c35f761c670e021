package integration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"sbtc-gateway/internal/core/domain"

	"github.com/google/uuid"
)

// --- In-Memory Merchant Repo ---

type inMemoryMerchantRepo struct {
	mu        sync.RWMutex
	merchants map[uuid.UUID]*domain.Merchant
}

func newInMemoryMerchantRepo() *inMemoryMerchantRepo {
	return &inMemoryMerchantRepo{merchants: make(map[uuid.UUID]*domain.Merchant)}
}

func (r *inMemoryMerchantRepo) put(m *domain.Merchant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.merchants[m.ID] = m
}

func (r *inMemoryMerchantRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Merchant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.merchants[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

// --- In-Memory Payment Intent Repo ---

type inMemoryPaymentIntentRepo struct {
	mu      sync.RWMutex
	intents map[string]*domain.PaymentIntent
}

func newInMemoryPaymentIntentRepo() *inMemoryPaymentIntentRepo {
	return &inMemoryPaymentIntentRepo{intents: make(map[string]*domain.PaymentIntent)}
}

func (r *inMemoryPaymentIntentRepo) put(p *domain.PaymentIntent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents[p.ID] = p
}

func (r *inMemoryPaymentIntentRepo) GetByID(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.intents[id]
	if !ok {
		return nil, nil
	}
	cp := clonedIntent(p)
	return &cp, nil
}

func (r *inMemoryPaymentIntentRepo) GetByTxID(ctx context.Context, txID string) (*domain.PaymentIntent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.intents {
		if p.TxID != nil && *p.TxID == txID {
			cp := clonedIntent(p)
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *inMemoryPaymentIntentRepo) ListCandidates(ctx context.Context, since time.Time) ([]domain.PaymentIntent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.PaymentIntent
	for _, p := range r.intents {
		if p.IsOpen() && !p.CreatedAt.Before(since) {
			out = append(out, clonedIntent(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *inMemoryPaymentIntentRepo) UpdateStatusIf(ctx context.Context, id string, expected, next domain.PaymentIntentStatus, txID string, metadataPatch map[string]string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.intents[id]
	if !ok || p.Status != expected {
		return false, nil
	}
	p.Status = next
	p.TxID = &txID
	if p.Metadata == nil {
		p.Metadata = make(map[string]string)
	}
	for k, v := range metadataPatch {
		p.Metadata[k] = v
	}
	p.UpdatedAt = time.Now()
	return true, nil
}

func clonedIntent(p *domain.PaymentIntent) domain.PaymentIntent {
	cp := *p
	if p.Metadata != nil {
		cp.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}

// --- In-Memory Webhook Endpoint Repo ---

type inMemoryEndpointRepo struct {
	mu        sync.RWMutex
	endpoints map[uuid.UUID]*domain.WebhookEndpoint
}

func newInMemoryEndpointRepo() *inMemoryEndpointRepo {
	return &inMemoryEndpointRepo{endpoints: make(map[uuid.UUID]*domain.WebhookEndpoint)}
}

func (r *inMemoryEndpointRepo) Create(ctx context.Context, e *domain.WebhookEndpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.endpoints[e.ID] = &cp
	return nil
}

func (r *inMemoryEndpointRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEndpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.endpoints[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (r *inMemoryEndpointRepo) ListActive(ctx context.Context, merchantID uuid.UUID, eventType domain.EventType) ([]domain.WebhookEndpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.WebhookEndpoint
	for _, e := range r.endpoints {
		if e.MerchantID == merchantID && e.Active && e.SubscribesTo(eventType) {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *inMemoryEndpointRepo) ListByMerchant(ctx context.Context, merchantID uuid.UUID) ([]domain.WebhookEndpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.WebhookEndpoint
	for _, e := range r.endpoints {
		if e.MerchantID == merchantID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *inMemoryEndpointRepo) Deactivate(ctx context.Context, merchantID, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.endpoints[id]
	if !ok || e.MerchantID != merchantID {
		return fmt.Errorf("webhook endpoint not found")
	}
	e.Active = false
	return nil
}

// --- In-Memory Webhook Event Repo ---

type inMemoryEventRepo struct {
	mu     sync.RWMutex
	events map[string]*domain.WebhookEvent
	order  []string // insertion order, oldest first
}

func newInMemoryEventRepo() *inMemoryEventRepo {
	return &inMemoryEventRepo{events: make(map[string]*domain.WebhookEvent)}
}

func (r *inMemoryEventRepo) Insert(ctx context.Context, e *domain.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.events[e.ID] = &cp
	r.order = append(r.order, e.ID)
	return nil
}

func (r *inMemoryEventRepo) GetByID(ctx context.Context, id string) (*domain.WebhookEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.events[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (r *inMemoryEventRepo) Update(ctx context.Context, e *domain.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[e.ID]; !ok {
		return fmt.Errorf("webhook event not found")
	}
	cp := *e
	r.events[e.ID] = &cp
	return nil
}

func (r *inMemoryEventRepo) ListRetryable(ctx context.Context, maxAttempts int, limit int) ([]domain.WebhookEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.WebhookEvent
	for _, id := range r.order {
		e := r.events[id]
		if !e.Delivered && e.NextRetryAt != nil && e.Attempts < maxAttempts {
			out = append(out, *e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *inMemoryEventRepo) ListByMerchant(ctx context.Context, merchantID uuid.UUID, page, pageSize int) ([]domain.WebhookEvent, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []domain.WebhookEvent
	for i := len(r.order) - 1; i >= 0; i-- { // newest first
		e := r.events[r.order[i]]
		if e.MerchantID == merchantID {
			all = append(all, *e)
		}
	}
	total := int64(len(all))
	start := (page - 1) * pageSize
	if start >= len(all) {
		return nil, total, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

// snapshot returns every stored event, for assertions.
func (r *inMemoryEventRepo) snapshot() []domain.WebhookEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.WebhookEvent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.events[id])
	}
	return out
}
