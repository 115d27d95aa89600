// Package events provides the outbound domain event bus. External consumers
// (UI, save system, achievements) subscribe per kind; delivery is synchronous
// and fire-and-forget within the tick that produced the event.
package events

import (
	"log/slog"
	"sync"
)

// Kind identifies a domain event type.
type Kind string

const (
	KindPriceChanged        Kind = "price_changed"
	KindConditionsChanged   Kind = "market_conditions_changed"
	KindMarketEvent         Kind = "market_event"
	KindPurchaseCompleted   Kind = "purchase_completed"
	KindSaleCompleted       Kind = "sale_completed"
	KindInventoryLoss       Kind = "inventory_loss"
	KindContractOffered     Kind = "contract_offered"
	KindContractAccepted    Kind = "contract_accepted"
	KindContractResolved    Kind = "contract_resolved"
	KindRelationshipChanged Kind = "relationship_changed"
	KindReputationChanged   Kind = "reputation_changed"
	KindMessageReceived     Kind = "message_received"
	KindIndustryEvent       Kind = "industry_event"
	KindCurrencyChanged     Kind = "currency_changed"
	KindInsufficientFunds   Kind = "insufficient_funds"
	KindFinancialMilestone  Kind = "financial_milestone"
	KindBudgetAlert         Kind = "budget_alert"
)

// Event is a single outbound notification. Entity names the mutated entity;
// Before/After carry the old and new values where a mutation has a meaningful
// scalar (price, balance, trust level).
type Event struct {
	Kind    Kind           `json:"kind"`
	Day     float64        `json:"day"` // Sim-day the event occurred
	Entity  string         `json:"entity,omitempty"`
	Before  float64        `json:"before,omitempty"`
	After   float64        `json:"after,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Handler receives published events.
type Handler func(Event)

// Bus dispatches events to subscribers by kind.
type Bus struct {
	mu   sync.RWMutex
	subs map[Kind][]Handler
	all  []Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Kind][]Handler)}
}

// Subscribe registers a handler for one event kind.
func (b *Bus) Subscribe(kind Kind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[kind] = append(b.subs[kind], h)
}

// SubscribeAll registers a handler for every event kind.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish delivers an event to all matching subscribers. A panicking
// subscriber is logged and skipped; nothing may crash the tick loop.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[e.Kind])+len(b.all))
	handlers = append(handlers, b.subs[e.Kind]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	for _, h := range handlers {
		deliver(h, e)
	}
}

func deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event subscriber panicked", "kind", e.Kind, "panic", r)
		}
	}()
	h(e)
}
