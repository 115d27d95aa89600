// Package trading runs the transaction pipeline: intents are quoted against
// the pricing engine, validated against the ledger or inventory, queued with
// a venue-derived completion time, and settled FIFO when that time elapses.
// The engine also owns the inventory: FIFO lots that spoil over time.
package trading

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/cultivar/emporium/internal/catalog"
	"github.com/cultivar/emporium/internal/entropy"
	"github.com/cultivar/emporium/internal/events"
	"github.com/cultivar/emporium/internal/ledger"
	"github.com/cultivar/emporium/internal/market"
	"github.com/cultivar/emporium/internal/relations"
)

// Validation failures callers branch on.
var (
	ErrUnknownProduct        = errors.New("unknown product")
	ErrUnknownVenue          = errors.New("unknown venue")
	ErrBelowVenueMinimum     = errors.New("quantity below venue minimum")
	ErrPaymentNotAccepted    = errors.New("payment method not accepted by venue")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrNotFound              = errors.New("transaction not found")
)

// Side of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Status of a transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

const historyLimit = 200

// paymentTimeFactor scales venue processing time by payment method. Cash is
// fastest, credit slowest.
var paymentTimeFactor = map[catalog.PaymentMethod]float64{
	catalog.PaymentCash:     1.0,
	catalog.PaymentTransfer: 1.5,
	catalog.PaymentCredit:   2.0,
}

// Intent is a buy or sell request routed through a venue.
type Intent struct {
	Side      Side                  `json:"side"`
	ProductID string                `json:"product_id"`
	Quantity  int                   `json:"quantity"`
	VenueID   string                `json:"venue_id"`
	Payment   catalog.PaymentMethod `json:"payment"`
}

// PendingTransaction sits in the FIFO queue until its completion time.
type PendingTransaction struct {
	ID          string  `json:"id"`
	Intent      Intent  `json:"intent"`
	UnitPrice   float64 `json:"unit_price"`
	Total       float64 `json:"total"`
	InitiatedAt float64 `json:"initiated_at"`
	CompletesAt float64 `json:"completes_at"`
	Status      Status  `json:"status"`
}

// CompletedTransaction is the terminal record of a settled (or failed)
// transaction. A pending transaction transitions to exactly one of these.
type CompletedTransaction struct {
	PendingTransaction
	Success   bool    `json:"success"`
	Reason    string  `json:"reason,omitempty"`
	SettledAt float64 `json:"settled_at"`
}

// State is the engine's full mutable state, exported for snapshots.
type State struct {
	Day     float64                `json:"day"`
	Queue   []*PendingTransaction  `json:"queue"`
	History []CompletedTransaction `json:"history"`
	Lots    []*Lot                 `json:"lots"`
}

// Engine is the trading engine.
type Engine struct {
	cat       *catalog.Catalog
	market    *market.Engine
	ledger    *ledger.Ledger
	relations *relations.Engine
	bus       *events.Bus
	rng       *entropy.Source

	State State
}

// New creates a trading engine wired to its collaborators.
func New(cat *catalog.Catalog, mkt *market.Engine, led *ledger.Ledger, rel *relations.Engine, bus *events.Bus, rng *entropy.Source) *Engine {
	return &Engine{
		cat:       cat,
		market:    mkt,
		ledger:    led,
		relations: rel,
		bus:       bus,
		rng:       rng,
	}
}

// QuoteAndReserve validates an intent, quotes it, and enqueues a pending
// transaction. Settlement happens later, on the tick whose time passes the
// transaction's completion time; callers must inspect the completed result.
func (e *Engine) QuoteAndReserve(intent Intent) (*PendingTransaction, error) {
	if _, ok := e.cat.Product(intent.ProductID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, intent.ProductID)
	}
	venue, ok := e.cat.Venue(intent.VenueID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVenue, intent.VenueID)
	}
	if intent.Quantity < venue.MinQuantity {
		return nil, fmt.Errorf("%w: %d < %d", ErrBelowVenueMinimum, intent.Quantity, venue.MinQuantity)
	}
	if intent.Payment == "" {
		intent.Payment = catalog.PaymentCash
	}
	if !venue.Accepts(intent.Payment) {
		return nil, fmt.Errorf("%w: %s at %s", ErrPaymentNotAccepted, intent.Payment, venue.ID)
	}

	var unit float64
	switch intent.Side {
	case SideBuy:
		// Quote at the middle of the venue's acquisition quality band.
		midQuality := (venue.QualityMin + venue.QualityMax) / 2
		unit = e.market.Price(intent.ProductID, intent.VenueID, midQuality)
		total := unit * float64(intent.Quantity)
		if !e.ledger.CanAfford(ledger.CurrencyCash, total, intent.Payment == catalog.PaymentCredit) {
			return nil, ErrInsufficientFunds
		}
	case SideSell:
		if e.Available(intent.ProductID) < intent.Quantity {
			return nil, ErrInsufficientInventory
		}
		unit = e.market.Price(intent.ProductID, "", e.averageQuality(intent.ProductID, intent.Quantity)) *
			(1 - venue.Commission)
	default:
		return nil, fmt.Errorf("unknown trade side %q", intent.Side)
	}

	tx := &PendingTransaction{
		ID:          uuid.NewString(),
		Intent:      intent,
		UnitPrice:   unit,
		Total:       unit * float64(intent.Quantity),
		InitiatedAt: e.State.Day,
		CompletesAt: e.State.Day + venue.ProcessingDays*paymentTimeFactor[intent.Payment],
		Status:      StatusPending,
	}
	e.State.Queue = append(e.State.Queue, tx)

	slog.Info("transaction queued",
		"id", tx.ID, "side", intent.Side, "product", intent.ProductID,
		"quantity", intent.Quantity, "total", tx.Total, "completes_at", tx.CompletesAt)
	return tx, nil
}

// Cancel fails a pending transaction before its scheduled settlement.
func (e *Engine) Cancel(id string) error {
	for i, tx := range e.State.Queue {
		if tx.ID != id {
			continue
		}
		e.State.Queue = append(e.State.Queue[:i], e.State.Queue[i+1:]...)
		e.finish(tx, false, "cancelled")
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Transaction returns a completed transaction by ID.
func (e *Engine) Transaction(id string) (CompletedTransaction, bool) {
	for _, tx := range e.State.History {
		if tx.ID == id {
			return tx, true
		}
	}
	return CompletedTransaction{}, false
}

// Tick advances the trading engine by dt sim-days: inventory decays, expired
// lots are purged as losses, and due transactions settle in FIFO order.
func (e *Engine) Tick(dt float64) {
	if dt <= 0 {
		return
	}
	e.State.Day += dt

	e.decayLots(dt)
	e.purgeExpired()
	e.settleDue()
}

func (e *Engine) settleDue() {
	remaining := e.State.Queue[:0]
	for _, tx := range e.State.Queue {
		if tx.CompletesAt > e.State.Day {
			remaining = append(remaining, tx)
			continue
		}
		// Each settlement is isolated; one bad transaction cannot block the
		// rest of the queue.
		e.settle(tx)
	}
	e.State.Queue = remaining
}

func (e *Engine) settle(tx *PendingTransaction) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("settlement panicked", "transaction", tx.ID, "panic", r)
			e.finish(tx, false, "internal error")
		}
	}()

	switch tx.Intent.Side {
	case SideBuy:
		e.settleBuy(tx)
	case SideSell:
		e.settleSell(tx)
	default:
		e.finish(tx, false, "unknown side")
	}
}

func (e *Engine) settleBuy(tx *PendingTransaction) {
	venue, _ := e.cat.Venue(tx.Intent.VenueID)
	product, _ := e.cat.Product(tx.Intent.ProductID)

	// Funds may have moved since the quote; the debit is the authority.
	allowCredit := tx.Intent.Payment == catalog.PaymentCredit
	reason := fmt.Sprintf("buy %dx %s @ %s", tx.Intent.Quantity, tx.Intent.ProductID, venue.ID)
	if err := e.ledger.Debit(ledger.CurrencyCash, tx.Total, reason, "trading", allowCredit); err != nil {
		e.finish(tx, false, "insufficient funds at settlement")
		return
	}

	quality := e.rng.Range(venue.QualityMin, venue.QualityMax)
	e.addLot(&Lot{
		ID:         uuid.NewString(),
		ProductID:  tx.Intent.ProductID,
		Quantity:   tx.Intent.Quantity,
		Quality:    quality,
		UnitCost:   tx.UnitPrice,
		AcquiredAt: e.State.Day,
		ExpiresAt:  e.State.Day + product.ShelfLifeDays,
	})

	e.market.ApplyImpact(tx.Intent.ProductID, float64(tx.Intent.Quantity), market.Buy)
	e.relations.RecordInteraction(venue.CounterpartyID, relations.InteractionPurchase, quality, tx.Total)

	e.finish(tx, true, "")
	e.bus.Publish(events.Event{
		Kind:   events.KindPurchaseCompleted,
		Day:    e.State.Day,
		Entity: tx.Intent.ProductID,
		After:  tx.Total,
		Payload: map[string]any{
			"transaction": tx.ID,
			"quantity":    tx.Intent.Quantity,
			"quality":     quality,
			"venue":       venue.ID,
		},
	})
}

func (e *Engine) settleSell(tx *PendingTransaction) {
	venue, _ := e.cat.Venue(tx.Intent.VenueID)

	// Inventory may have spoiled or been sold since the quote.
	consumed, ok := e.consume(tx.Intent.ProductID, tx.Intent.Quantity)
	if !ok {
		e.finish(tx, false, "insufficient inventory at settlement")
		return
	}

	// Each lot is priced at settlement with its own quality adjustment.
	revenue := 0.0
	for _, c := range consumed {
		unit := e.market.Price(tx.Intent.ProductID, "", c.Quality) * (1 - venue.Commission)
		revenue += unit * float64(c.Quantity)
	}

	reason := fmt.Sprintf("sell %dx %s @ %s", tx.Intent.Quantity, tx.Intent.ProductID, venue.ID)
	if err := e.ledger.Credit(ledger.CurrencyCash, revenue, reason, "trading"); err != nil {
		slog.Warn("sale credit failed", "transaction", tx.ID, "error", err)
		e.finish(tx, false, "credit failed")
		return
	}

	e.market.ApplyImpact(tx.Intent.ProductID, float64(tx.Intent.Quantity), market.Sell)
	avgQuality := 0.0
	for _, c := range consumed {
		avgQuality += c.Quality * float64(c.Quantity)
	}
	avgQuality /= float64(tx.Intent.Quantity)
	e.relations.RecordInteraction(venue.CounterpartyID, relations.InteractionSale, avgQuality, revenue)

	tx.Total = revenue
	e.finish(tx, true, "")
	e.bus.Publish(events.Event{
		Kind:   events.KindSaleCompleted,
		Day:    e.State.Day,
		Entity: tx.Intent.ProductID,
		After:  revenue,
		Payload: map[string]any{
			"transaction": tx.ID,
			"quantity":    tx.Intent.Quantity,
			"quality":     avgQuality,
			"venue":       venue.ID,
		},
	})
}

// finish moves a transaction to the history as its single terminal record.
func (e *Engine) finish(tx *PendingTransaction, success bool, reason string) {
	if success {
		tx.Status = StatusCompleted
	} else {
		tx.Status = StatusFailed
	}
	e.State.History = append(e.State.History, CompletedTransaction{
		PendingTransaction: *tx,
		Success:            success,
		Reason:             reason,
		SettledAt:          e.State.Day,
	})
	if len(e.State.History) > historyLimit {
		e.State.History = e.State.History[len(e.State.History)-historyLimit:]
	}
	if !success {
		slog.Info("transaction failed", "id", tx.ID, "reason", reason)
	}
}
