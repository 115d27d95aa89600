package trading

import (
	"log/slog"
	"sort"

	"github.com/cultivar/emporium/internal/events"
)

// Lot is a batch of inventory acquired in one purchase. Lots are consumed
// FIFO by acquisition date and their quality decays with elapsed time at the
// product's spoilage rate.
type Lot struct {
	ID         string  `json:"id"`
	ProductID  string  `json:"product_id"`
	Quantity   int     `json:"quantity"`
	Quality    float64 `json:"quality"`
	UnitCost   float64 `json:"unit_cost"`
	AcquiredAt float64 `json:"acquired_at"`
	ExpiresAt  float64 `json:"expires_at"`
}

// consumedLot records how much of a lot a sale took, at what quality.
type consumedLot struct {
	Quantity int
	Quality  float64
	UnitCost float64
}

// Available returns the total quantity held for a product.
func (e *Engine) Available(productID string) int {
	total := 0
	for _, lot := range e.State.Lots {
		if lot.ProductID == productID {
			total += lot.Quantity
		}
	}
	return total
}

// Lots returns a copy of the current inventory lots.
func (e *Engine) Lots() []Lot {
	out := make([]Lot, len(e.State.Lots))
	for i, lot := range e.State.Lots {
		out[i] = *lot
	}
	return out
}

func (e *Engine) addLot(lot *Lot) {
	e.State.Lots = append(e.State.Lots, lot)
	// Keep lots ordered by acquisition date so consumption is a front scan.
	sort.SliceStable(e.State.Lots, func(i, j int) bool {
		return e.State.Lots[i].AcquiredAt < e.State.Lots[j].AcquiredAt
	})
}

// averageQuality returns the quantity-weighted quality of the oldest lots
// covering qty units, for quoting a sale.
func (e *Engine) averageQuality(productID string, qty int) float64 {
	need := qty
	weighted := 0.0
	for _, lot := range e.State.Lots {
		if lot.ProductID != productID || need <= 0 {
			continue
		}
		take := lot.Quantity
		if take > need {
			take = need
		}
		weighted += lot.Quality * float64(take)
		need -= take
	}
	taken := qty - need
	if taken <= 0 {
		return 0.5
	}
	return weighted / float64(taken)
}

// consume removes qty units FIFO by acquisition date. Returns false without
// removing anything when the inventory cannot cover the quantity.
func (e *Engine) consume(productID string, qty int) ([]consumedLot, bool) {
	if e.Available(productID) < qty {
		return nil, false
	}

	var consumed []consumedLot
	need := qty
	kept := e.State.Lots[:0]
	for _, lot := range e.State.Lots {
		if lot.ProductID != productID || need <= 0 {
			kept = append(kept, lot)
			continue
		}
		take := lot.Quantity
		if take > need {
			take = need
		}
		consumed = append(consumed, consumedLot{Quantity: take, Quality: lot.Quality, UnitCost: lot.UnitCost})
		lot.Quantity -= take
		need -= take
		if lot.Quantity > 0 {
			kept = append(kept, lot)
		}
	}
	e.State.Lots = kept
	return consumed, true
}

// decayLots reduces quality proportional to elapsed time and spoilage rate.
func (e *Engine) decayLots(dt float64) {
	for _, lot := range e.State.Lots {
		product, ok := e.cat.Product(lot.ProductID)
		if !ok {
			continue
		}
		lot.Quality -= product.SpoilageRate * dt
		if lot.Quality < 0 {
			lot.Quality = 0
		}
	}
}

// purgeExpired removes lots past their expiration date and reports them as
// losses, not sales.
func (e *Engine) purgeExpired() {
	kept := e.State.Lots[:0]
	for _, lot := range e.State.Lots {
		if lot.ExpiresAt > e.State.Day {
			kept = append(kept, lot)
			continue
		}
		loss := float64(lot.Quantity) * lot.UnitCost
		slog.Info("inventory expired",
			"lot", lot.ID, "product", lot.ProductID, "quantity", lot.Quantity, "loss", loss)
		e.bus.Publish(events.Event{
			Kind:   events.KindInventoryLoss,
			Day:    e.State.Day,
			Entity: lot.ProductID,
			After:  loss,
			Payload: map[string]any{
				"lot":      lot.ID,
				"quantity": lot.Quantity,
			},
		})
	}
	e.State.Lots = kept
}
