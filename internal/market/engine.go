// Package market implements the pricing engine: per-product market state,
// category dynamics, global conditions, and transient market events. Prices
// move each tick from bounded random volatility, supply/demand pressure, and
// a stability-scaled reversion toward base, clamped to the product's band.
package market

import (
	"log/slog"
	"math"
	"sort"

	opensimplex "github.com/ojrac/opensimplex-go"
	"golang.org/x/exp/maps"

	"github.com/cultivar/emporium/internal/catalog"
	"github.com/cultivar/emporium/internal/entropy"
	"github.com/cultivar/emporium/internal/events"
)

// Price band relative to base price. Holds at every mutation point.
const (
	PriceBandLow  = 0.3
	PriceBandHigh = 3.0
)

const (
	impactFactor     = 0.05 // Pressure shift per full market-size transaction
	pressureFactor   = 0.25 // Price response to (demand − supply)
	reversionFactor  = 0.10 // Pull toward base price, scaled by stability
	historyLimit     = 30
	priceEventMinPct = 0.005 // Minimum move worth announcing
)

// Direction of a market-impacting transaction.
type Direction int

const (
	Buy Direction = iota
	Sell
)

// Conditions are the global market scalars, all in [0,1] except Season.
type Conditions struct {
	Demand              float64        `json:"demand"`
	Supply              float64        `json:"supply"`
	EconomicHealth      float64        `json:"economic_health"`
	RegulatoryStability float64        `json:"regulatory_stability"`
	Season              catalog.Season `json:"season"`
}

// ProductState is the live market state for one product.
type ProductState struct {
	ProductID    string    `json:"product_id"`
	CurrentPrice float64   `json:"current_price"`
	Demand       float64   `json:"demand"`
	Supply       float64   `json:"supply"`
	Volatility   float64   `json:"volatility"` // Driving parameter
	Realized     float64   `json:"realized"`   // Stddev of recent returns
	Trend        float64   `json:"trend"`      // Mean of recent returns
	History      []float64 `json:"history"`
}

// CategoryState drifts independently and colors every product in the category.
type CategoryState struct {
	Category    string  `json:"category"`
	Demand      float64 `json:"demand"`
	Growth      float64 `json:"growth"`
	Competition float64 `json:"competition"`
}

// ActiveEvent is a transient market shock with a remaining duration.
type ActiveEvent struct {
	Type          string  `json:"type"`
	Category      string  `json:"category"` // Empty = market-wide
	Intensity     float64 `json:"intensity"`
	RemainingDays float64 `json:"remaining_days"`
}

// State is the engine's full mutable state, exported for snapshots.
type State struct {
	Day        float64                   `json:"day"`
	Conditions Conditions                `json:"conditions"`
	Products   map[string]*ProductState  `json:"products"`
	Categories map[string]*CategoryState `json:"categories"`
	Events     []ActiveEvent             `json:"events"`
}

// Engine is the pricing engine.
type Engine struct {
	cat   *catalog.Catalog
	bus   *events.Bus
	rng   *entropy.Source
	noise opensimplex.Noise

	State State
}

// New creates a pricing engine with market state initialized for every
// catalog product.
func New(cat *catalog.Catalog, bus *events.Bus, rng *entropy.Source, seed int64) *Engine {
	e := &Engine{
		cat:   cat,
		bus:   bus,
		rng:   rng,
		noise: opensimplex.NewNormalized(seed),
		State: State{
			Conditions: Conditions{
				Demand:              0.5,
				Supply:              0.5,
				EconomicHealth:      0.6,
				RegulatoryStability: 0.7,
				Season:              catalog.SeasonSpring,
			},
			Products:   make(map[string]*ProductState, len(cat.ProductIDs)),
			Categories: make(map[string]*CategoryState),
		},
	}

	for _, id := range cat.ProductIDs {
		p := cat.Products[id]
		e.State.Products[id] = &ProductState{
			ProductID:    id,
			CurrentPrice: p.BasePrice,
			Demand:       p.DemandProfile,
			Supply:       0.5,
			Volatility:   p.Volatility,
			History:      []float64{p.BasePrice},
		}
		if _, ok := e.State.Categories[p.Category]; !ok {
			e.State.Categories[p.Category] = &CategoryState{
				Category:    p.Category,
				Demand:      0.5,
				Growth:      0.5,
				Competition: 0.5,
			}
		}
	}

	return e
}

// Price quotes a product for a venue and quality score. A product present in
// the catalog but missing from market state falls back to its static base
// price; a product unknown to the catalog quotes zero. Both are anomalies and
// are logged, never propagated.
func (e *Engine) Price(productID, venueID string, quality float64) float64 {
	product, ok := e.cat.Product(productID)
	if !ok {
		slog.Warn("price quote for product not in catalog", "product", productID)
		return 0
	}

	base := product.BasePrice
	if st, ok := e.State.Products[productID]; ok {
		base = st.CurrentPrice
	} else {
		slog.Warn("product missing from market state, quoting base price", "product", productID)
	}

	price := base * product.SeasonalMultiplier(e.State.Conditions.Season) * qualityAdjustment(quality)

	if venueID != "" {
		venue, ok := e.cat.Venue(venueID)
		if !ok {
			slog.Warn("price quote for unknown venue", "venue", venueID)
		} else {
			price *= 1 + venue.Markup
		}
	}

	return price
}

// qualityAdjustment maps quality in [0,1] to a price multiplier in [0.7, 1.3].
func qualityAdjustment(quality float64) float64 {
	return 0.7 + 0.6*clamp01(quality)
}

// ApplyImpact shifts a product's supply/demand pressure after a transaction of
// the given quantity. Buying raises demand and lowers supply; selling the
// reverse. The shift is the quantity relative to the product's reference
// market size, scaled by the impact factor.
func (e *Engine) ApplyImpact(productID string, quantity float64, dir Direction) {
	st, ok := e.State.Products[productID]
	if !ok {
		slog.Warn("market impact for unknown product", "product", productID)
		return
	}
	product, ok := e.cat.Product(productID)
	if !ok || product.MarketSize <= 0 {
		return
	}

	delta := impactFactor * quantity / product.MarketSize
	if dir == Buy {
		st.Demand = clamp01(st.Demand + delta)
		st.Supply = clamp01(st.Supply - delta)
	} else {
		st.Demand = clamp01(st.Demand - delta)
		st.Supply = clamp01(st.Supply + delta)
	}
}

// Shock durations in sim-days by type.
var shockDurations = map[string]float64{
	"regulatory_change": 14,
	"supply_disruption": 7,
	"demand_spike":      5,
}

// TriggerShock starts a transient market event. Category may be empty for a
// market-wide shock. The jolt lands immediately; the lingering effect lapses
// when the duration runs out.
func (e *Engine) TriggerShock(shockType string, intensity float64, category string) {
	duration, ok := shockDurations[shockType]
	if !ok {
		duration = 7
	}
	intensity = clamp01(intensity)

	e.State.Events = append(e.State.Events, ActiveEvent{
		Type:          shockType,
		Category:      category,
		Intensity:     intensity,
		RemainingDays: duration,
	})

	cond := &e.State.Conditions
	switch shockType {
	case "regulatory_change":
		cond.RegulatoryStability = clamp01(cond.RegulatoryStability - 0.3*intensity)
	case "supply_disruption":
		cond.Supply = clamp01(cond.Supply - 0.4*intensity)
	case "demand_spike":
		cond.Demand = clamp01(cond.Demand + 0.4*intensity)
	}

	if cs, ok := e.State.Categories[category]; ok {
		switch shockType {
		case "demand_spike":
			cs.Demand = clamp01(cs.Demand + 0.3*intensity)
		case "supply_disruption":
			cs.Competition = clamp01(cs.Competition - 0.2*intensity)
		}
	}

	slog.Info("market shock triggered",
		"type", shockType, "intensity", intensity, "category", category, "duration_days", duration)

	e.bus.Publish(events.Event{
		Kind:   events.KindMarketEvent,
		Day:    e.State.Day,
		Entity: shockType,
		After:  intensity,
		Payload: map[string]any{
			"category":      category,
			"duration_days": duration,
		},
	})
}

// Tick advances market state by dt sim-days. A zero or negative dt is a no-op.
func (e *Engine) Tick(dt float64) {
	if dt <= 0 {
		return
	}
	e.State.Day += dt

	e.updateConditions(dt)
	e.ageEvents(dt)
	e.updateCategories(dt)

	// Sorted iteration keeps randomized draws reproducible per seed.
	ids := maps.Keys(e.State.Products)
	sort.Strings(ids)
	for _, id := range ids {
		e.updateProduct(id, dt)
	}
}

func (e *Engine) updateConditions(dt float64) {
	cond := &e.State.Conditions

	prevSeason := cond.Season
	cond.Season = catalog.SeasonForDay(e.State.Day)

	// Economic health and regulatory stability drift along slow noise curves;
	// shocks jolt them and the drift pulls them back over following days.
	healthTarget := clamp01(0.2 + 0.7*e.noise.Eval2(e.State.Day*0.01, 0))
	stabilityTarget := clamp01(0.3 + 0.6*e.noise.Eval2(e.State.Day*0.005, 37))
	cond.EconomicHealth += (healthTarget - cond.EconomicHealth) * math.Min(0.1*dt, 1)
	cond.RegulatoryStability += (stabilityTarget - cond.RegulatoryStability) * math.Min(0.05*dt, 1)

	// Global demand/supply relax toward balance.
	cond.Demand = clamp01(cond.Demand + (0.5-cond.Demand)*math.Min(0.05*dt, 1))
	cond.Supply = clamp01(cond.Supply + (0.5-cond.Supply)*math.Min(0.05*dt, 1))

	if cond.Season != prevSeason {
		slog.Info("season change", "day", e.State.Day, "season", catalog.SeasonName(cond.Season))
		e.bus.Publish(events.Event{
			Kind:   events.KindConditionsChanged,
			Day:    e.State.Day,
			Entity: catalog.SeasonName(cond.Season),
			Before: float64(prevSeason),
			After:  float64(cond.Season),
		})
	}
}

func (e *Engine) ageEvents(dt float64) {
	kept := e.State.Events[:0]
	for _, ev := range e.State.Events {
		ev.RemainingDays -= dt
		if ev.RemainingDays > 0 {
			kept = append(kept, ev)
		} else {
			slog.Info("market event lapsed", "type", ev.Type, "category", ev.Category)
		}
	}
	e.State.Events = kept
}

// eventPressure sums the per-tick demand nudge from active events touching a
// category. Positive for demand spikes, negative for disruptions.
func (e *Engine) eventPressure(category string) float64 {
	pressure := 0.0
	for _, ev := range e.State.Events {
		if ev.Category != "" && ev.Category != category {
			continue
		}
		switch ev.Type {
		case "demand_spike":
			pressure += 0.05 * ev.Intensity
		case "supply_disruption":
			pressure += 0.03 * ev.Intensity
		case "regulatory_change":
			pressure -= 0.04 * ev.Intensity
		}
	}
	return pressure
}

func (e *Engine) updateCategories(dt float64) {
	step := math.Min(dt, 1)
	names := maps.Keys(e.State.Categories)
	sort.Strings(names)

	for _, name := range names {
		cs := e.State.Categories[name]
		seasonal := e.seasonalCategoryMod(name)

		cs.Demand = clamp01(cs.Demand +
			e.rng.Symmetric()*0.02*step +
			(seasonal-1.0)*0.05*step +
			e.eventPressure(name)*step)
		cs.Growth = clamp01(cs.Growth +
			e.rng.Symmetric()*0.01*step +
			(e.State.Conditions.EconomicHealth-0.5)*0.02*step)
		cs.Competition = clamp01(cs.Competition + e.rng.Symmetric()*0.015*step)
	}
}

// seasonalCategoryMod averages the seasonal multipliers of the category's
// products for the current season.
func (e *Engine) seasonalCategoryMod(category string) float64 {
	sum, n := 0.0, 0
	for _, id := range e.cat.ProductIDs {
		p := e.cat.Products[id]
		if p.Category != category {
			continue
		}
		sum += p.SeasonalMultiplier(e.State.Conditions.Season)
		n++
	}
	if n == 0 {
		return 1.0
	}
	return sum / float64(n)
}

func (e *Engine) updateProduct(id string, dt float64) {
	st := e.State.Products[id]
	product, ok := e.cat.Product(id)
	if !ok {
		slog.Warn("market state for product not in catalog", "product", id)
		return
	}

	step := math.Min(dt, 1)
	cond := e.State.Conditions

	// Pressure relaxes toward the category demand level between transactions.
	if cs, ok := e.State.Categories[product.Category]; ok {
		st.Demand = clamp01(st.Demand + (cs.Demand-st.Demand)*0.02*step)
		st.Supply = clamp01(st.Supply + (0.5-st.Supply)*0.02*step)
	}

	volTerm := st.Volatility * e.rng.Symmetric() * step
	pressureTerm := (st.Demand - st.Supply) * pressureFactor * step
	reversionTerm := 0.0
	if st.CurrentPrice > 0 {
		reversionTerm = reversionFactor * cond.RegulatoryStability *
			(product.BasePrice - st.CurrentPrice) / st.CurrentPrice * step
	}

	before := st.CurrentPrice
	st.CurrentPrice = clampBand(st.CurrentPrice*(1+volTerm+pressureTerm+reversionTerm), product.BasePrice)

	st.History = append(st.History, st.CurrentPrice)
	if len(st.History) > historyLimit {
		st.History = st.History[len(st.History)-historyLimit:]
	}
	st.Realized, st.Trend = historyStats(st.History)

	if before > 0 && math.Abs(st.CurrentPrice-before)/before >= priceEventMinPct {
		e.bus.Publish(events.Event{
			Kind:   events.KindPriceChanged,
			Day:    e.State.Day,
			Entity: id,
			Before: before,
			After:  st.CurrentPrice,
		})
	}
}

// Conditions returns a copy of the current global market conditions.
func (e *Engine) Conditions() Conditions {
	return e.State.Conditions
}

// Product returns the live market state for a product, or false when the
// product has never been registered.
func (e *Engine) Product(id string) (ProductState, bool) {
	st, ok := e.State.Products[id]
	if !ok {
		return ProductState{}, false
	}
	return *st, true
}

func clampBand(price, base float64) float64 {
	if price < base*PriceBandLow {
		return base * PriceBandLow
	}
	if price > base*PriceBandHigh {
		return base * PriceBandHigh
	}
	return price
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
