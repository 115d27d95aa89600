// Package contracts manages the agreement lifecycle: offers generated from
// templates, active contracts with delivery progress, two-tier delivery
// evaluation (hard quality/compliance gate, then continuous scoring for
// bonuses and penalties), risk events, and termination.
package contracts

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/exp/maps"

	"github.com/cultivar/emporium/internal/catalog"
	"github.com/cultivar/emporium/internal/entropy"
	"github.com/cultivar/emporium/internal/events"
	"github.com/cultivar/emporium/internal/ledger"
	"github.com/cultivar/emporium/internal/relations"
)

// Validation failures callers branch on.
var (
	ErrNotFound     = errors.New("contract not found")
	ErrOfferExpired = errors.New("offer expired")
	ErrNotFeasible  = errors.New("template below feasibility threshold")
	ErrNotActive    = errors.New("contract is not active")
)

// Status is a contract's lifecycle state.
type Status string

const (
	StatusOffered    Status = "offered"
	StatusActive     Status = "active"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusTerminated Status = "terminated"
	StatusDisputed   Status = "disputed"
)

const (
	feasibilityThreshold = 0.5
	complianceGate       = 0.8
	trustValueSwing      = 0.4  // ±20% contract value across the trust range
	terminationRate      = 0.25 // Penalty rate on the undelivered fraction
	offerGenIntervalDays = 7
	offersPerCycle       = 2
	earlyCompletionFrac  = 0.25 // Remaining duration needed for the early bonus
)

// Offer is a contract proposal awaiting acceptance.
type Offer struct {
	ID             string  `json:"id"`
	TemplateID     string  `json:"template_id"`
	CounterpartyID string  `json:"counterparty_id"`
	Value          float64 `json:"value"`
	Feasibility    float64 `json:"feasibility"`
	ExpiresAt      float64 `json:"expires_at"`
}

// Issue is a logged problem on an active contract, usually from a triggered
// risk event. It carries a financial impact estimate but does not fail the
// contract by itself.
type Issue struct {
	Type   string  `json:"type"`
	Day    float64 `json:"day"`
	Impact float64 `json:"impact"`
	Note   string  `json:"note"`
}

// ActiveContract tracks progress against a template's requirement.
type ActiveContract struct {
	ID             string  `json:"id"`
	TemplateID     string  `json:"template_id"`
	CounterpartyID string  `json:"counterparty_id"`
	ProductID      string  `json:"product_id"`
	Status         Status  `json:"status"`
	Required       int     `json:"required"`
	Delivered      int     `json:"delivered"`
	Deliveries     int     `json:"deliveries"`
	QualitySum     float64 `json:"quality_sum"` // Sum of accepted delivery scores
	DurationDays   float64 `json:"duration_days"`
	RemainingDays  float64 `json:"remaining_days"`
	Value          float64 `json:"value"`
	MinQuality     float64 `json:"min_quality"`
	PaidOut        float64 `json:"paid_out"`
	BonusEarned    float64 `json:"bonus_earned"`
	PenaltyPaid    float64 `json:"penalty_paid"`
	Issues         []Issue `json:"issues"`
}

// AverageQuality is the mean score of accepted deliveries.
func (c *ActiveContract) AverageQuality() float64 {
	if c.Deliveries == 0 {
		return 0
	}
	return c.QualitySum / float64(c.Deliveries)
}

// State is the engine's full mutable state, exported for snapshots.
type State struct {
	Day           float64                    `json:"day"`
	Offers        map[string]*Offer          `json:"offers"`
	Contracts     map[string]*ActiveContract `json:"contracts"`
	SinceOfferGen float64                    `json:"since_offer_gen"`
}

// Engine is the contract engine.
type Engine struct {
	cat       *catalog.Catalog
	ledger    *ledger.Ledger
	relations *relations.Engine
	bus       *events.Bus
	rng       *entropy.Source

	State State
}

// New creates a contract engine wired to its collaborators.
func New(cat *catalog.Catalog, led *ledger.Ledger, rel *relations.Engine, bus *events.Bus, rng *entropy.Source) *Engine {
	return &Engine{
		cat:       cat,
		ledger:    led,
		relations: rel,
		bus:       bus,
		rng:       rng,
		State: State{
			Offers:    make(map[string]*Offer),
			Contracts: make(map[string]*ActiveContract),
		},
	}
}

// EvaluateFeasibility scores a template against the player's capabilities:
// the average fulfillment ratio across required capabilities, each capped at
// full. A template with no requirements is fully feasible.
func (e *Engine) EvaluateFeasibility(tpl catalog.ContractTemplate, caps map[string]float64) float64 {
	if len(tpl.RequiredCaps) == 0 {
		return 1.0
	}
	keys := maps.Keys(tpl.RequiredCaps)
	sort.Strings(keys)

	total := 0.0
	for _, name := range keys {
		required := tpl.RequiredCaps[name]
		if required <= 0 {
			total += 1
			continue
		}
		ratio := caps[name] / required
		if ratio > 1 {
			ratio = 1
		}
		if ratio < 0 {
			ratio = 0
		}
		total += ratio
	}
	return total / float64(len(tpl.RequiredCaps))
}

// GenerateOffer creates an offer from a template, rejecting templates below
// the feasibility threshold. The offered value is adjusted by the
// counterparty relationship's trust delta from neutral.
func (e *Engine) GenerateOffer(templateID string, caps map[string]float64) (*Offer, error) {
	tpl, ok := e.cat.Template(templateID)
	if !ok {
		return nil, fmt.Errorf("%w: template %s", ErrNotFound, templateID)
	}

	feasibility := e.EvaluateFeasibility(tpl, caps)
	if feasibility < feasibilityThreshold {
		return nil, fmt.Errorf("%w: %.2f", ErrNotFeasible, feasibility)
	}

	trust := e.relations.TrustLevel(tpl.CounterpartyID)
	offer := &Offer{
		ID:             uuid.NewString(),
		TemplateID:     templateID,
		CounterpartyID: tpl.CounterpartyID,
		Value:          tpl.BaseValue * (1 + (trust-0.5)*trustValueSwing),
		Feasibility:    feasibility,
		ExpiresAt:      e.State.Day + tpl.OfferWindowDays,
	}
	e.State.Offers[offer.ID] = offer

	slog.Info("contract offered",
		"offer", offer.ID, "template", templateID, "value", offer.Value, "feasibility", feasibility)
	e.bus.Publish(events.Event{
		Kind:   events.KindContractOffered,
		Day:    e.State.Day,
		Entity: offer.ID,
		After:  offer.Value,
		Payload: map[string]any{
			"template":     templateID,
			"counterparty": tpl.CounterpartyID,
		},
	})
	return offer, nil
}

// Accept turns an offer into an active contract. An offer past its
// expiration date is rejected and removed.
func (e *Engine) Accept(offerID string) (*ActiveContract, error) {
	offer, ok := e.State.Offers[offerID]
	if !ok {
		return nil, fmt.Errorf("%w: offer %s", ErrNotFound, offerID)
	}
	delete(e.State.Offers, offerID)

	if e.State.Day >= offer.ExpiresAt {
		return nil, ErrOfferExpired
	}
	tpl, ok := e.cat.Template(offer.TemplateID)
	if !ok {
		return nil, fmt.Errorf("%w: template %s", ErrNotFound, offer.TemplateID)
	}

	c := &ActiveContract{
		ID:             uuid.NewString(),
		TemplateID:     offer.TemplateID,
		CounterpartyID: offer.CounterpartyID,
		ProductID:      tpl.ProductID,
		Status:         StatusActive,
		Required:       tpl.Quantity,
		DurationDays:   tpl.DurationDays,
		RemainingDays:  tpl.DurationDays,
		Value:          offer.Value,
		MinQuality:     tpl.MinQuality,
	}
	e.State.Contracts[c.ID] = c

	slog.Info("contract accepted", "contract", c.ID, "template", c.TemplateID, "value", c.Value)
	e.bus.Publish(events.Event{
		Kind:   events.KindContractAccepted,
		Day:    e.State.Day,
		Entity: c.ID,
		After:  c.Value,
		Payload: map[string]any{
			"template":     c.TemplateID,
			"counterparty": c.CounterpartyID,
		},
	})
	return c, nil
}

// Contract returns an active or resolved contract by ID.
func (e *Engine) Contract(id string) (*ActiveContract, bool) {
	c, ok := e.State.Contracts[id]
	return c, ok
}

// Terminate ends a contract early by explicit action of either party. It
// always applies a proportional penalty on the undelivered fraction and a
// fixed negative trust delta, distinct from natural failure.
func (e *Engine) Terminate(contractID, reason string) error {
	c, ok := e.State.Contracts[contractID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, contractID)
	}
	if c.Status != StatusActive {
		return ErrNotActive
	}

	remainingFrac := 1.0
	if c.Required > 0 {
		remainingFrac = float64(c.Required-c.Delivered) / float64(c.Required)
	}
	penalty := c.Value * remainingFrac * terminationRate
	if penalty > 0 {
		if err := e.ledger.Debit(ledger.CurrencyCash, penalty, "contract termination penalty", "contracts", true); err != nil {
			slog.Warn("termination penalty unpaid", "contract", c.ID, "penalty", penalty)
		}
		c.PenaltyPaid += penalty
	}

	c.Status = StatusTerminated
	e.relations.RecordInteraction(c.CounterpartyID, relations.InteractionTermination, 0, penalty)

	slog.Info("contract terminated", "contract", c.ID, "reason", reason, "penalty", penalty)
	e.publishResolved(c, reason)
	return nil
}

// Tick advances contracts by dt sim-days: offers expire, new offers are
// generated periodically, active contracts run down, and risk events roll.
func (e *Engine) Tick(dt float64, caps map[string]float64) {
	if dt <= 0 {
		return
	}
	e.State.Day += dt

	e.expireOffers()
	e.generateOffers(dt, caps)

	ids := maps.Keys(e.State.Contracts)
	sort.Strings(ids)
	for _, id := range ids {
		e.tickContract(e.State.Contracts[id], dt)
	}
}

func (e *Engine) expireOffers() {
	for id, offer := range e.State.Offers {
		if e.State.Day >= offer.ExpiresAt {
			delete(e.State.Offers, id)
			slog.Info("offer expired", "offer", id, "template", offer.TemplateID)
		}
	}
}

// generateOffers periodically proposes contracts from random templates that
// clear the feasibility gate. Templates with an open offer are skipped.
func (e *Engine) generateOffers(dt float64, caps map[string]float64) {
	e.State.SinceOfferGen += dt
	if e.State.SinceOfferGen < offerGenIntervalDays {
		return
	}
	e.State.SinceOfferGen = 0

	if len(e.cat.TemplateIDs) == 0 {
		return
	}

	open := make(map[string]bool, len(e.State.Offers))
	for _, offer := range e.State.Offers {
		open[offer.TemplateID] = true
	}

	for i := 0; i < offersPerCycle; i++ {
		templateID := e.cat.TemplateIDs[e.rng.Intn(len(e.cat.TemplateIDs))]
		if open[templateID] {
			continue
		}
		if _, err := e.GenerateOffer(templateID, caps); err != nil {
			if !errors.Is(err, ErrNotFeasible) {
				slog.Warn("offer generation failed", "template", templateID, "error", err)
			}
			continue
		}
		open[templateID] = true
	}
}

func (e *Engine) tickContract(c *ActiveContract, dt float64) {
	if c.Status != StatusActive {
		return
	}

	tpl, ok := e.cat.Template(c.TemplateID)
	if !ok {
		slog.Warn("active contract references unknown template", "contract", c.ID, "template", c.TemplateID)
	} else {
		// Declared risks roll independently each tick. A triggered risk logs
		// an issue with a financial impact estimate; it never fails the
		// contract on its own.
		for _, risk := range tpl.Risks {
			if e.rng.Chance(risk.Probability * dt) {
				c.Issues = append(c.Issues, Issue{
					Type:   risk.Type,
					Day:    e.State.Day,
					Impact: risk.Impact,
					Note:   fmt.Sprintf("risk event: %s", risk.Type),
				})
				slog.Info("contract risk triggered",
					"contract", c.ID, "risk", risk.Type, "impact", risk.Impact)
			}
		}
	}

	c.RemainingDays -= dt
	if c.RemainingDays > 0 {
		return
	}
	c.RemainingDays = 0

	if c.Delivered >= c.Required {
		e.complete(c, false)
	} else {
		e.fail(c, "deadline reached with shortfall")
	}
}

func (e *Engine) complete(c *ActiveContract, early bool) {
	c.Status = StatusCompleted

	// Remaining contract value settles at completion.
	remainder := c.Value - c.PaidOut
	if remainder > 0 {
		if err := e.ledger.Credit(ledger.CurrencyCash, remainder, "contract completion", "contracts"); err != nil {
			slog.Warn("completion payout failed", "contract", c.ID, "error", err)
		}
		c.PaidOut = c.Value
	}

	if early {
		if tpl, ok := e.cat.Template(c.TemplateID); ok {
			for _, bonus := range tpl.Bonuses {
				if bonus.Type == "early_delivery" && c.RemainingDays >= c.DurationDays*earlyCompletionFrac {
					if err := e.ledger.Credit(ledger.CurrencyCash, bonus.Amount, "early completion bonus", "contracts"); err == nil {
						c.BonusEarned += bonus.Amount
					}
				}
			}
		}
	}

	e.relations.RecordInteraction(c.CounterpartyID, relations.InteractionCompletion, c.AverageQuality(), c.Value)
	slog.Info("contract completed",
		"contract", c.ID, "avg_quality", c.AverageQuality(), "bonus", c.BonusEarned)
	e.publishResolved(c, "completed")
}

func (e *Engine) fail(c *ActiveContract, reason string) {
	c.Status = StatusFailed

	if tpl, ok := e.cat.Template(c.TemplateID); ok {
		for _, penalty := range tpl.Penalties {
			if penalty.Type != "breach" && penalty.Type != "late_delivery" {
				continue
			}
			if err := e.ledger.Debit(ledger.CurrencyCash, penalty.Amount, "contract penalty: "+penalty.Type, "contracts", true); err != nil {
				slog.Warn("contract penalty unpaid", "contract", c.ID, "penalty", penalty.Amount)
				continue
			}
			c.PenaltyPaid += penalty.Amount
		}
	}

	e.relations.RecordInteraction(c.CounterpartyID, relations.InteractionBreach, 0, c.Value)
	slog.Info("contract failed", "contract", c.ID, "reason", reason, "penalty", c.PenaltyPaid)
	e.publishResolved(c, reason)
}

func (e *Engine) publishResolved(c *ActiveContract, reason string) {
	e.bus.Publish(events.Event{
		Kind:   events.KindContractResolved,
		Day:    e.State.Day,
		Entity: c.ID,
		After:  c.PaidOut - c.PenaltyPaid + c.BonusEarned,
		Payload: map[string]any{
			"status":       string(c.Status),
			"reason":       reason,
			"counterparty": c.CounterpartyID,
			"delivered":    c.Delivered,
			"required":     c.Required,
		},
	})
}
