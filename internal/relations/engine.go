// Package relations tracks trust per counterparty and the player's aggregate
// reputation. Interactions from trading and contracts nudge both; time decays
// them; industry events move whole roles at once. Other engines only read
// relationship state — every mutation happens here.
package relations

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/exp/maps"

	"github.com/cultivar/emporium/internal/catalog"
	"github.com/cultivar/emporium/internal/events"
)

// InteractionType classifies a business interaction for trust accounting.
type InteractionType string

const (
	InteractionPurchase       InteractionType = "purchase"
	InteractionSale           InteractionType = "sale"
	InteractionDelivery       InteractionType = "delivery"
	InteractionFailedDelivery InteractionType = "failed_delivery"
	InteractionCompletion     InteractionType = "contract_completion"
	InteractionBreach         InteractionType = "contract_breach"
	InteractionTermination    InteractionType = "termination"
	InteractionDispute        InteractionType = "dispute"
	InteractionMeeting        InteractionType = "meeting"
)

// FailedDeliveryTrustDelta is the documented base trust hit for a rejected
// contract delivery, before counterparty temperament scaling.
const FailedDeliveryTrustDelta = -0.05

const (
	trustFloor           = 0.2
	idleDecayDays        = 30
	idleDecayRate        = 0.01 // Per day toward the floor once idle
	perceptionRate       = 0.05 // Exponential convergence toward actual reputation
	historyLimit         = 50
	neutralTrust         = 0.5
	deliveryQualityPivot = 0.5
)

// baseTrustDelta is the unscaled trust movement per interaction type.
// Delivery deltas scale with quality around the pivot instead.
var baseTrustDelta = map[InteractionType]float64{
	InteractionPurchase:       0.01,
	InteractionSale:           0.01,
	InteractionFailedDelivery: FailedDeliveryTrustDelta,
	InteractionCompletion:     0.08,
	InteractionBreach:         -0.20,
	InteractionTermination:    -0.15,
	InteractionDispute:        -0.10,
	InteractionMeeting:        0.02,
}

// Interaction is one recorded business touch with a counterparty.
type Interaction struct {
	Type       InteractionType `json:"type"`
	Day        float64         `json:"day"`
	Quality    float64         `json:"quality"`
	Value      float64         `json:"value"`
	TrustDelta float64         `json:"trust_delta"`
}

// Issue is an open relationship problem with a resolution timer. The stored
// trust delta lands when the timer expires.
type Issue struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	Note       string  `json:"note"`
	TrustDelta float64 `json:"trust_delta"`
	ResolvesAt float64 `json:"resolves_at"`
}

// Reputation holds the player's five category scores and the derived overall.
type Reputation struct {
	Quality         float64 `json:"quality"`
	Reliability     float64 `json:"reliability"`
	Innovation      float64 `json:"innovation"`
	Professionalism float64 `json:"professionalism"`
	Compliance      float64 `json:"compliance"`
	Overall         float64 `json:"overall"`
}

func (r *Reputation) recompute() {
	r.Overall = (r.Quality + r.Reliability + r.Innovation + r.Professionalism + r.Compliance) / 5
}

func (r *Reputation) clampAll() {
	r.Quality = clamp01(r.Quality)
	r.Reliability = clamp01(r.Reliability)
	r.Innovation = clamp01(r.Innovation)
	r.Professionalism = clamp01(r.Professionalism)
	r.Compliance = clamp01(r.Compliance)
	r.recompute()
}

// Counterparty is the live relationship state with one business partner.
type Counterparty struct {
	ID              string        `json:"id"`
	Trust           float64       `json:"trust"`
	Perceived       Reputation    `json:"perceived"` // Their slow view of the player
	LastInteraction float64       `json:"last_interaction"`
	History         []Interaction `json:"history"`
	Issues          []*Issue      `json:"issues"`
}

// Message is a scheduled counterparty communication delivered on tick.
type Message struct {
	CounterpartyID string  `json:"counterparty_id"`
	Text           string  `json:"text"`
	DueAt          float64 `json:"due_at"`
}

// IndustryEvent is a time-bounded shock applied to every counterparty sharing
// the affected role.
type IndustryEvent struct {
	Type          string  `json:"type"`
	Role          string  `json:"role"` // Empty = all roles
	Intensity     float64 `json:"intensity"`
	RemainingDays float64 `json:"remaining_days"`
}

// State is the engine's full mutable state, exported for snapshots.
type State struct {
	Day            float64                  `json:"day"`
	Counterparties map[string]*Counterparty `json:"counterparties"`
	Player         Reputation               `json:"player"`
	Events         []IndustryEvent          `json:"events"`
	Messages       []Message                `json:"messages"`
}

// Engine is the relationship engine.
type Engine struct {
	cat *catalog.Catalog
	bus *events.Bus

	State State
}

// New creates a relationship engine seeded from the counterparty catalog.
func New(cat *catalog.Catalog, bus *events.Bus) *Engine {
	e := &Engine{
		cat: cat,
		bus: bus,
		State: State{
			Counterparties: make(map[string]*Counterparty, len(cat.CounterpartyIDs)),
			Player: Reputation{
				Quality:         0.5,
				Reliability:     0.5,
				Innovation:      0.5,
				Professionalism: 0.5,
				Compliance:      0.5,
				Overall:         0.5,
			},
		},
	}
	for _, id := range cat.CounterpartyIDs {
		profile := cat.Counterparties[id]
		e.State.Counterparties[id] = &Counterparty{
			ID:        id,
			Trust:     profile.InitialTrust,
			Perceived: e.State.Player,
		}
	}
	return e
}

// TrustLevel returns the trust with a counterparty. An unknown counterparty
// reads as neutral and is logged, never fatal.
func (e *Engine) TrustLevel(counterpartyID string) float64 {
	cp, ok := e.State.Counterparties[counterpartyID]
	if !ok {
		slog.Warn("trust query for unknown counterparty", "counterparty", counterpartyID)
		return neutralTrust
	}
	return cp.Trust
}

// Player returns a copy of the player's current reputation.
func (e *Engine) Player() Reputation {
	return e.State.Player
}

// RecordInteraction applies one business interaction: trust moves by the
// type's base delta (deliveries scale with quality), modulated by the
// counterparty's patience and loyalty, and the player's reputation categories
// take their nudges.
func (e *Engine) RecordInteraction(counterpartyID string, typ InteractionType, quality, value float64) {
	cp, ok := e.State.Counterparties[counterpartyID]
	if !ok {
		slog.Warn("interaction with unknown counterparty dropped",
			"counterparty", counterpartyID, "type", typ)
		return
	}
	profile, _ := e.cat.Counterparty(counterpartyID)

	delta := baseTrustDelta[typ]
	if typ == InteractionDelivery {
		delta = 0.05 * (quality - deliveryQualityPivot) * 2
	}
	// Loyal counterparties reward good turns more; patient ones forgive more.
	if delta > 0 {
		delta *= 0.5 + profile.Loyalty
	} else {
		delta *= 1.5 - profile.Patience
	}

	before := cp.Trust
	cp.Trust = clamp01(cp.Trust + delta)
	cp.LastInteraction = e.State.Day
	cp.History = append(cp.History, Interaction{
		Type:       typ,
		Day:        e.State.Day,
		Quality:    quality,
		Value:      value,
		TrustDelta: delta,
	})
	if len(cp.History) > historyLimit {
		cp.History = cp.History[len(cp.History)-historyLimit:]
	}

	e.nudgeReputation(typ, quality)
	e.scheduleReaction(cp, typ, quality)

	e.bus.Publish(events.Event{
		Kind:   events.KindRelationshipChanged,
		Day:    e.State.Day,
		Entity: counterpartyID,
		Before: before,
		After:  cp.Trust,
		Payload: map[string]any{
			"interaction": string(typ),
		},
	})
}

func (e *Engine) nudgeReputation(typ InteractionType, quality float64) {
	rep := &e.State.Player
	before := rep.Overall

	switch typ {
	case InteractionDelivery:
		rep.Quality += 0.02 * (quality - deliveryQualityPivot) * 2
		rep.Reliability += 0.01
		if quality > 0.9 {
			rep.Innovation += 0.01
		}
	case InteractionFailedDelivery:
		rep.Quality -= 0.03
		rep.Reliability -= 0.03
	case InteractionCompletion:
		rep.Reliability += 0.03
		rep.Professionalism += 0.01
	case InteractionBreach:
		rep.Reliability -= 0.06
		rep.Professionalism -= 0.04
		rep.Compliance -= 0.02
	case InteractionTermination:
		rep.Reliability -= 0.03
	case InteractionDispute:
		rep.Professionalism -= 0.03
	case InteractionPurchase, InteractionSale:
		rep.Professionalism += 0.003
	case InteractionMeeting:
		rep.Professionalism += 0.005
	}
	rep.clampAll()

	if rep.Overall != before {
		e.bus.Publish(events.Event{
			Kind:   events.KindReputationChanged,
			Day:    e.State.Day,
			Before: before,
			After:  rep.Overall,
		})
	}
}

// scheduleReaction queues the counterparty's message response to a notable
// interaction.
func (e *Engine) scheduleReaction(cp *Counterparty, typ InteractionType, quality float64) {
	profile, _ := e.cat.Counterparty(cp.ID)
	name := profile.Name
	if name == "" {
		name = cp.ID
	}

	switch {
	case typ == InteractionDelivery && quality >= 0.9:
		e.State.Messages = append(e.State.Messages, Message{
			CounterpartyID: cp.ID,
			Text:           fmt.Sprintf("%s: outstanding batch — we'll take more of this.", name),
			DueAt:          e.State.Day + 1,
		})
	case typ == InteractionBreach:
		e.State.Messages = append(e.State.Messages, Message{
			CounterpartyID: cp.ID,
			Text:           fmt.Sprintf("%s: this breach will not be forgotten.", name),
			DueAt:          e.State.Day + 0.5,
		})
	}
}

// OpenIssue records an unresolved problem. Its trust delta lands when the
// resolution timer expires.
func (e *Engine) OpenIssue(counterpartyID, issueType, note string, trustDelta, resolutionDays float64) {
	cp, ok := e.State.Counterparties[counterpartyID]
	if !ok {
		slog.Warn("issue for unknown counterparty dropped", "counterparty", counterpartyID)
		return
	}
	cp.Issues = append(cp.Issues, &Issue{
		ID:         uuid.NewString(),
		Type:       issueType,
		Note:       note,
		TrustDelta: trustDelta,
		ResolvesAt: e.State.Day + resolutionDays,
	})
}

// industryEventSpec maps event type to affected role, duration, and per-day
// trust effect.
var industryEventSpecs = map[string]struct {
	Role   string
	Days   float64
	PerDay float64
}{
	"regulatory_crackdown":    {Role: "retailer", Days: 20, PerDay: -0.005},
	"market_growth":           {Role: "", Days: 30, PerDay: 0.004},
	"technology_breakthrough": {Role: "lab", Days: 15, PerDay: 0.002},
	"supply_shortage":         {Role: "supplier", Days: 10, PerDay: -0.004},
}

// TriggerIndustryEvent starts a role-targeted shock applied uniformly to all
// counterparties sharing the affected role until its duration lapses.
func (e *Engine) TriggerIndustryEvent(eventType string, intensity float64) {
	spec, ok := industryEventSpecs[eventType]
	if !ok {
		slog.Warn("unknown industry event type", "type", eventType)
		return
	}
	intensity = clamp01(intensity)

	e.State.Events = append(e.State.Events, IndustryEvent{
		Type:          eventType,
		Role:          spec.Role,
		Intensity:     intensity,
		RemainingDays: spec.Days,
	})
	slog.Info("industry event", "type", eventType, "role", spec.Role, "intensity", intensity)

	e.bus.Publish(events.Event{
		Kind:   events.KindIndustryEvent,
		Day:    e.State.Day,
		Entity: eventType,
		After:  intensity,
		Payload: map[string]any{
			"role":     spec.Role,
			"duration": spec.Days,
		},
	})
}

// Tick advances relationship state by dt sim-days: reputation decay, idle
// trust decay, perception convergence, issue resolution, industry event
// effects, and scheduled message delivery.
func (e *Engine) Tick(dt float64) {
	if dt <= 0 {
		return
	}
	e.State.Day += dt

	e.decayReputation(dt)

	ids := maps.Keys(e.State.Counterparties)
	sort.Strings(ids)
	for _, id := range ids {
		e.tickCounterparty(e.State.Counterparties[id], dt)
	}

	e.tickIndustryEvents(dt)
	e.deliverMessages()
}

// Per-day reversion toward neutral for each reputation category. Innovation
// fades fastest — yesterday's breakthrough is today's baseline.
var reputationDecayRates = map[string]float64{
	"quality":         0.0010,
	"reliability":     0.0008,
	"innovation":      0.0020,
	"professionalism": 0.0008,
	"compliance":      0.0005,
}

func (e *Engine) decayReputation(dt float64) {
	rep := &e.State.Player
	rep.Quality += (0.5 - rep.Quality) * reputationDecayRates["quality"] * dt
	rep.Reliability += (0.5 - rep.Reliability) * reputationDecayRates["reliability"] * dt
	rep.Innovation += (0.5 - rep.Innovation) * reputationDecayRates["innovation"] * dt
	rep.Professionalism += (0.5 - rep.Professionalism) * reputationDecayRates["professionalism"] * dt
	rep.Compliance += (0.5 - rep.Compliance) * reputationDecayRates["compliance"] * dt
	rep.clampAll()
}

func (e *Engine) tickCounterparty(cp *Counterparty, dt float64) {
	// Trust decays toward the floor once the relationship goes idle.
	if e.State.Day-cp.LastInteraction > idleDecayDays && cp.Trust > trustFloor {
		cp.Trust = clamp01(cp.Trust + (trustFloor-cp.Trust)*idleDecayRate*dt)
	}

	// Their view of the player converges slowly toward the truth.
	actual := e.State.Player
	p := &cp.Perceived
	rate := perceptionRate * dt
	if rate > 1 {
		rate = 1
	}
	p.Quality += (actual.Quality - p.Quality) * rate
	p.Reliability += (actual.Reliability - p.Reliability) * rate
	p.Innovation += (actual.Innovation - p.Innovation) * rate
	p.Professionalism += (actual.Professionalism - p.Professionalism) * rate
	p.Compliance += (actual.Compliance - p.Compliance) * rate
	p.clampAll()

	// Resolve expired issues: the stored delta lands now.
	kept := cp.Issues[:0]
	for _, issue := range cp.Issues {
		if e.State.Day < issue.ResolvesAt {
			kept = append(kept, issue)
			continue
		}
		before := cp.Trust
		cp.Trust = clamp01(cp.Trust + issue.TrustDelta)
		slog.Info("relationship issue resolved",
			"counterparty", cp.ID, "issue", issue.Type, "trust_delta", issue.TrustDelta)
		e.bus.Publish(events.Event{
			Kind:   events.KindRelationshipChanged,
			Day:    e.State.Day,
			Entity: cp.ID,
			Before: before,
			After:  cp.Trust,
			Payload: map[string]any{
				"issue": issue.Type,
			},
		})
	}
	cp.Issues = kept
}

func (e *Engine) tickIndustryEvents(dt float64) {
	kept := e.State.Events[:0]
	for _, ev := range e.State.Events {
		spec := industryEventSpecs[ev.Type]
		delta := spec.PerDay * ev.Intensity * dt

		ids := maps.Keys(e.State.Counterparties)
		sort.Strings(ids)
		for _, id := range ids {
			profile, ok := e.cat.Counterparty(id)
			if !ok {
				continue
			}
			if ev.Role != "" && profile.Role != ev.Role {
				continue
			}
			cp := e.State.Counterparties[id]
			cp.Trust = clamp01(cp.Trust + delta)
		}

		ev.RemainingDays -= dt
		if ev.RemainingDays > 0 {
			kept = append(kept, ev)
		} else {
			slog.Info("industry event lapsed", "type", ev.Type)
		}
	}
	e.State.Events = kept
}

func (e *Engine) deliverMessages() {
	kept := e.State.Messages[:0]
	for _, msg := range e.State.Messages {
		if e.State.Day < msg.DueAt {
			kept = append(kept, msg)
			continue
		}
		e.bus.Publish(events.Event{
			Kind:   events.KindMessageReceived,
			Day:    e.State.Day,
			Entity: msg.CounterpartyID,
			Payload: map[string]any{
				"text": msg.Text,
			},
		})
	}
	e.State.Messages = kept
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
