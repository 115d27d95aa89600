package contracts

import (
	"fmt"
	"log/slog"

	"github.com/cultivar/emporium/internal/catalog"
	"github.com/cultivar/emporium/internal/ledger"
	"github.com/cultivar/emporium/internal/relations"
)

// Specification weights for the delivery quality score.
const (
	weightPotency  = 0.3
	weightPurity   = 0.3
	weightMoisture = 0.2
	weightOverall  = 0.2
)

// Compliance deductions.
const (
	deductPackaging      = 0.20
	deductThirdParty     = 0.20
	deductChainOfCustody = 0.15
	deductLate           = 0.25
)

// Delivery is a batch submitted against an active contract.
type Delivery struct {
	Quantity         int     `json:"quantity"`
	Potency          float64 `json:"potency"`
	Purity           float64 `json:"purity"`
	Moisture         float64 `json:"moisture"`
	OverallQuality   float64 `json:"overall_quality"`
	PackagingOK      bool    `json:"packaging_ok"`
	ThirdPartyTested bool    `json:"third_party_tested"`
	ChainOfCustody   bool    `json:"chain_of_custody"`
	DaysLate         float64 `json:"days_late"`
}

// DeliveryResult reports the two-tier evaluation: the hard gate decides
// acceptance, the continuous scores size bonuses and penalties.
type DeliveryResult struct {
	Accepted        bool    `json:"accepted"`
	QualityScore    float64 `json:"quality_score"`
	ComplianceScore float64 `json:"compliance_score"`
	Bonus           float64 `json:"bonus"`
	Penalty         float64 `json:"penalty"`
	Reason          string  `json:"reason,omitempty"`
}

// SubmitDelivery evaluates a delivery against the contract's specification.
// Acceptance requires quality at or above the contract minimum AND compliance
// at or above the gate; a delivery just over both succeeds with zero bonuses.
func (e *Engine) SubmitDelivery(contractID string, d Delivery) (DeliveryResult, error) {
	c, ok := e.State.Contracts[contractID]
	if !ok {
		return DeliveryResult{}, fmt.Errorf("%w: %s", ErrNotFound, contractID)
	}
	if c.Status != StatusActive {
		return DeliveryResult{}, ErrNotActive
	}
	tpl, ok := e.cat.Template(c.TemplateID)
	if !ok {
		return DeliveryResult{}, fmt.Errorf("%w: template %s", ErrNotFound, c.TemplateID)
	}

	result := DeliveryResult{
		QualityScore:    qualityScore(tpl, d),
		ComplianceScore: complianceScore(d),
	}

	if result.QualityScore >= c.MinQuality && result.ComplianceScore >= complianceGate {
		e.acceptDelivery(c, tpl, d, &result)
	} else {
		e.rejectDelivery(c, tpl, &result)
	}
	return result, nil
}

func (e *Engine) acceptDelivery(c *ActiveContract, tpl catalog.ContractTemplate, d Delivery, result *DeliveryResult) {
	result.Accepted = true
	c.Delivered += d.Quantity
	c.Deliveries++
	c.QualitySum += result.QualityScore

	// The delivered share of the contract value pays out now; the remainder
	// settles at completion.
	share := 0.0
	if c.Required > 0 {
		share = c.Value * float64(d.Quantity) / float64(c.Required)
	}
	if share > c.Value-c.PaidOut {
		share = c.Value - c.PaidOut
	}
	if share > 0 {
		if err := e.ledger.Credit(ledger.CurrencyCash, share, "contract delivery", "contracts"); err != nil {
			slog.Warn("delivery payout failed", "contract", c.ID, "error", err)
		} else {
			c.PaidOut += share
		}
	}

	for _, bonus := range tpl.Bonuses {
		if bonus.Type == "quality" && result.QualityScore >= bonus.Threshold {
			if err := e.ledger.Credit(ledger.CurrencyCash, bonus.Amount, "quality bonus", "contracts"); err == nil {
				c.BonusEarned += bonus.Amount
				result.Bonus += bonus.Amount
			}
		}
	}

	e.relations.RecordInteraction(c.CounterpartyID, relations.InteractionDelivery, result.QualityScore, share)
	slog.Info("delivery accepted",
		"contract", c.ID, "quality", result.QualityScore, "compliance", result.ComplianceScore,
		"delivered", c.Delivered, "required", c.Required)

	if c.Delivered >= c.Required {
		e.complete(c, true)
	}
}

func (e *Engine) rejectDelivery(c *ActiveContract, tpl catalog.ContractTemplate, result *DeliveryResult) {
	result.Accepted = false
	switch {
	case result.QualityScore < c.MinQuality:
		result.Reason = fmt.Sprintf("quality %.2f below contract minimum %.2f", result.QualityScore, c.MinQuality)
	default:
		result.Reason = fmt.Sprintf("compliance %.2f below gate %.2f", result.ComplianceScore, complianceGate)
	}

	for _, penalty := range tpl.Penalties {
		if penalty.Type != "quality_shortfall" {
			continue
		}
		if err := e.ledger.Debit(ledger.CurrencyCash, penalty.Amount, "delivery penalty", "contracts", true); err != nil {
			slog.Warn("delivery penalty unpaid", "contract", c.ID, "penalty", penalty.Amount)
			continue
		}
		c.PenaltyPaid += penalty.Amount
		result.Penalty += penalty.Amount
	}

	c.Issues = append(c.Issues, Issue{
		Type:   "rejected_delivery",
		Day:    e.State.Day,
		Impact: result.Penalty,
		Note:   result.Reason,
	})

	e.relations.RecordInteraction(c.CounterpartyID, relations.InteractionFailedDelivery, result.QualityScore, result.Penalty)
	slog.Info("delivery rejected", "contract", c.ID, "reason", result.Reason, "penalty", result.Penalty)
}

// qualityScore is the weighted match against the template's specification
// bands plus the overall-quality component, clamped to [0,1].
func qualityScore(tpl catalog.ContractTemplate, d Delivery) float64 {
	score := weightPotency*bandScore(d.Potency, tpl.Potency) +
		weightPurity*bandScore(d.Purity, tpl.Purity) +
		weightMoisture*bandScore(d.Moisture, tpl.Moisture) +
		weightOverall*clamp01(d.OverallQuality)
	return clamp01(score)
}

// bandScore is 1 inside the band and degrades linearly with distance outside
// it, one band-width (at least 0.1) to reach zero. An unset band matches
// everything.
func bandScore(value float64, band catalog.SpecBand) float64 {
	if band.Min == 0 && band.Max == 0 {
		return 1
	}
	if value >= band.Min && value <= band.Max {
		return 1
	}
	tolerance := band.Max - band.Min
	if tolerance < 0.1 {
		tolerance = 0.1
	}
	var dist float64
	if value < band.Min {
		dist = band.Min - value
	} else {
		dist = value - band.Max
	}
	return clamp01(1 - dist/tolerance)
}

// complianceScore starts full and takes fixed deductions for packaging
// mismatch, missing third-party testing, missing chain-of-custody, and late
// delivery, clamped to [0,1].
func complianceScore(d Delivery) float64 {
	score := 1.0
	if !d.PackagingOK {
		score -= deductPackaging
	}
	if !d.ThirdPartyTested {
		score -= deductThirdParty
	}
	if !d.ChainOfCustody {
		score -= deductChainOfCustody
	}
	if d.DaysLate > 0 {
		score -= deductLate
	}
	return clamp01(score)
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
