// Package ledger is the single authority on funds: multi-currency balances,
// the append-only transaction log, budgets, loans, and investments. Every
// other engine asks the ledger whether the player can afford something; the
// ledger never partially applies a debit.
package ledger

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/cultivar/emporium/internal/entropy"
	"github.com/cultivar/emporium/internal/events"
)

// Currency types tracked by the ledger.
type Currency string

const (
	CurrencyCash   Currency = "cash"   // Credit-backed working capital
	CurrencyTokens Currency = "tokens" // Premium currency, never negative
)

// cashValue converts a currency amount to its cash equivalent for net worth
// and transfers.
var cashValue = map[Currency]float64{
	CurrencyCash:   1,
	CurrencyTokens: 10,
}

// Validation failures callers are expected to branch on.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrUnknownCurrency   = errors.New("unknown currency")
)

// Net-worth thresholds that fire a one-time milestone notification each.
var milestoneThresholds = []float64{10_000, 50_000, 100_000, 500_000, 1_000_000}

const (
	logLimit         = 500
	budgetAlertRatio = 0.9
)

// Transaction is one immutable record in the ledger log.
type Transaction struct {
	ID       string   `json:"id"`
	Day      float64  `json:"day"`
	Currency Currency `json:"currency"`
	Amount   float64  `json:"amount"` // Positive credit, negative debit
	Reason   string   `json:"reason"`
	Category string   `json:"category"`
	Balance  float64  `json:"balance"` // Balance after the record
}

// Budget tracks spending for one category over a rolling period.
type Budget struct {
	Name        string  `json:"name"`
	Category    string  `json:"category"`
	Limit       float64 `json:"limit"`
	Spent       float64 `json:"spent"`
	PeriodDays  float64 `json:"period_days"`
	PeriodStart float64 `json:"period_start"`
	Alerted     bool    `json:"alerted"`
}

// State is the ledger's full mutable state, exported for snapshots.
type State struct {
	Day             float64              `json:"day"`
	Balances        map[Currency]float64 `json:"balances"`
	CreditLimit     float64              `json:"credit_limit"`
	CreditUsed      float64              `json:"credit_used"`
	CreditSurcharge float64              `json:"credit_surcharge"`
	Log             []Transaction        `json:"log"`
	Budgets         []*Budget            `json:"budgets"`
	Loans           []*Loan              `json:"loans"`
	Investments     []*Investment        `json:"investments"`
	MilestonesHit   map[string]bool      `json:"milestones_hit"`
}

// Ledger holds all financial state for the session.
type Ledger struct {
	bus *events.Bus
	rng *entropy.Source

	State State
}

// Config sets the ledger's starting position.
type Config struct {
	StartingCash    float64
	StartingTokens  float64
	CreditLimit     float64
	CreditSurcharge float64 // Fraction added to credit-drawn amounts
}

// New creates a ledger.
func New(bus *events.Bus, rng *entropy.Source, cfg Config) *Ledger {
	return &Ledger{
		bus: bus,
		rng: rng,
		State: State{
			Balances: map[Currency]float64{
				CurrencyCash:   cfg.StartingCash,
				CurrencyTokens: cfg.StartingTokens,
			},
			CreditLimit:     cfg.CreditLimit,
			CreditSurcharge: cfg.CreditSurcharge,
			MilestonesHit:   make(map[string]bool),
		},
	}
}

// Balance returns the current balance for a currency.
func (l *Ledger) Balance(cur Currency) float64 {
	return l.State.Balances[cur]
}

// CreditAvailable returns the remaining credit headroom.
func (l *Ledger) CreditAvailable() float64 {
	remaining := l.State.CreditLimit - l.State.CreditUsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// CanAfford reports whether a debit of the given amount would succeed.
func (l *Ledger) CanAfford(cur Currency, amount float64, allowCredit bool) bool {
	if amount <= 0 {
		return amount == 0
	}
	if l.State.Balances[cur] >= amount {
		return true
	}
	if cur == CurrencyCash && allowCredit {
		shortfall := amount - l.State.Balances[cur]
		return shortfall*(1+l.State.CreditSurcharge) <= l.CreditAvailable()
	}
	return false
}

// Credit adds funds and appends a log record.
func (l *Ledger) Credit(cur Currency, amount float64, reason, category string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if _, ok := cashValue[cur]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCurrency, cur)
	}

	before := l.State.Balances[cur]
	l.State.Balances[cur] = before + amount
	l.record(cur, amount, reason, category)

	l.bus.Publish(events.Event{
		Kind:   events.KindCurrencyChanged,
		Day:    l.State.Day,
		Entity: string(cur),
		Before: before,
		After:  l.State.Balances[cur],
		Payload: map[string]any{
			"reason":   reason,
			"category": category,
		},
	})
	l.checkMilestones()
	return nil
}

// Debit removes funds, failing fast with no partial debit. When allowCredit
// is set and the currency is cash, a shortfall within the remaining credit
// limit drains cash to zero and draws the remainder (plus surcharge) on
// credit.
func (l *Ledger) Debit(cur Currency, amount float64, reason, category string, allowCredit bool) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if _, ok := cashValue[cur]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCurrency, cur)
	}

	before := l.State.Balances[cur]

	switch {
	case before >= amount:
		l.State.Balances[cur] = before - amount

	case cur == CurrencyCash && allowCredit:
		shortfall := amount - before
		drawn := shortfall * (1 + l.State.CreditSurcharge)
		if drawn > l.CreditAvailable() {
			l.rejectDebit(cur, amount, reason)
			return ErrInsufficientFunds
		}
		l.State.Balances[cur] = 0
		l.State.CreditUsed += drawn
		slog.Info("debit drew on credit",
			"reason", reason, "shortfall", shortfall, "drawn", drawn, "credit_used", l.State.CreditUsed)

	default:
		l.rejectDebit(cur, amount, reason)
		return ErrInsufficientFunds
	}

	l.record(cur, -amount, reason, category)
	l.applyToBudgets(amount, category)

	l.bus.Publish(events.Event{
		Kind:   events.KindCurrencyChanged,
		Day:    l.State.Day,
		Entity: string(cur),
		Before: before,
		After:  l.State.Balances[cur],
		Payload: map[string]any{
			"reason":   reason,
			"category": category,
		},
	})
	return nil
}

func (l *Ledger) rejectDebit(cur Currency, amount float64, reason string) {
	l.bus.Publish(events.Event{
		Kind:   events.KindInsufficientFunds,
		Day:    l.State.Day,
		Entity: string(cur),
		After:  amount,
		Payload: map[string]any{
			"reason":  reason,
			"balance": l.State.Balances[cur],
		},
	})
}

// RepayCredit pays down drawn credit from cash.
func (l *Ledger) RepayCredit(amount float64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if amount > l.State.CreditUsed {
		amount = l.State.CreditUsed
	}
	if err := l.Debit(CurrencyCash, amount, "credit repayment", "finance", false); err != nil {
		return err
	}
	l.State.CreditUsed -= amount
	return nil
}

// Transfer moves value between currencies at the fixed exchange rate.
func (l *Ledger) Transfer(from, to Currency, amount float64) error {
	fromRate, ok := cashValue[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCurrency, from)
	}
	toRate, ok := cashValue[to]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCurrency, to)
	}
	if err := l.Debit(from, amount, fmt.Sprintf("transfer to %s", to), "transfer", false); err != nil {
		return err
	}
	return l.Credit(to, amount*fromRate/toRate, fmt.Sprintf("transfer from %s", from), "transfer")
}

// CreateBudget registers a named spending budget for a category.
func (l *Ledger) CreateBudget(name, category string, limit, periodDays float64) (*Budget, error) {
	if limit <= 0 || periodDays <= 0 {
		return nil, ErrInvalidAmount
	}
	b := &Budget{
		Name:        name,
		Category:    category,
		Limit:       limit,
		PeriodDays:  periodDays,
		PeriodStart: l.State.Day,
	}
	l.State.Budgets = append(l.State.Budgets, b)
	return b, nil
}

func (l *Ledger) applyToBudgets(amount float64, category string) {
	for _, b := range l.State.Budgets {
		if b.Category != category {
			continue
		}
		b.Spent += amount
		if !b.Alerted && b.Spent >= b.Limit*budgetAlertRatio {
			b.Alerted = true
			l.bus.Publish(events.Event{
				Kind:   events.KindBudgetAlert,
				Day:    l.State.Day,
				Entity: b.Name,
				Before: b.Limit,
				After:  b.Spent,
			})
		}
	}
}

// NetWorth is cash-equivalent holdings plus investment value, minus loan
// balances and drawn credit.
func (l *Ledger) NetWorth() float64 {
	worth := 0.0
	for cur, bal := range l.State.Balances {
		worth += bal * cashValue[cur]
	}
	for _, inv := range l.State.Investments {
		worth += inv.Value
	}
	for _, loan := range l.State.Loans {
		worth -= loan.Remaining
	}
	return worth - l.State.CreditUsed
}

func (l *Ledger) checkMilestones() {
	worth := l.NetWorth()
	for _, threshold := range milestoneThresholds {
		key := fmt.Sprintf("%.0f", threshold)
		if worth >= threshold && !l.State.MilestonesHit[key] {
			l.State.MilestonesHit[key] = true
			slog.Info("financial milestone reached", "threshold", threshold, "net_worth", worth)
			l.bus.Publish(events.Event{
				Kind:   events.KindFinancialMilestone,
				Day:    l.State.Day,
				Entity: key,
				After:  worth,
			})
		}
	}
}

func (l *Ledger) record(cur Currency, amount float64, reason, category string) {
	l.State.Log = append(l.State.Log, Transaction{
		ID:       uuid.NewString(),
		Day:      l.State.Day,
		Currency: cur,
		Amount:   amount,
		Reason:   reason,
		Category: category,
		Balance:  l.State.Balances[cur],
	})
	if len(l.State.Log) > logLimit {
		l.State.Log = l.State.Log[len(l.State.Log)-logLimit:]
	}
}

// Tick advances budgets, loans, and investments by dt sim-days.
func (l *Ledger) Tick(dt float64) {
	if dt <= 0 {
		return
	}
	l.State.Day += dt

	for _, b := range l.State.Budgets {
		if l.State.Day-b.PeriodStart >= b.PeriodDays {
			b.PeriodStart += b.PeriodDays
			b.Spent = 0
			b.Alerted = false
		}
	}

	l.tickLoans()
	l.tickInvestments(dt)
}
