package ledger

import (
	"log/slog"
	"math"

	"github.com/google/uuid"
)

// Loan is an amortized liability paid down on a fixed interval.
type Loan struct {
	ID             string    `json:"id"`
	Principal      float64   `json:"principal"`
	AnnualRate     float64   `json:"annual_rate"`
	TermDays       float64   `json:"term_days"`
	IntervalDays   float64   `json:"interval_days"`
	Payment        float64   `json:"payment"` // Fixed per-interval payment
	Remaining      float64   `json:"remaining"`
	NextPaymentDue float64   `json:"next_payment_due"`
	Payments       []float64 `json:"payments"` // Sim-days payments landed
	MissedPayments int       `json:"missed_payments"`
	Settled        bool      `json:"settled"`
}

// Investment holds principal at risk until maturity, when it liquidates into
// cash automatically.
type Investment struct {
	ID             string  `json:"id"`
	Principal      float64 `json:"principal"`
	ExpectedReturn float64 `json:"expected_return"` // Annualized
	Value          float64 `json:"value"`
	MaturityDay    float64 `json:"maturity_day"`
}

// TakeLoan credits the principal and schedules amortized payments. The fixed
// payment follows the standard annuity formula on the per-interval rate.
func (l *Ledger) TakeLoan(principal, annualRate, termDays, intervalDays float64) (*Loan, error) {
	if principal <= 0 || termDays <= 0 || intervalDays <= 0 || intervalDays > termDays {
		return nil, ErrInvalidAmount
	}

	periodRate := annualRate * intervalDays / 365
	periods := termDays / intervalDays
	var payment float64
	if periodRate > 0 {
		payment = principal * periodRate / (1 - math.Pow(1+periodRate, -periods))
	} else {
		payment = principal / periods
	}

	loan := &Loan{
		ID:             uuid.NewString(),
		Principal:      principal,
		AnnualRate:     annualRate,
		TermDays:       termDays,
		IntervalDays:   intervalDays,
		Payment:        payment,
		Remaining:      principal,
		NextPaymentDue: l.State.Day + intervalDays,
	}
	l.State.Loans = append(l.State.Loans, loan)

	if err := l.Credit(CurrencyCash, principal, "loan principal", "finance"); err != nil {
		return nil, err
	}
	slog.Info("loan taken", "principal", principal, "rate", annualRate, "payment", payment)
	return loan, nil
}

func (l *Ledger) tickLoans() {
	for _, loan := range l.State.Loans {
		if loan.Settled {
			continue
		}
		for l.State.Day >= loan.NextPaymentDue && !loan.Settled {
			l.payLoan(loan)
			loan.NextPaymentDue += loan.IntervalDays
		}
	}
}

func (l *Ledger) payLoan(loan *Loan) {
	periodRate := loan.AnnualRate * loan.IntervalDays / 365
	interest := loan.Remaining * periodRate
	payment := loan.Payment
	if loan.Remaining+interest < payment {
		payment = loan.Remaining + interest // Final payment
	}

	if err := l.Debit(CurrencyCash, payment, "loan payment", "finance", true); err != nil {
		loan.MissedPayments++
		slog.Warn("loan payment missed", "loan", loan.ID, "payment", payment, "missed", loan.MissedPayments)
		return
	}

	loan.Remaining -= payment - interest
	loan.Payments = append(loan.Payments, l.State.Day)
	if loan.Remaining <= 0.01 {
		loan.Remaining = 0
		loan.Settled = true
		slog.Info("loan settled", "loan", loan.ID, "payments", len(loan.Payments))
	}
}

// MakeInvestment debits the principal and tracks it until maturity.
func (l *Ledger) MakeInvestment(principal, expectedAnnualReturn, maturityDays float64) (*Investment, error) {
	if principal <= 0 || maturityDays <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := l.Debit(CurrencyCash, principal, "investment", "finance", false); err != nil {
		return nil, err
	}

	inv := &Investment{
		ID:             uuid.NewString(),
		Principal:      principal,
		ExpectedReturn: expectedAnnualReturn,
		Value:          principal,
		MaturityDay:    l.State.Day + maturityDays,
	}
	l.State.Investments = append(l.State.Investments, inv)
	return inv, nil
}

func (l *Ledger) tickInvestments(dt float64) {
	kept := l.State.Investments[:0]
	for _, inv := range l.State.Investments {
		// Value walks around the expected daily return; the draws are policy,
		// only the liquidation-at-maturity behavior is contract.
		dailyExpected := inv.ExpectedReturn / 365
		inv.Value *= 1 + l.rng.Norm(dailyExpected, 0.01)*dt
		if inv.Value < 0 {
			inv.Value = 0
		}

		if l.State.Day >= inv.MaturityDay {
			realized := inv.Value
			if realized > 0 {
				if err := l.Credit(CurrencyCash, realized, "investment matured", "finance"); err != nil {
					slog.Warn("investment liquidation failed", "investment", inv.ID, "error", err)
				}
			}
			slog.Info("investment matured",
				"investment", inv.ID, "principal", inv.Principal, "realized", realized)
			continue
		}
		kept = append(kept, inv)
	}
	l.State.Investments = kept
}
