package ledger

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// Report is a point-in-time financial snapshot for logging and the
// observation API.
type Report struct {
	Day            float64            `json:"day"`
	Cash           float64            `json:"cash"`
	Tokens         float64            `json:"tokens"`
	CreditUsed     float64            `json:"credit_used"`
	CreditLimit    float64            `json:"credit_limit"`
	NetWorth       float64            `json:"net_worth"`
	BurnRate       float64            `json:"burn_rate"` // Cash out per sim-day, trailing window
	CategoryTotals map[string]float64 `json:"category_totals"`
	ActiveLoans    int                `json:"active_loans"`
	Investments    int                `json:"investments"`
}

const burnWindowDays = 30

// Report builds the current snapshot.
func (l *Ledger) Report() Report {
	r := Report{
		Day:            l.State.Day,
		Cash:           l.State.Balances[CurrencyCash],
		Tokens:         l.State.Balances[CurrencyTokens],
		CreditUsed:     l.State.CreditUsed,
		CreditLimit:    l.State.CreditLimit,
		NetWorth:       l.NetWorth(),
		CategoryTotals: make(map[string]float64),
	}

	spent := 0.0
	for _, tx := range l.State.Log {
		if tx.Amount < 0 {
			r.CategoryTotals[tx.Category] += -tx.Amount
			if l.State.Day-tx.Day <= burnWindowDays {
				spent += -tx.Amount
			}
		}
	}
	window := burnWindowDays
	if l.State.Day < burnWindowDays && l.State.Day > 0 {
		window = int(l.State.Day) + 1
	}
	r.BurnRate = spent / float64(window)

	for _, loan := range l.State.Loans {
		if !loan.Settled {
			r.ActiveLoans++
		}
	}
	r.Investments = len(l.State.Investments)
	return r
}

// String formats the report for log output.
func (r Report) String() string {
	return fmt.Sprintf("cash %s | tokens %s | credit %s/%s | net worth %s | burn %s/day",
		humanize.CommafWithDigits(r.Cash, 0),
		humanize.CommafWithDigits(r.Tokens, 0),
		humanize.CommafWithDigits(r.CreditUsed, 0),
		humanize.CommafWithDigits(r.CreditLimit, 0),
		humanize.CommafWithDigits(r.NetWorth, 0),
		humanize.CommafWithDigits(r.BurnRate, 0),
	)
}
