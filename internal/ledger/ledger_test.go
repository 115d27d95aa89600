package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cultivar/emporium/internal/entropy"
	"github.com/cultivar/emporium/internal/events"
)

func newTestLedger(cfg Config) (*Ledger, *events.Bus) {
	bus := events.NewBus()
	return New(bus, entropy.NewSource(11), cfg), bus
}

func TestDebitFailsFastWithoutPartialApplication(t *testing.T) {
	l, bus := newTestLedger(Config{StartingCash: 100})

	var rejected []events.Event
	bus.Subscribe(events.KindInsufficientFunds, func(e events.Event) { rejected = append(rejected, e) })

	err := l.Debit(CurrencyCash, 200, "too big", "test", false)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, 100.0, l.Balance(CurrencyCash))
	assert.Empty(t, l.State.Log)
	assert.Len(t, rejected, 1)
}

func TestDebitDrawsShortfallOnCredit(t *testing.T) {
	l, _ := newTestLedger(Config{StartingCash: 100, CreditLimit: 100, CreditSurcharge: 0.05})

	require.True(t, l.CanAfford(CurrencyCash, 150, true))
	require.NoError(t, l.Debit(CurrencyCash, 150, "stock purchase", "trading", true))

	// Cash drains to zero; the 50 shortfall plus 5% surcharge lands on credit.
	assert.Equal(t, 0.0, l.Balance(CurrencyCash))
	assert.InDelta(t, 52.5, l.State.CreditUsed, 1e-9)
	assert.InDelta(t, 47.5, l.CreditAvailable(), 1e-9)
}

func TestDebitRejectsBeyondCreditLimit(t *testing.T) {
	l, _ := newTestLedger(Config{StartingCash: 0, CreditLimit: 10, CreditSurcharge: 0.05})

	assert.False(t, l.CanAfford(CurrencyCash, 100, true))
	err := l.Debit(CurrencyCash, 100, "too big", "test", true)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, 0.0, l.State.CreditUsed)
}

func TestTokensNeverGoNegative(t *testing.T) {
	l, _ := newTestLedger(Config{StartingTokens: 5})

	// Tokens have no credit backing regardless of allowCredit.
	err := l.Debit(CurrencyTokens, 10, "premium unlock", "test", true)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, 5.0, l.Balance(CurrencyTokens))
}

func TestInvalidAmountsRejected(t *testing.T) {
	l, _ := newTestLedger(Config{StartingCash: 100})

	assert.ErrorIs(t, l.Debit(CurrencyCash, 0, "", "", false), ErrInvalidAmount)
	assert.ErrorIs(t, l.Debit(CurrencyCash, -5, "", "", false), ErrInvalidAmount)
	assert.ErrorIs(t, l.Credit(CurrencyCash, -5, "", ""), ErrInvalidAmount)
	assert.ErrorIs(t, l.Credit(Currency("gems"), 5, "", ""), ErrUnknownCurrency)
}

func TestTransferConvertsAtFixedRate(t *testing.T) {
	l, _ := newTestLedger(Config{StartingCash: 0, StartingTokens: 10})

	require.NoError(t, l.Transfer(CurrencyTokens, CurrencyCash, 5))
	assert.Equal(t, 5.0, l.Balance(CurrencyTokens))
	assert.InDelta(t, 50.0, l.Balance(CurrencyCash), 1e-9)

	require.NoError(t, l.Transfer(CurrencyCash, CurrencyTokens, 20))
	assert.InDelta(t, 30.0, l.Balance(CurrencyCash), 1e-9)
	assert.InDelta(t, 7.0, l.Balance(CurrencyTokens), 1e-9)
}

func TestMilestoneFiresExactlyOnce(t *testing.T) {
	l, bus := newTestLedger(Config{StartingCash: 9_000})

	var milestones []events.Event
	bus.Subscribe(events.KindFinancialMilestone, func(e events.Event) { milestones = append(milestones, e) })

	require.NoError(t, l.Credit(CurrencyCash, 2_000, "sale", "trading"))
	require.Len(t, milestones, 1)
	assert.Equal(t, "10000", milestones[0].Entity)

	// Dipping below and recrossing does not re-fire.
	require.NoError(t, l.Debit(CurrencyCash, 5_000, "spend", "trading", false))
	require.NoError(t, l.Credit(CurrencyCash, 6_000, "sale", "trading"))
	assert.Len(t, milestones, 1)
}

func TestBudgetAlertOncePerPeriod(t *testing.T) {
	l, bus := newTestLedger(Config{StartingCash: 10_000})

	var alerts []events.Event
	bus.Subscribe(events.KindBudgetAlert, func(e events.Event) { alerts = append(alerts, e) })

	_, err := l.CreateBudget("ops", "supplies", 1_000, 30)
	require.NoError(t, err)

	require.NoError(t, l.Debit(CurrencyCash, 800, "stock", "supplies", false))
	assert.Empty(t, alerts)

	require.NoError(t, l.Debit(CurrencyCash, 150, "stock", "supplies", false))
	assert.Len(t, alerts, 1)

	require.NoError(t, l.Debit(CurrencyCash, 100, "stock", "supplies", false))
	assert.Len(t, alerts, 1)

	// A new period resets spend and re-arms the alert.
	l.Tick(31)
	b := l.State.Budgets[0]
	assert.Equal(t, 0.0, b.Spent)
	assert.False(t, b.Alerted)

	require.NoError(t, l.Debit(CurrencyCash, 950, "stock", "supplies", false))
	assert.Len(t, alerts, 2)
}

func TestCreateBudgetValidation(t *testing.T) {
	l, _ := newTestLedger(Config{})
	_, err := l.CreateBudget("bad", "x", 0, 30)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = l.CreateBudget("bad", "x", 100, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestLoanAmortizesToSettlement(t *testing.T) {
	l, _ := newTestLedger(Config{StartingCash: 0})

	loan, err := l.TakeLoan(1_000, 0, 100, 10)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, loan.Payment, 1e-9)
	assert.InDelta(t, 1_000.0, l.Balance(CurrencyCash), 1e-9)

	for i := 0; i < 10; i++ {
		l.Tick(10)
	}

	assert.True(t, loan.Settled)
	assert.Equal(t, 0.0, loan.Remaining)
	assert.Len(t, loan.Payments, 10)
	assert.Zero(t, loan.MissedPayments)
	assert.InDelta(t, 0.0, l.Balance(CurrencyCash), 1e-6)
}

func TestLoanPaymentReflectsInterest(t *testing.T) {
	l, _ := newTestLedger(Config{StartingCash: 0})

	loan, err := l.TakeLoan(10_000, 0.12, 365, 30)
	require.NoError(t, err)

	// The annuity payment sits above straight-line principal and below the
	// whole principal.
	straightLine := 10_000.0 / (365.0 / 30.0)
	assert.Greater(t, loan.Payment, straightLine)
	assert.Less(t, loan.Payment, 10_000.0)
}

func TestLoanRejectsInvalidTerms(t *testing.T) {
	l, _ := newTestLedger(Config{})
	_, err := l.TakeLoan(0, 0.1, 100, 10)
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = l.TakeLoan(100, 0.1, 10, 100) // Interval longer than term
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestInvestmentLiquidatesAtMaturity(t *testing.T) {
	l, _ := newTestLedger(Config{StartingCash: 1_000})

	inv, err := l.MakeInvestment(500, 0.10, 5)
	require.NoError(t, err)
	assert.InDelta(t, 500.0, l.Balance(CurrencyCash), 1e-9)
	assert.Equal(t, 500.0, inv.Value)

	l.Tick(6)

	assert.Empty(t, l.State.Investments)
	// The realized value walks around the principal; liquidation must land
	// back in cash.
	assert.InDelta(t, 1_000.0, l.Balance(CurrencyCash), 100)
}

func TestNetWorthCombinesHoldingsAndLiabilities(t *testing.T) {
	l, _ := newTestLedger(Config{StartingCash: 100, StartingTokens: 10, CreditLimit: 1_000})

	assert.InDelta(t, 200.0, l.NetWorth(), 1e-9)

	require.NoError(t, l.Debit(CurrencyCash, 150, "spend", "test", true))
	// Cash 0, tokens 100, credit drawn 50 (no surcharge configured).
	assert.InDelta(t, 50.0, l.NetWorth(), 1e-9)
}

func TestRepayCreditCapsAtDrawnAmount(t *testing.T) {
	l, _ := newTestLedger(Config{StartingCash: 100, CreditLimit: 1_000})

	require.NoError(t, l.Debit(CurrencyCash, 150, "spend", "test", true))
	require.NoError(t, l.Credit(CurrencyCash, 200, "sale", "trading"))

	require.NoError(t, l.RepayCredit(500))
	assert.Equal(t, 0.0, l.State.CreditUsed)
	assert.InDelta(t, 150.0, l.Balance(CurrencyCash), 1e-9)
}

func TestTickZeroIsNoOp(t *testing.T) {
	l, _ := newTestLedger(Config{StartingCash: 1_000})
	_, err := l.CreateBudget("ops", "supplies", 500, 30)
	require.NoError(t, err)
	require.NoError(t, l.Debit(CurrencyCash, 400, "stock", "supplies", false))

	l.Tick(0)
	l.Tick(-1)

	assert.Equal(t, 0.0, l.State.Day)
	assert.Equal(t, 400.0, l.State.Budgets[0].Spent)
}

func TestTransactionLogTrimmed(t *testing.T) {
	l, _ := newTestLedger(Config{StartingCash: 1})
	for i := 0; i < logLimit+50; i++ {
		require.NoError(t, l.Credit(CurrencyCash, 1, "drip", "test"))
	}
	assert.Len(t, l.State.Log, logLimit)
}
