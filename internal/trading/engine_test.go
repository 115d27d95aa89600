package trading

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cultivar/emporium/internal/catalog"
	"github.com/cultivar/emporium/internal/entropy"
	"github.com/cultivar/emporium/internal/events"
	"github.com/cultivar/emporium/internal/ledger"
	"github.com/cultivar/emporium/internal/market"
	"github.com/cultivar/emporium/internal/relations"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New(
		[]catalog.Product{{
			ID: "dried-flower", Name: "Dried Flower", Category: catalog.CategoryFlower,
			BasePrice: 100, DemandProfile: 0.5, Volatility: 0.05,
			SpoilageRate: 0.01, ShelfLifeDays: 120, MarketSize: 1000,
		}},
		[]catalog.Venue{
			{
				ID: "exchange", Name: "Exchange", CounterpartyID: "cp-1",
				Markup: 0.1, Commission: 0.05, ProcessingDays: 1, MinQuantity: 5,
				QualityMin: 0.5, QualityMax: 0.9,
				Payments: []catalog.PaymentMethod{catalog.PaymentCash, catalog.PaymentTransfer, catalog.PaymentCredit},
			},
			{
				ID: "cash-only", Name: "Cash Only", CounterpartyID: "cp-1",
				ProcessingDays: 2, MinQuantity: 1,
				QualityMin: 0.4, QualityMax: 0.8,
				Payments:   []catalog.PaymentMethod{catalog.PaymentCash},
			},
		},
		nil,
		[]catalog.CounterpartyProfile{{
			ID: "cp-1", Name: "Meridian", Role: "distributor",
			Patience: 0.5, Loyalty: 0.5, InitialTrust: 0.5,
		}},
	)
	require.NoError(t, err)
	return cat
}

type fixture struct {
	engine    *Engine
	ledger    *ledger.Ledger
	relations *relations.Engine
	bus       *events.Bus
}

func newFixture(t *testing.T, startingCash float64) *fixture {
	t.Helper()
	cat := testCatalog(t)
	bus := events.NewBus()
	rng := entropy.NewSource(3)
	mkt := market.New(cat, bus, rng, 3)
	led := ledger.New(bus, rng, ledger.Config{StartingCash: startingCash, CreditLimit: 1_000, CreditSurcharge: 0.05})
	rel := relations.New(cat, bus)
	return &fixture{
		engine:    New(cat, mkt, led, rel, bus, rng),
		ledger:    led,
		relations: rel,
		bus:       bus,
	}
}

func (f *fixture) seedLot(quality, acquiredAt, expiresAt float64, qty int) {
	f.engine.addLot(&Lot{
		ID:         "lot-seed",
		ProductID:  "dried-flower",
		Quantity:   qty,
		Quality:    quality,
		UnitCost:   90,
		AcquiredAt: acquiredAt,
		ExpiresAt:  expiresAt,
	})
}

func TestQuoteValidation(t *testing.T) {
	f := newFixture(t, 10_000)

	_, err := f.engine.QuoteAndReserve(Intent{Side: SideBuy, ProductID: "nope", Quantity: 10, VenueID: "exchange"})
	assert.ErrorIs(t, err, ErrUnknownProduct)

	_, err = f.engine.QuoteAndReserve(Intent{Side: SideBuy, ProductID: "dried-flower", Quantity: 10, VenueID: "nope"})
	assert.ErrorIs(t, err, ErrUnknownVenue)

	_, err = f.engine.QuoteAndReserve(Intent{Side: SideBuy, ProductID: "dried-flower", Quantity: 3, VenueID: "exchange"})
	assert.ErrorIs(t, err, ErrBelowVenueMinimum)

	_, err = f.engine.QuoteAndReserve(Intent{
		Side: SideBuy, ProductID: "dried-flower", Quantity: 10,
		VenueID: "cash-only", Payment: catalog.PaymentCredit,
	})
	assert.ErrorIs(t, err, ErrPaymentNotAccepted)

	_, err = f.engine.QuoteAndReserve(Intent{Side: SideSell, ProductID: "dried-flower", Quantity: 10, VenueID: "exchange"})
	assert.ErrorIs(t, err, ErrInsufficientInventory)
}

func TestBuyRejectedWhenUnaffordable(t *testing.T) {
	f := newFixture(t, 100)

	_, err := f.engine.QuoteAndReserve(Intent{Side: SideBuy, ProductID: "dried-flower", Quantity: 50, VenueID: "exchange"})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Empty(t, f.engine.State.Queue)
}

func TestBuySettlesIntoInventory(t *testing.T) {
	f := newFixture(t, 10_000)

	tx, err := f.engine.QuoteAndReserve(Intent{Side: SideBuy, ProductID: "dried-flower", Quantity: 10, VenueID: "exchange"})
	require.NoError(t, err)

	// Mid-band quality 0.7 adjusts the base price by 1.12, plus 10% markup.
	assert.InDelta(t, 123.2, tx.UnitPrice, 1e-9)
	assert.InDelta(t, 1_232, tx.Total, 1e-9)
	assert.Equal(t, 1.0, tx.CompletesAt) // Cash: 1 processing day x1.0

	trustBefore := f.relations.TrustLevel("cp-1")

	f.engine.Tick(1.5)

	assert.Empty(t, f.engine.State.Queue)
	assert.Equal(t, 10, f.engine.Available("dried-flower"))
	assert.InDelta(t, 10_000-1_232, f.ledger.Balance(ledger.CurrencyCash), 1e-9)

	lots := f.engine.Lots()
	require.Len(t, lots, 1)
	assert.GreaterOrEqual(t, lots[0].Quality, 0.5)
	assert.Less(t, lots[0].Quality, 0.9)

	done, ok := f.engine.Transaction(tx.ID)
	require.True(t, ok)
	assert.True(t, done.Success)
	assert.Equal(t, StatusCompleted, done.Status)

	// Market pressure and the relationship both register the purchase.
	st, _ := f.engine.market.Product("dried-flower")
	assert.Greater(t, st.Demand, 0.5)
	assert.Greater(t, f.relations.TrustLevel("cp-1"), trustBefore)
}

func TestPaymentMethodScalesCompletionTime(t *testing.T) {
	f := newFixture(t, 50_000)

	cash, err := f.engine.QuoteAndReserve(Intent{Side: SideBuy, ProductID: "dried-flower", Quantity: 10, VenueID: "exchange", Payment: catalog.PaymentCash})
	require.NoError(t, err)
	transfer, err := f.engine.QuoteAndReserve(Intent{Side: SideBuy, ProductID: "dried-flower", Quantity: 10, VenueID: "exchange", Payment: catalog.PaymentTransfer})
	require.NoError(t, err)
	credit, err := f.engine.QuoteAndReserve(Intent{Side: SideBuy, ProductID: "dried-flower", Quantity: 10, VenueID: "exchange", Payment: catalog.PaymentCredit})
	require.NoError(t, err)

	assert.Equal(t, 1.0, cash.CompletesAt)
	assert.Equal(t, 1.5, transfer.CompletesAt)
	assert.Equal(t, 2.0, credit.CompletesAt)
}

func TestSellSettlesFromInventory(t *testing.T) {
	f := newFixture(t, 1_000)
	f.seedLot(0.8, 0, 100, 20)

	tx, err := f.engine.QuoteAndReserve(Intent{Side: SideSell, ProductID: "dried-flower", Quantity: 10, VenueID: "exchange"})
	require.NoError(t, err)

	// Quality 0.8 adjusts by 1.18, minus 5% commission.
	assert.InDelta(t, 112.1, tx.UnitPrice, 1e-9)

	f.engine.Tick(1.5)

	assert.Equal(t, 10, f.engine.Available("dried-flower"))
	done, ok := f.engine.Transaction(tx.ID)
	require.True(t, ok)
	assert.True(t, done.Success)
	// Settlement reprices each lot after decay: 1.5 days at 0.01/day takes
	// quality to 0.785.
	assert.Greater(t, f.ledger.Balance(ledger.CurrencyCash), 1_000.0)
	assert.InDelta(t, 1_000+10*(100*(0.7+0.6*0.785))*0.95, f.ledger.Balance(ledger.CurrencyCash), 1)
}

func TestBuyFailsAtSettlementWhenFundsMoved(t *testing.T) {
	f := newFixture(t, 2_000)

	tx, err := f.engine.QuoteAndReserve(Intent{Side: SideBuy, ProductID: "dried-flower", Quantity: 10, VenueID: "exchange"})
	require.NoError(t, err)

	// Funds drain between quote and settlement; the debit is the authority.
	require.NoError(t, f.ledger.Debit(ledger.CurrencyCash, 1_900, "other spending", "test", false))

	f.engine.Tick(1.5)

	done, ok := f.engine.Transaction(tx.ID)
	require.True(t, ok)
	assert.False(t, done.Success)
	assert.Equal(t, "insufficient funds at settlement", done.Reason)
	assert.Zero(t, f.engine.Available("dried-flower"))
}

func TestCancelPendingTransaction(t *testing.T) {
	f := newFixture(t, 10_000)

	tx, err := f.engine.QuoteAndReserve(Intent{Side: SideBuy, ProductID: "dried-flower", Quantity: 10, VenueID: "exchange"})
	require.NoError(t, err)

	require.NoError(t, f.engine.Cancel(tx.ID))
	assert.Empty(t, f.engine.State.Queue)

	done, ok := f.engine.Transaction(tx.ID)
	require.True(t, ok)
	assert.False(t, done.Success)
	assert.Equal(t, "cancelled", done.Reason)
	assert.InDelta(t, 10_000, f.ledger.Balance(ledger.CurrencyCash), 1e-9)

	assert.ErrorIs(t, f.engine.Cancel("missing"), ErrNotFound)
}

func TestConsumeIsFIFOByAcquisition(t *testing.T) {
	f := newFixture(t, 0)
	f.engine.addLot(&Lot{ID: "newer", ProductID: "dried-flower", Quantity: 10, Quality: 0.9, UnitCost: 95, AcquiredAt: 5, ExpiresAt: 100})
	f.engine.addLot(&Lot{ID: "older", ProductID: "dried-flower", Quantity: 10, Quality: 0.6, UnitCost: 80, AcquiredAt: 1, ExpiresAt: 100})

	consumed, ok := f.engine.consume("dried-flower", 15)
	require.True(t, ok)
	require.Len(t, consumed, 2)

	// The older lot drains first even though it was added second.
	assert.Equal(t, 10, consumed[0].Quantity)
	assert.Equal(t, 0.6, consumed[0].Quality)
	assert.Equal(t, 5, consumed[1].Quantity)
	assert.Equal(t, 0.9, consumed[1].Quality)
	assert.Equal(t, 5, f.engine.Available("dried-flower"))
}

func TestConsumeAllOrNothing(t *testing.T) {
	f := newFixture(t, 0)
	f.seedLot(0.8, 0, 100, 10)

	_, ok := f.engine.consume("dried-flower", 15)
	assert.False(t, ok)
	assert.Equal(t, 10, f.engine.Available("dried-flower"))
}

func TestAverageQualityWeightsOldestLots(t *testing.T) {
	f := newFixture(t, 0)
	f.engine.addLot(&Lot{ID: "a", ProductID: "dried-flower", Quantity: 10, Quality: 0.6, AcquiredAt: 1, ExpiresAt: 100})
	f.engine.addLot(&Lot{ID: "b", ProductID: "dried-flower", Quantity: 10, Quality: 0.9, AcquiredAt: 5, ExpiresAt: 100})

	// 10 units at 0.6 and 5 at 0.9.
	assert.InDelta(t, (10*0.6+5*0.9)/15, f.engine.averageQuality("dried-flower", 15), 1e-9)
}

func TestLotsDecayAndExpireAsLosses(t *testing.T) {
	f := newFixture(t, 0)
	f.seedLot(0.5, 0, 2, 10)

	var losses []events.Event
	f.bus.Subscribe(events.KindInventoryLoss, func(e events.Event) { losses = append(losses, e) })

	f.engine.Tick(1)
	lots := f.engine.Lots()
	require.Len(t, lots, 1)
	assert.InDelta(t, 0.49, lots[0].Quality, 1e-9)

	f.engine.Tick(1.5)
	assert.Empty(t, f.engine.Lots())
	require.Len(t, losses, 1)
	assert.InDelta(t, 10*90.0, losses[0].After, 1e-9) // Quantity x unit cost

	// An expired lot is a loss, never a sale.
	_, err := f.engine.QuoteAndReserve(Intent{Side: SideSell, ProductID: "dried-flower", Quantity: 10, VenueID: "exchange"})
	assert.ErrorIs(t, err, ErrInsufficientInventory)
}

func TestTickZeroIsNoOp(t *testing.T) {
	f := newFixture(t, 10_000)
	f.seedLot(0.5, 0, 100, 10)

	_, err := f.engine.QuoteAndReserve(Intent{Side: SideBuy, ProductID: "dried-flower", Quantity: 10, VenueID: "exchange"})
	require.NoError(t, err)

	f.engine.Tick(0)
	f.engine.Tick(-2)

	assert.Equal(t, 0.0, f.engine.State.Day)
	assert.Len(t, f.engine.State.Queue, 1)
	assert.Equal(t, 0.5, f.engine.Lots()[0].Quality)
}
