package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/cultivar/emporium/internal/catalog"
	"github.com/cultivar/emporium/internal/events"
	"github.com/cultivar/emporium/internal/ledger"
	"github.com/cultivar/emporium/internal/trading"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New(
		[]catalog.Product{{
			ID: "dried-flower", Name: "Dried Flower", Category: catalog.CategoryFlower,
			BasePrice: 100, DemandProfile: 0.5, Volatility: 0.05,
			SpoilageRate: 0.004, ShelfLifeDays: 120, MarketSize: 1000,
		}},
		[]catalog.Venue{{
			ID: "exchange", Name: "Exchange", CounterpartyID: "cp-1",
			Markup: 0.1, Commission: 0.05, ProcessingDays: 1, MinQuantity: 1,
			QualityMin: 0.5, QualityMax: 0.9,
			Payments: []catalog.PaymentMethod{catalog.PaymentCash},
		}},
		[]catalog.ContractTemplate{{
			ID: "tpl-1", CounterpartyID: "cp-1", ProductID: "dried-flower",
			Quantity: 100, DurationDays: 30, OfferWindowDays: 7, BaseValue: 10_000,
			MinQuality:   0.7,
			RequiredCaps: map[string]float64{"production": 10},
		}},
		[]catalog.CounterpartyProfile{{
			ID: "cp-1", Name: "Meridian", Role: "distributor",
			Patience: 0.5, Loyalty: 0.5, InitialTrust: 0.5,
		}},
	)
	require.NoError(t, err)
	return cat
}

func testConfig() Config {
	return Config{
		Seed: 21,
		Ledger: ledger.Config{
			StartingCash:    25_000,
			StartingTokens:  50,
			CreditLimit:     10_000,
			CreditSurcharge: 0.05,
		},
		Capabilities: Capabilities{"production": 10},
	}
}

func newTestCore(t *testing.T) *Core {
	t.Helper()
	return New(testCatalog(t), events.NewBus(), testConfig())
}

func TestStepZeroNeverMutates(t *testing.T) {
	core := newTestCore(t)
	core.Step(5)

	day := core.Day
	price := core.Market.State.Products["dried-flower"].CurrentPrice
	cash := core.Ledger.Balance(ledger.CurrencyCash)

	core.Step(0)
	core.Step(-1)

	assert.Equal(t, day, core.Day)
	assert.Equal(t, price, core.Market.State.Products["dried-flower"].CurrentPrice)
	assert.Equal(t, cash, core.Ledger.Balance(ledger.CurrencyCash))
}

func TestEngineClocksStayInLockstep(t *testing.T) {
	core := newTestCore(t)

	core.Step(1.5)
	core.Step(0.5)

	assert.Equal(t, 2.0, core.Day)
	assert.Equal(t, 2.0, core.Market.State.Day)
	assert.Equal(t, 2.0, core.Ledger.State.Day)
	assert.Equal(t, 2.0, core.Trading.State.Day)
	assert.Equal(t, 2.0, core.Contracts.State.Day)
	assert.Equal(t, 2.0, core.Relations.State.Day)
}

func TestSnapshotRoundtrip(t *testing.T) {
	core := newTestCore(t)

	// Generate activity across every engine before the snapshot.
	_, err := core.Trading.QuoteAndReserve(trading.Intent{
		Side: trading.SideBuy, ProductID: "dried-flower", Quantity: 10, VenueID: "exchange",
	})
	require.NoError(t, err)
	offer, err := core.Contracts.GenerateOffer("tpl-1", core.Capabilities)
	require.NoError(t, err)
	contract, err := core.Contracts.Accept(offer.ID)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		core.Step(1)
	}

	blob, err := core.Snapshot()
	require.NoError(t, err)

	restored := New(testCatalog(t), events.NewBus(), testConfig())
	require.NoError(t, restored.Restore(blob))

	assert.Equal(t, core.Day, restored.Day)
	assert.Equal(t, core.Ledger.State.Balances, restored.Ledger.State.Balances)
	assert.Equal(t,
		core.Market.State.Products["dried-flower"].CurrentPrice,
		restored.Market.State.Products["dried-flower"].CurrentPrice)
	assert.Equal(t, core.Trading.Available("dried-flower"), restored.Trading.Available("dried-flower"))

	got, ok := restored.Contracts.Contract(contract.ID)
	require.True(t, ok)
	assert.Equal(t, contract.RemainingDays, got.RemainingDays)
	assert.Equal(t, contract.Status, got.Status)

	assert.Equal(t, core.Relations.TrustLevel("cp-1"), restored.Relations.TrustLevel("cp-1"))

	// A restored session keeps advancing without error.
	restored.Step(1)
	assert.Equal(t, core.Day+1, restored.Day)
}

func TestRestoreRejectsGarbage(t *testing.T) {
	core := newTestCore(t)
	assert.Error(t, core.Restore([]byte("not a snapshot")))
}

func TestRestoreRejectsWrongVersion(t *testing.T) {
	core := newTestCore(t)

	bad, err := msgpack.Marshal(snapshot{Version: snapshotVersion + 1})
	require.NoError(t, err)
	assert.ErrorContains(t, core.Restore(bad), "unsupported snapshot version")
}

func TestSetCapabilitiesNilResets(t *testing.T) {
	core := newTestCore(t)
	core.SetCapabilities(nil)
	assert.NotNil(t, core.Capabilities)
	assert.Empty(t, core.Capabilities)
}
