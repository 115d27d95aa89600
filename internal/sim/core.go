// Package sim ties the five engines together and advances them in the
// required per-tick order: pricing updates before trading and contracts read
// prices, and their outcomes land before relationships process the same
// tick's interactions.
package sim

import (
	"github.com/cultivar/emporium/internal/catalog"
	"github.com/cultivar/emporium/internal/contracts"
	"github.com/cultivar/emporium/internal/entropy"
	"github.com/cultivar/emporium/internal/events"
	"github.com/cultivar/emporium/internal/ledger"
	"github.com/cultivar/emporium/internal/market"
	"github.com/cultivar/emporium/internal/relations"
	"github.com/cultivar/emporium/internal/trading"
)

// Capabilities is the external read-only snapshot of what the player's
// operation can do, consumed by contract feasibility evaluation.
type Capabilities map[string]float64

// Config sets up a session.
type Config struct {
	Seed         int64
	Ledger       ledger.Config
	Capabilities Capabilities
}

// Core owns the engines and the simulated clock.
type Core struct {
	Catalog *catalog.Catalog
	Bus     *events.Bus
	Rng     *entropy.Source

	Market    *market.Engine
	Ledger    *ledger.Ledger
	Trading   *trading.Engine
	Contracts *contracts.Engine
	Relations *relations.Engine

	Day          float64
	Capabilities Capabilities
}

// New constructs a session core. Engines receive their collaborators
// explicitly; nothing reaches through a global registry.
func New(cat *catalog.Catalog, bus *events.Bus, cfg Config) *Core {
	rng := entropy.NewSource(cfg.Seed)

	mkt := market.New(cat, bus, rng, cfg.Seed)
	led := ledger.New(bus, rng, cfg.Ledger)
	rel := relations.New(cat, bus)
	trd := trading.New(cat, mkt, led, rel, bus, rng)
	con := contracts.New(cat, led, rel, bus, rng)

	caps := cfg.Capabilities
	if caps == nil {
		caps = Capabilities{}
	}

	return &Core{
		Catalog:      cat,
		Bus:          bus,
		Rng:          rng,
		Market:       mkt,
		Ledger:       led,
		Trading:      trd,
		Contracts:    con,
		Relations:    rel,
		Capabilities: caps,
	}
}

// Step advances the whole simulation by dt sim-days. A zero or negative dt
// never mutates anything. Each engine's tick runs to completion before the
// next begins; ordering is part of the contract.
func (c *Core) Step(dt float64) {
	if dt <= 0 {
		return
	}
	c.Day += dt

	c.Market.Tick(dt)
	c.Ledger.Tick(dt)
	c.Trading.Tick(dt)
	c.Contracts.Tick(dt, c.Capabilities)
	c.Relations.Tick(dt)
}

// SetCapabilities replaces the player capabilities snapshot.
func (c *Core) SetCapabilities(caps Capabilities) {
	if caps == nil {
		caps = Capabilities{}
	}
	c.Capabilities = caps
}
