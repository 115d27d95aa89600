// Command emporium hosts a headless economic simulation session: it loads
// the reference catalog, restores or starts a session, advances the
// simulation on a wall-clock loop, and serves the observation API. Player
// actions come from the enclosing game through the sim.Core API.
package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cultivar/emporium/internal/api"
	"github.com/cultivar/emporium/internal/catalog"
	"github.com/cultivar/emporium/internal/events"
	"github.com/cultivar/emporium/internal/ledger"
	"github.com/cultivar/emporium/internal/persistence"
	"github.com/cultivar/emporium/internal/sim"
)

func main() {
	var (
		catalogPath = flag.String("catalog", "configs/catalog.yaml", "reference catalog YAML")
		dbPath      = flag.String("db", "data/emporium.db", "session database path")
		session     = flag.String("session", "default", "session name")
		seed        = flag.Int64("seed", 42, "stochastic seed")
		port        = flag.Int("port", 8080, "observation API port")
		speed       = flag.Float64("speed", 1.0, "sim-days advanced per real second")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cat, err := catalog.Load(*catalogPath)
	if err != nil {
		slog.Error("failed to load catalog", "error", err)
		os.Exit(1)
	}
	slog.Info("catalog loaded",
		"products", len(cat.ProductIDs),
		"venues", len(cat.VenueIDs),
		"templates", len(cat.TemplateIDs),
		"counterparties", len(cat.CounterpartyIDs),
	)

	os.MkdirAll("data", 0755)
	db, err := persistence.Open(*dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	bus := events.NewBus()
	bus.SubscribeAll(func(e events.Event) {
		if err := db.AppendEvent(e); err != nil {
			slog.Warn("event not persisted", "kind", e.Kind, "error", err)
		}
	})

	core := sim.New(cat, bus, sim.Config{
		Seed: *seed,
		Ledger: ledger.Config{
			StartingCash:    25_000,
			StartingTokens:  50,
			CreditLimit:     10_000,
			CreditSurcharge: 0.05,
		},
		Capabilities: sim.Capabilities{
			"production":   10,
			"quality_lab":  1,
			"distribution": 5,
		},
	})

	if db.HasSession(*session) {
		_, snapshot, err := db.LoadSession(*session)
		if err != nil {
			slog.Error("failed to load session", "error", err)
			os.Exit(1)
		}
		if err := core.Restore(snapshot); err != nil {
			slog.Error("failed to restore session", "error", err)
			os.Exit(1)
		}
		slog.Info("session restored", "name", *session, "day", core.Day)
	} else {
		slog.Info("starting fresh session", "name", *session)
	}

	apiServer := &api.Server{Core: core, DB: db, Port: *port}
	apiServer.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	save := func() {
		snapshot, err := core.Snapshot()
		if err != nil {
			slog.Error("snapshot failed", "error", err)
			return
		}
		if err := db.SaveSession(*session, core.Day, snapshot); err != nil {
			slog.Error("save failed", "error", err)
		}
	}

	// One wall-clock second advances speed sim-days. Autosave and report on
	// each sim-day boundary.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	lastSavedDay := int(core.Day)

	slog.Info("simulation running", "day", core.Day, "speed", *speed)
	for {
		select {
		case <-sigCh:
			slog.Info("shutting down", "day", core.Day)
			save()
			return
		case <-ticker.C:
			core.Step(*speed)
			if day := int(core.Day); day > lastSavedDay {
				lastSavedDay = day
				save()
				slog.Info("daily report",
					"day", day,
					"season", catalog.SeasonName(core.Market.Conditions().Season),
					"ledger", core.Ledger.Report().String(),
					"reputation", core.Relations.Player().Overall,
					"open_offers", len(core.Contracts.State.Offers),
				)
			}
		}
	}
}
