package sim

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/cultivar/emporium/internal/contracts"
	"github.com/cultivar/emporium/internal/ledger"
	"github.com/cultivar/emporium/internal/market"
	"github.com/cultivar/emporium/internal/relations"
	"github.com/cultivar/emporium/internal/trading"
)

// snapshotVersion guards against restoring an incompatible blob.
const snapshotVersion = 1

// snapshot is the complete entity set of a session in simulated (not
// wall-clock) state.
type snapshot struct {
	Version   int             `msgpack:"version"`
	Day       float64         `msgpack:"day"`
	Market    market.State    `msgpack:"market"`
	Ledger    ledger.State    `msgpack:"ledger"`
	Trading   trading.State   `msgpack:"trading"`
	Contracts contracts.State `msgpack:"contracts"`
	Relations relations.State `msgpack:"relations"`
}

// Snapshot serializes the full simulation state to an opaque blob. Restoring
// it resumes the session bit-for-bit in simulated state.
func (c *Core) Snapshot() ([]byte, error) {
	data, err := msgpack.Marshal(snapshot{
		Version:   snapshotVersion,
		Day:       c.Day,
		Market:    c.Market.State,
		Ledger:    c.Ledger.State,
		Trading:   c.Trading.State,
		Contracts: c.Contracts.State,
		Relations: c.Relations.State,
	})
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// Restore replaces the simulation state with a previously taken snapshot.
// The entropy source is not part of the snapshot: stochastic draws are
// policy, and a restored session may diverge in future draws while holding
// every invariant.
func (c *Core) Restore(data []byte) error {
	var snap snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}

	c.Day = snap.Day
	c.Market.State = snap.Market
	c.Ledger.State = snap.Ledger
	c.Trading.State = snap.Trading
	c.Contracts.State = snap.Contracts
	c.Relations.State = snap.Relations
	return nil
}
