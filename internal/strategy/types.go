package strategy

import (
	"encoding/json"

	"futures-core/internal/indicators"
	"futures-core/internal/model"
)

// State is a strategy's serialized internal state (wave-lock, cross memory).
type State = json.RawMessage

// Strategy turns fine bars into signals. Position is read from the ledger on
// every call and never duplicated inside the strategy.
type Strategy interface {
	// ID returns the unique instance ID
	ID() string
	// Name returns the human-readable name
	Name() string
	// Evaluate processes one closed fine bar; nil means no action.
	Evaluate(bar model.Bar, pos model.Position) *model.Signal
	// WarmUp replays history with the position forced flat.
	WarmUp(history []model.Bar)

	SnapshotState() (State, error)
	RestoreState(State) error
}

// Inspector is implemented by strategies that expose their indicator readings.
type Inspector interface {
	Indicators() indicators.Values
}
