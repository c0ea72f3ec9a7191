package engine

import (
	"time"

	"github.com/vigil-systems/vigil/pkg/types"
)

// transition is the outcome of one state-machine step for one rule.
type transition struct {
	state        types.AlertState
	becameTrueAt time.Time // zero unless Pending or Firing
	fired        bool      // entered Firing this step
	resolved     bool      // left Firing this step
}

// step advances the alert state machine by one evaluation tick. At most one
// state change happens per step. A single false tick resets the sustain
// timer: Pending and Firing both drop straight back to Inactive.
//
//	Inactive --true--> Pending (becameTrueAt = now)
//	Pending  --true--> Firing once now-becameTrueAt >= sustain
//	Firing   --true--> Firing (idempotent, no duplicate notification)
//	any      --false-> Inactive
func step(cur types.AlertState, becameTrueAt time.Time, condTrue bool, now time.Time, sustain time.Duration) transition {
	if !condTrue {
		return transition{
			state:    types.StateInactive,
			resolved: cur == types.StateFiring,
		}
	}

	switch cur {
	case types.StatePending:
		if now.Sub(becameTrueAt) >= sustain {
			return transition{state: types.StateFiring, becameTrueAt: becameTrueAt, fired: true}
		}
		return transition{state: types.StatePending, becameTrueAt: becameTrueAt}
	case types.StateFiring:
		return transition{state: types.StateFiring, becameTrueAt: becameTrueAt}
	default:
		return transition{state: types.StatePending, becameTrueAt: now}
	}
}
