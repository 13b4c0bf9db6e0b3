// internal/loader/state.go
package loader

// State represents the loader lifecycle.
//
//	┌──────────┐   Start   ┌──────────┐  all frames  ┌───────────┐
//	│ Created  │ ─────────▶│ Running  │ ────────────▶│ Completed │
//	└──────────┘           └──────────┘              └───────────┘
//	     │                   │      │
//	     │ Stop         Stop │      │ load or decode error
//	     ▼                   ▼      ▼
//	┌──────────┐                 ┌──────────┐
//	│ Canceled │                 │  Failed  │
//	└──────────┘                 └──────────┘
//
// Completed, Canceled and Failed are terminal. A loader never returns to
// Running; opening another file needs a new loader.
type State int

const (
	Created State = iota
	Running
	Completed
	Canceled
	Failed
)

// String returns the state name for debugging.
func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Running:
		return "Running"
	case Completed:
		return "Completed"
	case Canceled:
		return "Canceled"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// IsTerminal returns true once the loader can no longer emit events.
func (s State) IsTerminal() bool {
	return s == Completed || s == Canceled || s == Failed
}
