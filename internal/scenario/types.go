package scenario

import "time"

// ScenarioResult is produced only by this harness — never by the
// coordinator or participant core, which only ever report their own
// history/recovery state.
type ScenarioResult struct {
	Attempted int
	Committed int
	Aborted   int
	Elapsed   time.Duration
}
