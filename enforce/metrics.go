package enforce

import "github.com/hazyhaar/zapelm/rule"

// Metrics receives enforcement counters. Implementations must be safe for
// concurrent use when shared between engines.
type Metrics interface {
	RulesApplied(active int)
	Removed(mode rule.ApplyMode, n int)
	Restored(n int)
	RestoreFailed()
	InvalidSelector()
	Bindings(n int)
}

type nopMetrics struct{}

func (nopMetrics) RulesApplied(int)            {}
func (nopMetrics) Removed(rule.ApplyMode, int) {}
func (nopMetrics) Restored(int)                {}
func (nopMetrics) RestoreFailed()              {}
func (nopMetrics) InvalidSelector()            {}
func (nopMetrics) Bindings(int)                {}
