package models

import "fmt"

// Outcome statuses reported by the incremental updater.
const (
	OutcomeUpdated   = "updated"
	OutcomeUnchanged = "unchanged"
	OutcomeFailed    = "failed"
)

// MUpdateOutcome is the result of syncing one (symbol, kind) pair.
type MUpdateOutcome struct {
	Symbol string   `json:"symbol"`
	Kind   DataKind `json:"kind"`
	Status string   `json:"status"`
	Reason string   `json:"reason,omitempty"`
	Rows   int      `json:"rows"`
}

func (o MUpdateOutcome) String() string {
	if o.Status == OutcomeFailed {
		return fmt.Sprintf("%s/%s: failed: %s", o.Symbol, o.Kind, o.Reason)
	}
	return fmt.Sprintf("%s/%s: %s (%d rows)", o.Symbol, o.Kind, o.Status, o.Rows)
}

// MUpdateReport collects the outcomes of one updater run.
type MUpdateReport struct {
	Outcomes []MUpdateOutcome `json:"outcomes"`
}

// Failed returns the failed outcomes.
func (r MUpdateReport) Failed() []MUpdateOutcome {
	var failed []MUpdateOutcome
	for _, o := range r.Outcomes {
		if o.Status == OutcomeFailed {
			failed = append(failed, o)
		}
	}
	return failed
}

// FailedSymbols returns the distinct symbols with at least one failure.
func (r MUpdateReport) FailedSymbols() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, o := range r.Failed() {
		if _, ok := seen[o.Symbol]; ok {
			continue
		}
		seen[o.Symbol] = struct{}{}
		out = append(out, o.Symbol)
	}
	return out
}

// Count returns how many outcomes carry the given status.
func (r MUpdateReport) Count(status string) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// MRefreshResult reports the provenance of each kind after a forced refresh.
type MRefreshResult struct {
	Symbol  string              `json:"symbol"`
	Sources map[DataKind]string `json:"sources"`
	Errors  map[DataKind]string `json:"errors,omitempty"`
}
