package pipeline

import (
	"sort"

	"github.com/Attendry/attendry-sub001/engine/domain"
)

// assemble orders accepted events by quality, best first. Ties keep their
// acceptance order, so earlier-prioritized candidates win.
func assemble(events []domain.Event, summary domain.Summary) domain.Result {
	sorted := make([]domain.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].QualityScore > sorted[j].QualityScore
	})
	return domain.Result{Events: sorted, Summary: summary}
}
