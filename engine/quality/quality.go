// Package quality scores extracted event drafts and decides acceptance.
// Strong metadata signals are trusted over exact window matches; content
// that looks like boilerplate, listings, or articles without a real speaker
// section is rejected outright.
package quality

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Attendry/attendry-sub001/engine/domain"
	"github.com/Attendry/attendry-sub001/engine/extract"
)

// Thresholds are the tunable cutoffs. All of them come from config; the
// documented defaults live there, not here.
type Thresholds struct {
	// HighQuality admits out-of-window events; LowQuality rejects
	// in-window events scoring below it.
	HighQuality float64
	LowQuality  float64
	MinSpeakers int
}

// Decision is the gate's verdict for one draft.
type Decision struct {
	Accept bool
	Score  float64
	Reason string
}

// Gate evaluates drafts against the active window.
type Gate struct {
	thresholds Thresholds
	logger     *slog.Logger
}

func New(t Thresholds, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{thresholds: t, logger: logger}
}

// insanityMarkers reject a page regardless of any other signal.
var insanityMarkers = []string{
	"terms and conditions",
	"terms of service",
	"privacy policy",
	"cookie policy",
	"404",
	"page not found",
	"seite nicht gefunden",
	"access denied",
}

// listingMarkers indicate a directory or calendar page, not an event page.
var listingMarkers = []string{
	"all events",
	"upcoming events",
	"event calendar",
	"veranstaltungskalender",
	"browse events",
	"search results",
}

// articleMarkers indicate editorial content. Articles pass only with a real
// speaker section behind them.
var articleMarkers = []string{
	"min read",
	"posted on",
	"published on",
	"by the editorial",
	"press release",
}

// Evaluate scores one draft and decides acceptance.
func (g *Gate) Evaluate(draft extract.Draft, window domain.Window) Decision {
	if reason, bad := g.sanityReject(draft); bad {
		g.logger.Debug("draft rejected", "url", draft.Event.SourceURL, "reason", reason)
		return Decision{Accept: false, Score: 0, Reason: reason}
	}

	dateScore, inWindow := dateScore(draft.Event.DateISO, window)
	completeness := completenessScore(draft)
	score := clamp01(0.25*dateScore + 0.55*completeness + 0.20*draft.Event.Confidence)

	d := Decision{Score: score}
	t := g.thresholds
	switch {
	case !inWindow && dateScore == 0:
		d.Accept = false
		d.Reason = "date far outside window"
	case !inWindow && draft.Event.DateISO != "":
		// Out-of-window: only strong drafts survive. Trusting strong
		// signals over the exact window beats a perfect date match on a
		// weak page.
		d.Accept = score >= t.HighQuality && draft.Event.Confidence >= 0.5
		if !d.Accept {
			d.Reason = "date outside window without high quality"
		}
	case score < t.LowQuality:
		d.Accept = false
		d.Reason = fmt.Sprintf("quality %.2f below cutoff %.2f", score, t.LowQuality)
	default:
		d.Accept = true
	}

	// Accept invariant: enough named speakers, or high quality overall.
	if d.Accept && len(draft.Event.Speakers) < t.MinSpeakers && score < t.HighQuality {
		d.Accept = false
		d.Reason = fmt.Sprintf("%d speakers below minimum %d and quality %.2f below %.2f",
			len(draft.Event.Speakers), t.MinSpeakers, score, t.HighQuality)
	}
	if !d.Accept && d.Reason != "" {
		g.logger.Debug("draft rejected", "url", draft.Event.SourceURL, "reason", d.Reason, "score", score)
	}
	return d
}

// sanityReject applies the hard content rejections.
func (g *Gate) sanityReject(draft extract.Draft) (string, bool) {
	text := strings.ToLower(draft.Event.Title + " " + draft.Meta.TextSample)

	for _, marker := range insanityMarkers {
		if strings.Contains(text, marker) {
			return "boilerplate content: " + marker, true
		}
	}
	for _, marker := range listingMarkers {
		if strings.Contains(text, marker) {
			return "listing page: " + marker, true
		}
	}
	for _, marker := range articleMarkers {
		if strings.Contains(text, marker) && !draft.Meta.HasSpeakerSubpage {
			return "article without speaker section: " + marker, true
		}
	}
	return "", false
}

// dateScore grades the event date against the window. A missing date is a
// weak but not fatal signal.
func dateScore(dateISO string, window domain.Window) (float64, bool) {
	if dateISO == "" {
		return 0.3, true
	}
	t, err := time.Parse("2006-01-02", dateISO)
	if err != nil {
		return 0.1, true
	}
	if window.Contains(t) {
		return 1.0, true
	}
	// Near misses fade out over 60 days.
	var gap time.Duration
	if t.Before(window.From) {
		gap = window.From.Sub(t)
	} else {
		gap = t.Sub(window.To)
	}
	days := gap.Hours() / 24
	if days > 60 {
		return 0, false
	}
	return (60 - days) / 60 * 0.5, false
}

func completenessScore(draft extract.Draft) float64 {
	var s float64
	if draft.Event.Title != "" {
		s += 0.25
	}
	if draft.Meta.Venue != "" || draft.Meta.City != "" {
		s += 0.25
	}
	switch n := len(draft.Event.Speakers); {
	case n >= 5:
		s += 0.40
	case n >= 2:
		s += 0.30
	case n == 1:
		s += 0.15
	}
	if draft.Meta.HasSpeakerSubpage {
		s += 0.05
	}
	if draft.Meta.OfficialDomain {
		s += 0.05
	}
	return clamp01(s)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
