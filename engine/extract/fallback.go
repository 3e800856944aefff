package extract

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Date shapes recognized by the manual fallback.
var (
	isoDate    = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	dottedDate = regexp.MustCompile(`\b(\d{1,2})\.(\d{1,2})\.(\d{4})\b`)
	longDate   = regexp.MustCompile(`\b(January|February|March|April|May|June|July|August|September|October|November|December)\s+(\d{1,2}),?\s+(\d{4})\b`)
	headingRe  = regexp.MustCompile(`(?m)^#{1,3}\s+(.+)$`)
)

// regexFallback recovers a minimal title+date record when LLM extraction is
// unavailable. Low confidence by construction.
func regexFallback(page Page, combined string) (llmEvent, bool) {
	title := strings.TrimSpace(page.Title)
	if title == "" {
		if m := headingRe.FindStringSubmatch(combined); m != nil {
			title = strings.TrimSpace(m[1])
		}
	}
	if title == "" {
		return llmEvent{}, false
	}

	return llmEvent{
		Title:      title,
		Date:       findDate(combined),
		Confidence: 0.3,
	}, true
}

// findDate returns the first recognizable date as ISO 8601, or empty.
func findDate(text string) string {
	if m := isoDate.FindStringSubmatch(text); m != nil {
		return fmt.Sprintf("%s-%s-%s", m[1], m[2], m[3])
	}
	if m := dottedDate.FindStringSubmatch(text); m != nil {
		return fmt.Sprintf("%s-%s-%s", m[3], pad2(m[2]), pad2(m[1]))
	}
	if m := longDate.FindStringSubmatch(text); m != nil {
		t, err := time.Parse("January 2 2006", fmt.Sprintf("%s %s %s", m[1], m[2], m[3]))
		if err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}
