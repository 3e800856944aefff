package extract

import "strings"

// preferPatterns rank sub-page links worth fetching; excludePatterns are
// never fetched regardless of other matches.
var (
	preferPatterns = []string{
		"speaker", "referenten", "agenda", "program", "programm",
		"schedule", "lineup", "sessions",
	}
	excludePatterns = []string{
		"register", "anmeldung", "ticket", "sponsor", "privacy",
		"datenschutz", "terms", "agb", "imprint", "impressum", "login",
		"signup", "cookie", "contact",
	}
)

// selectSubpages picks at most max links worth a follow-up fetch: preferred
// patterns first, in link order, exclusions never.
func selectSubpages(links []string, max int) []string {
	if max <= 0 {
		return nil
	}
	var out []string
	for _, link := range links {
		lower := strings.ToLower(link)
		if matchesAny(lower, excludePatterns) {
			continue
		}
		if matchesAny(lower, preferPatterns) {
			out = append(out, link)
			if len(out) == max {
				break
			}
		}
	}
	return out
}

func matchesAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// isSpeakerLink reports whether a link looks like a speaker or program page.
func isSpeakerLink(link string) bool {
	lower := strings.ToLower(link)
	return !matchesAny(lower, excludePatterns) && matchesAny(lower, preferPatterns)
}
