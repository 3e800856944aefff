package llm

import (
	"regexp"
	"strings"
)

// Models occasionally wrap JSON in markdown fences or leave trailing commas
// even when a response schema is set. These patterns repair the common cases
// before unmarshalling.
var (
	jsonBlockPattern      = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*\\})\\s*```")
	jsonObjectPattern     = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
	jsonArrayBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\[.*\\])\\s*```")
	jsonArrayPattern      = regexp.MustCompile(`(?s)\[[\s\S]*\]`)
	trailingCommaPattern  = regexp.MustCompile(`,\s*([}\]])`)
)

// ExtractJSON extracts a JSON object or array from an LLM response string.
func ExtractJSON(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return ""
	}

	// Objects first, fenced before bare.
	if m := jsonBlockPattern.FindStringSubmatch(content); len(m) > 1 {
		return cleanJSON(m[1])
	}
	if m := jsonArrayBlockPattern.FindStringSubmatch(content); len(m) > 1 {
		return cleanJSON(m[1])
	}
	// Prefer whichever bare form starts earlier in the text.
	objIdx := strings.IndexByte(content, '{')
	arrIdx := strings.IndexByte(content, '[')
	if arrIdx != -1 && (objIdx == -1 || arrIdx < objIdx) {
		if m := jsonArrayPattern.FindString(content); m != "" {
			return cleanJSON(m)
		}
	}
	if m := jsonObjectPattern.FindString(content); m != "" {
		return cleanJSON(m)
	}
	return ""
}

// cleanJSON removes trailing commas before } or ].
func cleanJSON(raw string) string {
	return trailingCommaPattern.ReplaceAllString(strings.TrimSpace(raw), "$1")
}
