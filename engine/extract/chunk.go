package extract

import (
	"regexp"
	"strings"
)

// Chunk is one slice of page text fed to extraction. Speaker-dense chunks
// are prioritized so one LLM call sees the names.
type Chunk struct {
	Text         string
	SpeakerDense bool
}

const (
	// targetChunkSize aims at sections, not fixed windows; fixed-size
	// splitting is the fallback when no structure is detected.
	targetChunkSize = 4000
	minNameLines    = 3
)

// nameLine matches lines that look like "Firstname Lastname" optionally
// followed by a role separator, the shape of speaker listings.
var nameLine = regexp.MustCompile(`^\s*(?:[*-]\s*)?(?:#+\s*)?\p{Lu}[\p{L}'-]+(?:\s+\p{Lu}[\p{L}'.-]+){1,3}\s*(?:[,–|].*)?$`)

// splitChunks breaks markdown into chunks along headings, grouping sections
// to the target size and flagging speaker-dense ones. Input without headings
// degrades to fixed-size chunks.
func splitChunks(markdown string) []Chunk {
	sections := splitSections(markdown)
	if len(sections) == 0 {
		return nil
	}

	var chunks []Chunk
	var buf strings.Builder
	bufDense := false
	flush := func() {
		if buf.Len() == 0 {
			return
		}
		chunks = append(chunks, Chunk{Text: buf.String(), SpeakerDense: bufDense})
		buf.Reset()
		bufDense = false
	}

	for _, sec := range sections {
		dense := speakerDense(sec)
		// A dense section gets its own chunk so it survives whole.
		if dense {
			flush()
			for _, part := range fixedSplit(sec, targetChunkSize) {
				chunks = append(chunks, Chunk{Text: part, SpeakerDense: true})
			}
			continue
		}
		if buf.Len()+len(sec) > targetChunkSize {
			flush()
		}
		if len(sec) > targetChunkSize {
			for _, part := range fixedSplit(sec, targetChunkSize) {
				chunks = append(chunks, Chunk{Text: part})
			}
			continue
		}
		buf.WriteString(sec)
		buf.WriteString("\n")
	}
	flush()
	return chunks
}

// splitSections cuts markdown at headings. No headings means one section.
func splitSections(markdown string) []string {
	lines := strings.Split(markdown, "\n")
	var sections []string
	var cur strings.Builder
	for _, line := range lines {
		if strings.HasPrefix(line, "#") && cur.Len() > 0 {
			sections = append(sections, cur.String())
			cur.Reset()
		}
		cur.WriteString(line)
		cur.WriteString("\n")
	}
	if strings.TrimSpace(cur.String()) != "" {
		sections = append(sections, cur.String())
	}
	return sections
}

// speakerDense reports whether a section reads like a speaker listing:
// enough consecutive name-shaped lines, or a speaker heading.
func speakerDense(section string) bool {
	lower := strings.ToLower(section)
	headingHint := false
	for _, kw := range []string{"speaker", "referenten", "moderator", "keynote", "panel"} {
		if strings.Contains(lower, kw) {
			headingHint = true
			break
		}
	}

	nameCount := 0
	for _, line := range strings.Split(section, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || len(trimmed) > 80 {
			continue
		}
		if nameLine.MatchString(trimmed) {
			nameCount++
		}
	}
	if headingHint && nameCount >= 2 {
		return true
	}
	return nameCount >= minNameLines
}

// fixedSplit cuts text into pieces of at most size runs, breaking at line
// boundaries where possible.
func fixedSplit(text string, size int) []string {
	if len(text) <= size {
		return []string{text}
	}
	var out []string
	for len(text) > size {
		cut := strings.LastIndex(text[:size], "\n")
		if cut < size/2 {
			cut = size
		}
		out = append(out, text[:cut])
		text = text[cut:]
	}
	if strings.TrimSpace(text) != "" {
		out = append(out, text)
	}
	return out
}
