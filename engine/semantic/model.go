package semantic

import "github.com/google/uuid"

// EventPoint is one accepted event stored in the vector collection.
type EventPoint struct {
	URL       string
	Title     string
	Topic     string
	Region    string
	DateISO   string
	Quality   float64
	Embedding []float32
}

// Seed is a past accepted event returned by similarity search. Seeds feed
// the fallback discovery provider.
type Seed struct {
	URL     string
	Title   string
	Topic   string
	Region  string
	DateISO string
	Score   float32
}

// PointID derives a stable UUID from the canonical event URL, so re-storing
// the same event overwrites rather than duplicates.
func PointID(canonicalURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(canonicalURL)).String()
}
