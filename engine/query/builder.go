// Package query expands a search request into an ordered, bounded list of
// query variants. Variant order is priority order: downstream budget is
// spent front to back.
package query

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/Attendry/attendry-sub001/config"
	"github.com/Attendry/attendry-sub001/engine/domain"
	"github.com/Attendry/attendry-sub001/pkg/fn"
)

// Weight bands. At or above narrow, an axis keeps only its high-confidence
// terms; at or below broad, it opens up; in between it keeps defaults.
const (
	narrowAt = 7
	broadAt  = 3
)

// Builder generates query variants from a topic template and region info.
type Builder struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{logger: logger}
}

// Build produces at most max variants for the request. It cannot fail: an
// unknown topic arrives here already mapped to the generic template.
func (b *Builder) Build(req domain.SearchRequest, tpl config.TopicTemplate, region config.RegionInfo, max int) []domain.QueryVariant {
	if max <= 0 {
		max = 20
	}
	w := req.Weights

	locale := req.Locale
	if locale == "" {
		locale = region.Locale
	}

	base := baseQuery(req.Topic, tpl, w)
	types := eventTypes(tpl, locale, w)
	years := windowYears(req.Window())
	geos := geoTokens(region, w)

	var variants []domain.QueryVariant
	add := func(q string, tags ...string) {
		variants = append(variants, domain.QueryVariant{Query: strings.Join(strings.Fields(q), " "), Tags: tags})
	}

	// Highest priority: each event type against the primary year and the
	// country.
	country := ""
	if len(geos) > 0 {
		country = geos[0]
	}
	for _, et := range types {
		tags := []string{"event-type:" + strings.ToLower(et)}
		if locale != "" && locale != "en" {
			tags = append(tags, "locale:"+locale)
		}
		add(fmt.Sprintf("%s %s %s %s", base, et, country, years[0]), tags...)
	}

	// City-scoped variants for the leading event type.
	if len(types) > 0 {
		for _, city := range geos[min(1, len(geos)):] {
			add(fmt.Sprintf("%s %s %s %s", base, types[0], city, years[0]),
				"event-type:"+strings.ToLower(types[0]), "city:"+strings.ToLower(city))
		}
	}

	// Secondary year, if the window straddles one.
	if len(years) > 1 && len(types) > 0 {
		add(fmt.Sprintf("%s %s %s %s", base, types[0], country, years[1]),
			"event-type:"+strings.ToLower(types[0]), "temporal:"+years[1])
	}

	// Broadest catch: upcoming events, no year pin.
	add(fmt.Sprintf("%s upcoming events %s", base, country), "temporal:upcoming")

	variants = fn.UniqueBy(variants, func(v domain.QueryVariant) string { return v.Query })
	variants = fn.Take(variants, max)
	b.logger.Debug("query variants built", "topic", req.Topic, "count", len(variants))
	return variants
}

func baseQuery(topic string, tpl config.TopicTemplate, w domain.PrecisionWeights) string {
	parts := []string{topic}
	parts = append(parts, tpl.BaseTerms...)
	if w.Industry >= narrowAt && len(tpl.NarrowTerms) > 0 {
		parts = append(parts, tpl.NarrowTerms...)
	}
	if w.CrossTopic >= narrowAt {
		for _, t := range tpl.ExcludeTerms {
			parts = append(parts, "-"+t)
		}
	}
	return strings.Join(fn.UniqueBy(parts, strings.ToLower), " ")
}

// eventTypes picks the synonym set for the region's locale, folding in the
// english set when the event-type axis is weighted broad.
func eventTypes(tpl config.TopicTemplate, locale string, w domain.PrecisionWeights) []string {
	if locale == "" {
		locale = "en"
	}
	types := tpl.EventTypes[locale]
	if len(types) == 0 {
		types = tpl.EventTypes["en"]
	}
	if len(types) == 0 {
		types = config.GenericTemplate().EventTypes["en"]
	}
	switch {
	case w.EventType >= narrowAt:
		types = fn.Take(types, 3)
	case w.EventType <= broadAt && locale != "en":
		types = append(append([]string{}, types...), tpl.EventTypes["en"]...)
	}
	return fn.UniqueBy(types, strings.ToLower)
}

func geoTokens(region config.RegionInfo, w domain.PrecisionWeights) []string {
	if region.Country == "" {
		return nil
	}
	tokens := []string{region.Country}
	cities := region.Cities
	switch {
	case w.Geography >= narrowAt:
		cities = fn.Take(cities, 2)
	case w.Geography <= broadAt:
		cities = nil
	default:
		cities = fn.Take(cities, 3)
	}
	return append(tokens, cities...)
}

// windowYears returns the distinct calendar years the window touches,
// earliest first. Always non-empty for a valid window.
func windowYears(win domain.Window) []string {
	years := []string{fmt.Sprint(win.From.Year())}
	if win.To.Year() != win.From.Year() {
		years = append(years, fmt.Sprint(win.To.Year()))
	}
	return years
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
