package search

import "regexp"

// signal is one prompt shape that suggests the answer needs fresh data.
type signal struct {
	Name  string
	Regex *regexp.Regexp
}

// freshnessSignals lists prompt shapes that stale model weights answer
// badly. Matching any one of them turns search on for the request.
var freshnessSignals = []signal{
	{
		Name:  "recency words",
		Regex: regexp.MustCompile(`(?i)\b(current|today|now|latest|recent|live|real-time)\b`),
	},
	{
		Name:  "prices and markets",
		Regex: regexp.MustCompile(`(?i)\b(price|cost|worth|value|rate|stock|market)\b`),
	},
	{
		Name:  "weather",
		Regex: regexp.MustCompile(`(?i)\b(weather|temperature|forecast|climate)\b`),
	},
	{
		Name:  "news and events",
		Regex: regexp.MustCompile(`(?i)\b(news|happening|event|update|announcement)\b`),
	},
	{
		Name:  "scores and games",
		Regex: regexp.MustCompile(`(?i)\b(score|game|match|tournament|competition)\b`),
	},
	{
		Name:  "recent years",
		Regex: regexp.MustCompile(`\b202[4-9]\b`),
	},
	{
		Name:  "calendar dates",
		Regex: regexp.MustCompile(`(?i)\b(january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}\b`),
	},
	{
		Name:  "factual what-is",
		Regex: regexp.MustCompile(`(?i)\bwhat\s+(is|are)\s+the\b`),
	},
	{
		Name:  "quantity questions",
		Regex: regexp.MustCompile(`(?i)\bhow\s+(much|many|long|far|old)\s+(is|are|does|do)\b`),
	},
	{
		Name:  "outcome questions",
		Regex: regexp.MustCompile(`(?i)\b(who|what)\b.*\b(win|won|elected|announced|released|launched)\b`),
	},
}

// NeedsSearch reports whether a prompt looks like it needs information
// newer than the models' training data.
func NeedsSearch(query string) bool {
	for _, s := range freshnessSignals {
		if s.Regex.MatchString(query) {
			return true
		}
	}
	return false
}
