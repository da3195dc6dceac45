package extraction

import (
	"sort"
	"strings"
)

// Controlled concept vocabulary: each concept fires on any of its trigger
// substrings in the lowercased summary, source or tags.
var conceptTriggers = map[string][]string{
	"market":       {"price", "pump", "dump", "chart", "trade", "trading", "token", "etf", "bull", "bear", "volume", "liquidity"},
	"social":       {"friend", "conversation", "chat", "told me", "asked", "community", "group"},
	"identity":     {"i am", "i feel", "i think", "i believe", "my personality", "myself", "who i am"},
	"technology":   {"protocol", "contract", "deploy", "code", "api", "network", "upgrade", "node"},
	"relationship": {"trust", "helped", "together", "relationship", "partner", "collaborat"},
	"reflection":   {"realized", "learned", "pattern", "noticed", "insight", "understand"},
	"finance":      {"wallet", "balance", "transfer", "stake", "yield", "portfolio", "fund"},
	"event":        {"launch", "announce", "conference", "release", "happened", "meeting"},
}

// InferConcepts assigns concepts from the controlled vocabulary based on
// summary text, source and tags. Tags that are already concept names pass
// through. Result is sorted and deduplicated.
func InferConcepts(summary, source string, tags []string) []string {
	haystack := strings.ToLower(summary + " " + source + " " + strings.Join(tags, " "))

	set := make(map[string]bool)
	for concept, triggers := range conceptTriggers {
		for _, trigger := range triggers {
			if strings.Contains(haystack, trigger) {
				set[concept] = true
				break
			}
		}
	}
	for _, tag := range tags {
		tag = strings.ToLower(tag)
		if _, known := conceptTriggers[tag]; known {
			set[tag] = true
		}
	}

	concepts := make([]string, 0, len(set))
	for c := range set {
		concepts = append(concepts, c)
	}
	sort.Strings(concepts)
	return concepts
}
