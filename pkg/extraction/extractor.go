// Package extraction pulls entities out of memory text with cheap
// heuristics and maintains the entity-mention graph. No LLM calls; the
// rules run on every stored memory.
package extraction

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/coregx/ahocorasick"

	"github.com/dan-solli/mnemo/pkg/store"
)

// Mention is one extracted entity occurrence, aggregated per entity.
type Mention struct {
	Name     string
	Type     store.EntityType
	Salience float64
}

// Extractor is the entity-extraction strategy.
type Extractor interface {
	Extract(text string) []Mention
}

var (
	handleRe = regexp.MustCompile(`@([A-Za-z0-9_]{2,32})`)
	hexRe    = regexp.MustCompile(`\b0x[0-9a-fA-F]{6,64}\b`)
	base58Re = regexp.MustCompile(`\b[1-9A-HJ-NP-Za-km-z]{32,44}\b`)
	tickerRe = regexp.MustCompile(`\$([A-Z]{2,10})\b`)
	// Two or more capitalized words in a row, mid-sentence phrases like
	// "Solana Foundation" or "New York".
	properRe = regexp.MustCompile(`\b([A-Z][a-z]+(?: [A-Z][a-z]+)+)\b`)
)

// DictEntry seeds the alias dictionary with a known entity.
type DictEntry struct {
	Name    string
	Type    store.EntityType
	Aliases []string
}

// RuleExtractor extracts entities with regex heuristics plus an optional
// Aho-Corasick dictionary of known names and aliases.
type RuleExtractor struct {
	automaton *ahocorasick.Automaton
	// pattern index -> canonical entry
	patternEntries []DictEntry
}

// NewRuleExtractor builds the extractor. The dictionary may be empty.
func NewRuleExtractor(dict []DictEntry) (*RuleExtractor, error) {
	re := &RuleExtractor{}
	if len(dict) == 0 {
		return re, nil
	}

	var patterns []string
	for _, entry := range dict {
		forms := append([]string{entry.Name}, entry.Aliases...)
		for _, form := range forms {
			form = strings.ToLower(strings.TrimSpace(form))
			if form == "" {
				continue
			}
			patterns = append(patterns, form)
			re.patternEntries = append(re.patternEntries, entry)
		}
	}
	if len(patterns) == 0 {
		return re, nil
	}

	automaton, err := ahocorasick.NewBuilder().
		AddStrings(patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build alias dictionary: %w", err)
	}
	re.automaton = automaton
	return re, nil
}

type occurrence struct {
	name  string
	typ   store.EntityType
	start int
	count int
}

// Extract runs all heuristics over the text and returns one mention per
// distinct entity, with salience from position and frequency.
func (re *RuleExtractor) Extract(text string) []Mention {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	found := make(map[string]*occurrence)
	record := func(name string, typ store.EntityType, start int) {
		key := strings.ToLower(name)
		if occ, ok := found[key]; ok {
			occ.count++
			if start < occ.start {
				occ.start = start
			}
			return
		}
		found[key] = &occurrence{name: name, typ: typ, start: start, count: 1}
	}

	for _, loc := range handleRe.FindAllStringSubmatchIndex(text, -1) {
		record(text[loc[2]:loc[3]], store.EntityPerson, loc[0])
	}
	for _, loc := range hexRe.FindAllStringIndex(text, -1) {
		record(text[loc[0]:loc[1]], store.EntityWallet, loc[0])
	}
	for _, loc := range base58Re.FindAllStringIndex(text, -1) {
		record(text[loc[0]:loc[1]], store.EntityWallet, loc[0])
	}
	for _, loc := range tickerRe.FindAllStringSubmatchIndex(text, -1) {
		record(text[loc[2]:loc[3]], store.EntityToken, loc[0])
	}

	// Dictionary matches override the generic proper-noun typing.
	dictMatched := make(map[string]bool)
	if re.automaton != nil {
		lower := []byte(strings.ToLower(text))
		for _, m := range re.automaton.FindAllOverlapping(lower) {
			if !wordBounded(lower, m.Start, m.End) {
				continue
			}
			entry := re.patternEntries[m.PatternID]
			record(entry.Name, entry.Type, m.Start)
			dictMatched[strings.ToLower(string(lower[m.Start:m.End]))] = true
		}
	}

	for _, loc := range properRe.FindAllStringIndex(text, -1) {
		phrase := text[loc[0]:loc[1]]
		if dictMatched[strings.ToLower(phrase)] {
			continue
		}
		record(phrase, store.EntityConcept, loc[0])
	}

	mentions := make([]Mention, 0, len(found))
	for _, occ := range found {
		mentions = append(mentions, Mention{
			Name:     occ.name,
			Type:     occ.typ,
			Salience: salience(occ.start, occ.count, len(text)),
		})
	}
	return mentions
}

// salience weights early and repeated mentions higher, in [0,1].
func salience(start, count, textLen int) float64 {
	relPos := 0.0
	if textLen > 0 {
		relPos = float64(start) / float64(textLen)
	}
	if count > 3 {
		count = 3
	}
	s := (1 - 0.5*relPos) * (0.7 + 0.1*float64(count))
	if s > 1 {
		return 1
	}
	if s < 0 {
		return 0
	}
	return s
}

// wordBounded rejects dictionary matches embedded inside larger words.
func wordBounded(text []byte, start, end int) bool {
	if start > 0 && isWordByte(text[start-1]) {
		return false
	}
	if end < len(text) && isWordByte(text[end]) {
		return false
	}
	return true
}

func isWordByte(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
