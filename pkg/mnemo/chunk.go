package mnemo

import (
	"strings"
	"unicode"
)

// chunkContent splits long memory content into sentence-aligned chunks for
// fragment embedding. Chunks overlap so a thought spanning a boundary still
// lands whole in at least one fragment. Returns nil when the content fits
// in a single chunk; the memory-level embedding covers it.
func chunkContent(text string, maxWords, overlapWords int) []string {
	if maxWords <= 0 {
		maxWords = 200
	}
	if overlapWords < 0 {
		overlapWords = 0
	}
	if len(strings.Fields(text)) <= maxWords {
		return nil
	}

	sentences := splitSentences(text)
	if len(sentences) < 2 {
		return nil
	}

	var chunks []string
	var current []string
	currentWords := 0

	for _, sentence := range sentences {
		words := len(strings.Fields(sentence))

		if currentWords+words > maxWords && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))
			current = overlapTail(current, overlapWords)
			currentWords = 0
			for _, s := range current {
				currentWords += len(strings.Fields(s))
			}
		}

		current = append(current, sentence)
		currentWords += words
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}

	return chunks
}

// splitSentences breaks text on ., ! and ? followed by whitespace or end of
// input. Text with no terminators comes back as one sentence.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		current.WriteRune(runes[i])

		if runes[i] == '.' || runes[i] == '!' || runes[i] == '?' {
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				if s := strings.TrimSpace(current.String()); s != "" {
					sentences = append(sentences, s)
				}
				current.Reset()
			}
		}
	}

	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	if len(sentences) == 0 {
		if s := strings.TrimSpace(text); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// overlapTail returns the trailing sentences worth roughly overlapWords,
// carried into the next chunk.
func overlapTail(sentences []string, overlapWords int) []string {
	if overlapWords == 0 || len(sentences) == 0 {
		return nil
	}

	total := 0
	start := len(sentences)
	for i := len(sentences) - 1; i >= 0; i-- {
		words := len(strings.Fields(sentences[i]))
		if total+words > overlapWords && start != len(sentences) {
			break
		}
		total += words
		start = i
	}
	return sentences[start:]
}
