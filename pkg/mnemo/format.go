package mnemo

import (
	"fmt"
	"strings"

	"github.com/dan-solli/mnemo/pkg/search"
	"github.com/dan-solli/mnemo/pkg/store"
)

// Section order and headings for formatted context. Identity first so the
// agent reads who it is before what happened.
var contextSections = []struct {
	memType store.MemoryType
	heading string
}{
	{store.TypeSelfModel, "Who I am"},
	{store.TypeSemantic, "What I know"},
	{store.TypeProcedural, "How I do things"},
	{store.TypeEpisodic, "What happened"},
}

// FormatContext renders recall results as a prompt-ready context block:
// grouped by memory type in identity-first order, ranked within each group.
// Empty results render as an empty string.
func FormatContext(results []search.ScoredMemory) string {
	if len(results) == 0 {
		return ""
	}

	byType := make(map[store.MemoryType][]search.ScoredMemory)
	for _, r := range results {
		byType[r.Memory.Type] = append(byType[r.Memory.Type], r)
	}

	var sb strings.Builder
	for _, section := range contextSections {
		group := byType[section.memType]
		if len(group) == 0 {
			continue
		}

		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "## %s\n", section.heading)
		for _, r := range group {
			fmt.Fprintf(&sb, "- %s\n", contextLine(r.Memory))
		}
	}
	return sb.String()
}

func contextLine(m *store.Memory) string {
	text := m.Summary
	if text == "" {
		text = m.Content
	}
	if len(text) > 300 {
		text = text[:297] + "..."
	}
	return text
}
