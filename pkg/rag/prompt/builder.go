package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"curriculum-qa-be/pkg/rag/state"
)

const evidencePreviewLimit = 1500

// Builder assembles a user prompt out of tagged sections
type Builder struct {
	sb strings.Builder
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Section writes <tag>body</tag>. Empty bodies are skipped.
func (b *Builder) Section(tag, body string) *Builder {
	body = strings.TrimSpace(body)
	if body == "" {
		return b
	}
	b.sb.WriteString("<" + tag + ">\n")
	b.sb.WriteString(body)
	b.sb.WriteString("\n</" + tag + ">\n\n")
	return b
}

// Line writes a trailing instruction line
func (b *Builder) Line(text string) *Builder {
	b.sb.WriteString(text)
	b.sb.WriteString("\n")
	return b
}

func (b *Builder) String() string {
	return strings.TrimSpace(b.sb.String())
}

// Evidence numbers documents from 1 with their source, the form every
// evidence-reading prompt uses
func Evidence(docs []state.Document) string {
	var sb strings.Builder
	for i, d := range docs {
		content := strings.TrimSpace(d.Content)
		if len(content) > evidencePreviewLimit {
			content = content[:evidencePreviewLimit] + "..."
		}
		fmt.Fprintf(&sb, "[%d] (source: %s)\n%s\n\n", i+1, d.Source, content)
	}
	return sb.String()
}

// History renders the last n turns, oldest first
func History(turns []state.Turn, n int) string {
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	var sb strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&sb, "%s: %s\n", t.Role, strings.TrimSpace(t.Content))
	}
	return sb.String()
}

// ExtractJSON returns the outermost {...} span of a model response, or ""
func ExtractJSON(response string) string {
	startIdx := strings.Index(response, "{")
	endIdx := strings.LastIndex(response, "}")

	if startIdx == -1 || endIdx == -1 || endIdx <= startIdx {
		return ""
	}

	return response[startIdx : endIdx+1]
}

// Decode parses the JSON object inside a model response into v
func Decode(response string, v any) error {
	raw := ExtractJSON(response)
	if raw == "" {
		return fmt.Errorf("no JSON object in response")
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode model JSON: %w", err)
	}
	return nil
}
