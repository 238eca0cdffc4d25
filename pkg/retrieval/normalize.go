package retrieval

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	contentKeys = []string{"content", "text", "page_content", "chunk", "document", "body"}
	sourceKeys  = []string{"source_id", "source", "document_name", "filename", "file", "title", "id"}
	scoreKeys   = []string{"score", "similarity", "relevance", "relevance_score"}
	listKeys    = []string{"results", "matches", "documents", "chunks", "hits", "data", "items"}
)

// Normalize turns any upstream result shape into chunks. It accepts typed
// chunks, JSON bytes, lists of maps, and envelopes holding such a list under
// a common key. Nested "metadata" maps are consulted for the source, and a
// distance without a score is converted to a similarity. Entries with no
// usable content are dropped.
func Normalize(raw any) ([]Chunk, error) {
	switch v := raw.(type) {
	case nil:
		return []Chunk{}, nil
	case []Chunk:
		return clean(v), nil
	case []*Chunk:
		out := make([]Chunk, 0, len(v))
		for _, c := range v {
			if c != nil {
				out = append(out, *c)
			}
		}
		return clean(out), nil
	case []byte:
		return normalizeJSON(v)
	case json.RawMessage:
		return normalizeJSON(v)
	case string:
		return normalizeJSON([]byte(v))
	case []map[string]any:
		out := make([]Chunk, 0, len(v))
		for _, m := range v {
			if c, ok := chunkFromMap(m); ok {
				out = append(out, c)
			}
		}
		return clean(out), nil
	case []any:
		out := make([]Chunk, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("retrieval: unsupported result item %T", item)
			}
			if c, ok := chunkFromMap(m); ok {
				out = append(out, c)
			}
		}
		return clean(out), nil
	case map[string]any:
		for _, key := range listKeys {
			if inner, ok := v[key]; ok {
				return Normalize(inner)
			}
		}
		if c, ok := chunkFromMap(v); ok {
			return []Chunk{c}, nil
		}
		return nil, fmt.Errorf("retrieval: unrecognised result envelope")
	default:
		return nil, fmt.Errorf("retrieval: unsupported result type %T", raw)
	}
}

func normalizeJSON(data []byte) ([]Chunk, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return []Chunk{}, nil
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("retrieval: decode results: %w", err)
	}
	if _, isString := decoded.(string); isString {
		return nil, fmt.Errorf("retrieval: unsupported result type string")
	}
	return Normalize(decoded)
}

func chunkFromMap(m map[string]any) (Chunk, bool) {
	content := firstString(m, contentKeys)
	if strings.TrimSpace(content) == "" {
		return Chunk{}, false
	}

	source := firstString(m, sourceKeys)
	if source == "" {
		if meta, ok := m["metadata"].(map[string]any); ok {
			source = firstString(meta, sourceKeys)
		}
	}

	score, ok := firstNumber(m, scoreKeys)
	if !ok {
		if d, hasDistance := firstNumber(m, []string{"distance"}); hasDistance {
			score, ok = 1-d, true
		}
	}
	if !ok {
		score = 0
	}

	return Chunk{Content: content, SourceID: source, Score: score}, true
}

func firstString(m map[string]any, keys []string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case fmt.Stringer:
			return v.String()
		}
	}
	return ""
}

func firstNumber(m map[string]any, keys []string) (float64, bool) {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return v, true
		case float32:
			return float64(v), true
		case int:
			return float64(v), true
		case int64:
			return float64(v), true
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return f, true
			}
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func clean(chunks []Chunk) []Chunk {
	out := make([]Chunk, 0, len(chunks))
	for _, c := range chunks {
		if strings.TrimSpace(c.Content) == "" {
			continue
		}
		if math.IsNaN(c.Score) || math.IsInf(c.Score, 0) {
			c.Score = 0
		}
		out = append(out, c)
	}
	return out
}
