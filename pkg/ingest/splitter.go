package ingest

import "strings"

// Splitter cuts documents into chunks of about Size runes. Paragraphs are
// packed together while they fit; a paragraph longer than Size is cut into
// windows that overlap by Overlap runes.
type Splitter struct {
	Size    int
	Overlap int
}

func DefaultSplitter() Splitter {
	return Splitter{Size: 1200, Overlap: 150}
}

func (s Splitter) Split(text string) []string {
	size := s.Size
	if size <= 0 {
		size = DefaultSplitter().Size
	}

	var (
		chunks  []string
		current strings.Builder
	)
	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		n := len([]rune(para))
		if n > size {
			flush()
			chunks = append(chunks, window(para, size, s.Overlap)...)
			continue
		}
		if current.Len() > 0 && len([]rune(current.String()))+2+n > size {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()
	return chunks
}

func window(text string, size, overlap int) []string {
	runes := []rune(text)
	step := size - overlap
	if step <= 0 {
		step = size
	}

	var out []string
	for i := 0; i < len(runes); i += step {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}
