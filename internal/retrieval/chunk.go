package retrieval

import "strings"

// Document is a raw corpus entry before chunking.
type Document struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
}

// Chunk is one fixed-size window of a document.
type Chunk struct {
	ID     string `json:"id"`
	DocID  string `json:"doc_id"`
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
}

// Split cuts text into overlapping windows of window runes. The step between
// windows is window-overlap, so overlap must be strictly smaller than window;
// config validation enforces that before an engine is built.
func Split(text string, window, overlap int) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= window {
		return []string{string(runes)}
	}
	step := window - overlap
	var out []string
	for start := 0; start < len(runes); start += step {
		end := start + window
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}

// tokenize lowercases and splits on non-letter, non-digit boundaries.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z':
			return false
		case r >= '0' && r <= '9':
			return false
		}
		return true
	})
}
