// Package chunk splits extracted document text into bounded, ordered
// word-window chunks.
package chunk

// DefaultMaxWords is the chunk size used when a non-positive size is given.
const DefaultMaxWords = 512

// Chunk is one retrievable unit of a document.
type Chunk struct {
	SourceURL string `json:"source_url"` // Document the text came from
	Ordinal   int    `json:"ordinal"`    // 0-based position within the document
	Text      string `json:"text"`       // Words joined by single spaces
}

// Texts returns the text of each chunk, in order.
func Texts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

// FromTexts rebuilds chunks for url from previously computed texts, as
// when they come back from the content cache.
func FromTexts(url string, texts []string) []Chunk {
	out := make([]Chunk, len(texts))
	for i, t := range texts {
		out[i] = Chunk{SourceURL: url, Ordinal: i, Text: t}
	}
	return out
}
