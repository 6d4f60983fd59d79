package chunk

import "strings"

// Split tokenises text on Unicode whitespace and groups consecutive words
// into chunks of at most maxWords words, preserving order. Whitespace-only
// input yields no chunks. maxWords <= 0 means DefaultMaxWords.
//
// Split is a pure function of (text, maxWords): equal inputs always produce
// equal chunk texts.
func Split(url, text string, maxWords int) []Chunk {
	if maxWords <= 0 {
		maxWords = DefaultMaxWords
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	chunks := make([]Chunk, 0, (len(words)+maxWords-1)/maxWords)
	for start := 0; start < len(words); start += maxWords {
		end := min(start+maxWords, len(words))
		chunks = append(chunks, Chunk{
			SourceURL: url,
			Ordinal:   len(chunks),
			Text:      strings.Join(words[start:end], " "),
		})
	}
	return chunks
}

// Chunker applies Split with a per-document chunk cap.
type Chunker struct {
	MaxWords int
	// MaxChunks truncates long documents; 0 means unlimited.
	MaxChunks int
}

// Chunk splits text from url, keeping at most MaxChunks leading chunks.
func (c Chunker) Chunk(url, text string) []Chunk {
	chunks := Split(url, text, c.MaxWords)
	if c.MaxChunks > 0 && len(chunks) > c.MaxChunks {
		chunks = chunks[:c.MaxChunks]
	}
	return chunks
}
