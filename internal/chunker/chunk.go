// Package chunker splits chapter text into size-bounded chunks on sentence
// and paragraph boundaries and feeds them to the synthesizer.
package chunker

import (
	"strings"
)

// DefaultMaxChunkBytes bounds a chunk's UTF-8 byte length. TTS backends cap
// input size around this value.
const DefaultMaxChunkBytes = 5000

// SplitText splits text into chunks of fewer than maxBytes bytes each,
// never breaking inside a sentence. Paragraphs are delimited by blank lines
// and sentences by ". "; sentences accumulate greedily into the current
// chunk, and an overflowing sentence starts the next chunk. A single
// sentence larger than the limit becomes an oversized chunk of its own.
func SplitText(text string, maxBytes int) []string {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxChunkBytes
	}

	var chunks []string
	current := ""

	for _, paragraph := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(paragraph) == "" {
			continue
		}
		for _, sentence := range strings.Split(paragraph, ". ") {
			if strings.TrimSpace(sentence) == "" {
				continue
			}
			if !strings.HasSuffix(sentence, ". ") {
				sentence += ". "
			}
			if len(current)+len(sentence) < maxBytes {
				current += sentence
				continue
			}
			if trimmed := strings.TrimSpace(current); trimmed != "" {
				chunks = append(chunks, trimmed)
			}
			current = sentence
		}
		current += "\n\n"
	}

	if trimmed := strings.TrimSpace(current); trimmed != "" {
		chunks = append(chunks, trimmed)
	}
	return chunks
}
