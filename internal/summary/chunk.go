package summary

import (
	"regexp"
	"strings"
)

var sentenceRE = regexp.MustCompile(`[^.!?]+[.!?]+`)

// SplitSentences groups the sentences of text into chunks of at most
// maxWords words. A single sentence longer than maxWords becomes its own
// chunk. Text without sentence punctuation is treated as one sentence, and
// trailing text after the last punctuation mark is dropped.
func SplitSentences(text string, maxWords int) []string {
	sentences := sentenceRE.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{text}
	}

	var (
		chunks  []string
		current []string
		words   int
	)
	flush := func() {
		if c := strings.TrimSpace(strings.Join(current, " ")); c != "" {
			chunks = append(chunks, c)
		}
		current, words = nil, 0
	}
	for _, s := range sentences {
		n := len(strings.Fields(s))
		if words+n > maxWords {
			flush()
		}
		current = append(current, strings.TrimSpace(s))
		words += n
	}
	flush()
	return chunks
}
