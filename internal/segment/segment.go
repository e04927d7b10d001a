// Package segment splits extracted page text into overlapping
// word-bounded segments for embedding, using uax29/v2's Unicode
// sentence segmenter as the sentence-boundary source (spec §4.3.1).
package segment

import (
	"strings"

	"github.com/clipperhouse/uax29/v2/sentences"
)

// SegmentText splits text into sentence-aligned chunks. A chunk is
// emitted when the next sentence would push it past maxWords; the last
// overlapSentences sentences of that chunk then start the next chunk,
// followed by the incoming sentence (spec §4.3.1's sliding-window
// overlap). A chunk can therefore exceed maxWords when the carried
// overlap plus the incoming sentence is longer than maxWords, or when a
// single sentence is. An empty or whitespace-only text yields no
// segments.
func SegmentText(text string, maxWords, overlapSentences int) []string {
	sents := splitSentences(text)
	if len(sents) == 0 {
		return nil
	}

	var segments []string
	var current []string
	currentWords := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		segments = append(segments, strings.Join(current, " "))
	}

	i := 0
	for i < len(sents) {
		s := sents[i]
		w := wordCount(s)

		if currentWords > 0 && currentWords+w > maxWords {
			flush()
			overlapStart := len(current) - overlapSentences
			if overlapStart < 0 {
				overlapStart = 0
			}
			carry := append([]string(nil), current[overlapStart:]...)
			current = carry
			currentWords = 0
			for _, c := range current {
				currentWords += wordCount(c)
			}
		}

		current = append(current, s)
		currentWords += w
		i++
	}
	flush()

	return segments
}

func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	seg := sentences.FromString(text)
	var out []string
	for seg.Next() {
		s := strings.TrimSpace(seg.Value())
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
