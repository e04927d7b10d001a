package segment

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentText_Empty(t *testing.T) {
	assert.Nil(t, SegmentText("", 150, 2))
	assert.Nil(t, SegmentText("   \n\t  ", 150, 2))
}

func TestSegmentText_ShortTextIsOneSegment(t *testing.T) {
	text := "Bonjour le monde. Ceci est un test."
	segments := SegmentText(text, 150, 2)
	require.Len(t, segments, 1)
	assert.Contains(t, segments[0], "Bonjour")
	assert.Contains(t, segments[0], "test")
}

func TestSegmentText_EverySentenceAppearsInAtLeastOneSegment(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&sb, "Ceci est une phrase de test numero %d. ", i)
	}
	text := sb.String()

	segments := SegmentText(text, 30, 2)
	require.NotEmpty(t, segments)

	joined := strings.Join(segments, " ")
	for i := 0; i < 40; i++ {
		assert.Contains(t, joined, fmt.Sprintf("numero %d.", i))
	}
}

func TestSegmentText_ConsecutiveSegmentsShareOverlap(t *testing.T) {
	sentences := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		sentences = append(sentences, fmt.Sprintf("Une phrase courte numero %d deux trois.", i))
	}
	text := strings.Join(sentences, " ")

	segments := SegmentText(text, 20, 2)
	require.GreaterOrEqual(t, len(segments), 2)

	for i := 1; i < len(segments); i++ {
		prevSentences := splitSentences(segments[i-1])
		currSentences := splitSentences(segments[i])
		require.NotEmpty(t, prevSentences)
		require.NotEmpty(t, currSentences)

		tail := prevSentences[max(0, len(prevSentences)-2):]
		require.GreaterOrEqual(t, len(currSentences), len(tail))
		assert.Equal(t, tail, currSentences[:len(tail)])
	}
}
