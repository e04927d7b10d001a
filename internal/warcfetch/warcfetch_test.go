package warcfetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocalPath_IsDeterministic(t *testing.T) {
	a := LocalPath("./warc", "crawl-data/CC-MAIN-2024-01/segments/foo.warc.gz")
	b := LocalPath("./warc", "crawl-data/CC-MAIN-2024-01/segments/foo.warc.gz")
	assert.Equal(t, a, b)
}

func TestLocalPath_DiffersByURL(t *testing.T) {
	a := LocalPath("./warc", "foo.warc.gz")
	b := LocalPath("./warc", "bar.warc.gz")
	assert.NotEqual(t, a, b)
}
