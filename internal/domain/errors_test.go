package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDownloadFailed_UnwrapsAndFormats(t *testing.T) {
	inner := errors.New("connection refused")
	err := &DownloadFailed{URL: "crawl-data/foo.warc.gz", Err: inner}

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "crawl-data/foo.warc.gz")

	statusErr := &DownloadFailed{URL: "bar.warc.gz", StatusCode: 503}
	assert.Contains(t, statusErr.Error(), "503")
}

func TestBrokerUnreachable_Unwraps(t *testing.T) {
	inner := errors.New("dial tcp: timeout")
	err := &BrokerUnreachable{Addr: "broker:5672", Err: inner}
	assert.ErrorIs(t, err, inner)
}

func TestParseSkip_HasNoUnwrap(t *testing.T) {
	err := &ParseSkip{Reason: "not confidently French"}
	assert.Equal(t, "parse skip: not confidently French", err.Error())
	assert.Nil(t, errors.Unwrap(err))
}
