package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsHTML(t *testing.T) {
	assert.True(t, isHTML("text/html"))
	assert.True(t, isHTML("text/html; charset=utf-8"))
	assert.True(t, isHTML("application/xhtml+xml"))
	assert.False(t, isHTML("application/pdf"))
	assert.False(t, isHTML("image/png"))
}

func TestFindH1(t *testing.T) {
	body := []byte(`<html><body><h1>Bonjour le monde</h1><p>texte</p></body></html>`)
	assert.Equal(t, "Bonjour le monde", findH1(body))
}

func TestFindH1_Absent(t *testing.T) {
	body := []byte(`<html><body><p>pas de titre</p></body></html>`)
	assert.Equal(t, "", findH1(body))
}

func TestNewPool_ClampsWorkersToAtLeastOne(t *testing.T) {
	assert.Equal(t, 1, NewPool(0).Workers)
	assert.Equal(t, 1, NewPool(-3).Workers)
	assert.Equal(t, 4, NewPool(4).Workers)
}
