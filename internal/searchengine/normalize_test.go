package searchengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeString_CaseFold(t *testing.T) {
	assert.Equal(t, normalizeString("SMITH"), normalizeString("smith"))
}

func TestNormalizeString_AccentFold(t *testing.T) {
	assert.Equal(t, normalizeString("jose"), normalizeString("José"))
	assert.Equal(t, normalizeString("muller"), normalizeString("Müller"))
}

func TestNormalizeString_Combined(t *testing.T) {
	assert.Equal(t, "francois", normalizeString("FRANÇOIS"))
}
