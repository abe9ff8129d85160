package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Every keyword must round-trip through LookupKeyword.
func TestLookupKeyword(t *testing.T) {
	for word, kind := range keywords {
		assert.Equal(t, kind, LookupKeyword(word), "lookup of %s", word)
	}
}

func TestLookupKeywordFallsBackToIdent(t *testing.T) {
	assert.Equal(t, IDENT, LookupKeyword("foo"))
	assert.Equal(t, IDENT, LookupKeyword("ifoo"))
	assert.Equal(t, IDENT, LookupKeyword("forward"))
}

func TestIsTypeKeyword(t *testing.T) {
	assert.True(t, IsTypeKeyword(INT))
	assert.True(t, IsTypeKeyword(CHAR))
	assert.False(t, IsTypeKeyword(IDENT))
	assert.False(t, IsTypeKeyword(IF))
}
