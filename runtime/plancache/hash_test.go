package plancache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeQuery(t *testing.T) {
	assert.Equal(t, "self hosted cli", NormalizeQuery("  Self Hosted CLI  "))
	assert.Equal(t, "cursor alternative", NormalizeQuery("Cursor Alternative"))
	assert.Equal(t, "", NormalizeQuery("   "))
}

func TestHashQueryStableAcrossCasingAndPadding(t *testing.T) {
	a := HashQuery("Self Hosted CLI")
	b := HashQuery("  self hosted cli  ")
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}

func TestHashQueryDistinguishesQueries(t *testing.T) {
	assert.NotEqual(t, HashQuery("free chatbot"), HashQuery("free chatbots"))
}
