package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashKey(t *testing.T) {
	a := HashKey("text-embedding-3-small", "probation rules")
	b := HashKey("text-embedding-3-small", "probation rules")
	c := HashKey("text-embedding-3-small", "probation", "rules")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 32)
}
