package merkle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildRootEmpty(t *testing.T) {
	assert.Equal(t, "", BuildRoot(nil))
}

func TestBuildRootDeterministic(t *testing.T) {
	leaves := []string{"aa", "bb", "cc"}
	r1 := BuildRoot(leaves)
	r2 := BuildRoot(leaves)
	assert.Equal(t, r1, r2)
	assert.NotEmpty(t, r1)
}

func TestBuildRootSensitiveToOrder(t *testing.T) {
	a := BuildRoot([]string{"aa", "bb", "cc"})
	b := BuildRoot([]string{"cc", "bb", "aa"})
	assert.NotEqual(t, a, b)
}

func TestBuildRootSensitiveToContent(t *testing.T) {
	a := BuildRoot([]string{"aa", "bb"})
	b := BuildRoot([]string{"aa", "bc"})
	assert.NotEqual(t, a, b)
}

func TestBuildRootHandlesOddCount(t *testing.T) {
	root := BuildRoot([]string{"aa", "bb", "cc"})
	assert.Len(t, root, 64)
}
