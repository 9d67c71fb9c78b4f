package forge

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneticMemoryMarkAndLookup(t *testing.T) {
	g, err := NewGeneticMemory(t.TempDir())
	require.NoError(t, err)

	hash := ContentHash("package main\nfunc main() {}\n")
	lethal, err := g.IsLethal(hash)
	require.NoError(t, err)
	assert.False(t, lethal)

	require.NoError(t, g.MarkLethal(hash, "Echo", "test", 1000))

	lethal, err = g.IsLethal(hash)
	require.NoError(t, err)
	assert.True(t, lethal)
}

func TestGeneticMemoryPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	g1, err := NewGeneticMemory(dir)
	require.NoError(t, err)
	hash := ContentHash("package main\n")
	require.NoError(t, g1.MarkLethal(hash, "Echo", "test", 1000))

	g2, err := NewGeneticMemory(dir)
	require.NoError(t, err)
	lethal, err := g2.IsLethal(hash)
	require.NoError(t, err)
	assert.True(t, lethal)
	_ = filepath.Join(dir, "genetic_memory.json")
}

func TestContentHashCanonicalizesViaStableDigest(t *testing.T) {
	a := ContentHash(canonicalize("package main  \n\n"))
	b := ContentHash(canonicalize("package main\n"))
	assert.Equal(t, a, b)
}
