package forge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeuristicDetectsUnsafe(t *testing.T) {
	code := `package main
func dangerous() {
	unsafe.Pointer(nil)
	unsafe.Pointer(nil)
	unsafe.Pointer(nil)
	unsafe.Pointer(nil)
}`
	v := reviewHeuristic("test_skill", code, 0)
	assert.False(t, v.Passed)
	found := false
	for _, f := range v.Findings {
		if f.Category == "Unsafe Package Use" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestHeuristicCleanCodePasses(t *testing.T) {
	code := `package main
func add(a, b int) int {
	return a + b
}`
	v := reviewHeuristic("test_skill", code, 0)
	assert.True(t, v.Passed)
	assert.Empty(t, v.Findings)
}

func TestHeuristicDetectsHardcodedSecret(t *testing.T) {
	code := `package main
var apiKey = "sk-this-is-not-real-1234567890"
func run() {}`
	v := reviewHeuristic("test_skill", code, 0)
	assert.False(t, v.Passed)
}
