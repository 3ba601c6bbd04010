package deck

import (
	"fmt"
	"github.com/lefinal/flipmatch/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"math/rand"
	"testing"
)

func TestNewGeneratorNotEnoughValues(t *testing.T) {
	_, err := NewGenerator(DefaultValues[:PairCount-1], nil)
	require.Error(t, err, "should fail")
	assert.True(t, errors.HasKind(err, errors.KindInvalidCardValues), "should fail with correct kind")
}

func TestNewGeneratorDuplicatesIgnored(t *testing.T) {
	values := make([]string, 0)
	for i := 0; i < PairCount-1; i++ {
		v := fmt.Sprintf("v%d", i)
		values = append(values, v, v)
	}
	_, err := NewGenerator(values, nil)
	assert.Error(t, err, "should count only distinct values")
}

func TestNewGeneratorEmptyValue(t *testing.T) {
	values := append([]string{""}, DefaultValues...)
	_, err := NewGenerator(values, nil)
	assert.Error(t, err, "should fail")
}

func TestGeneratePairs(t *testing.T) {
	g, err := NewGenerator(DefaultValues, rand.NewSource(42))
	require.NoError(t, err, "create generator should not fail")
	for run := 0; run < 100; run++ {
		layout := g.Generate()
		require.Len(t, layout, Size, "should generate correct size")
		counts := make(map[string]int)
		for _, value := range layout {
			counts[value]++
		}
		assert.Len(t, counts, PairCount, "should use correct number of distinct values")
		for value, count := range counts {
			assert.Equalf(t, 2, count, "value %q should occur exactly twice", value)
		}
	}
}

func TestGenerateExactPool(t *testing.T) {
	g, err := NewGenerator(DefaultValues[:PairCount], rand.NewSource(42))
	require.NoError(t, err, "create generator should not fail")
	layout := g.Generate()
	for _, value := range DefaultValues[:PairCount] {
		assert.Contains(t, layout, value, "should use every value of exact pool")
	}
}

// TestGenerateUniform checks that every value lands on every slot with roughly
// equal probability. A sort-based shuffle would fail this.
func TestGenerateUniform(t *testing.T) {
	const runs = 30000
	values := DefaultValues[:PairCount]
	g, err := NewGenerator(values, rand.NewSource(1))
	require.NoError(t, err, "create generator should not fail")
	firstSlot := make(map[string]int)
	lastSlot := make(map[string]int)
	for run := 0; run < runs; run++ {
		layout := g.Generate()
		firstSlot[layout[0]]++
		lastSlot[layout[Size-1]]++
	}
	// Each value occupies a given slot with probability 2/30.
	expected := runs * 2 / Size
	for _, value := range values {
		assert.InDeltaf(t, expected, firstSlot[value], float64(expected)/4, "first slot count for %q", value)
		assert.InDeltaf(t, expected, lastSlot[value], float64(expected)/4, "last slot count for %q", value)
	}
}
