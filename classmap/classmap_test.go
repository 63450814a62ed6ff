package classmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMappingRanges(t *testing.T) {
	cases := map[int]string{0: "0", 9: "9", 10: "A", 35: "Z", 36: "a", 61: "z"}
	for idx, want := range cases {
		got, err := ToChar(idx)
		require.NoError(t, err)
		assert.Equal(t, want, got, "index %d", idx)
	}
}

func TestMappingBijection(t *testing.T) {
	seen := make(map[string]bool, NumClasses)
	for i := 0; i < NumClasses; i++ {
		c, err := ToChar(i)
		require.NoError(t, err)
		assert.False(t, seen[c], "duplicate char %q", c)
		seen[c] = true

		back, err := ToIndex(c)
		require.NoError(t, err)
		assert.Equal(t, i, back)
	}
	assert.Len(t, seen, NumClasses)
	assert.Len(t, Alphabet(), NumClasses)
}

func TestMappingRejects(t *testing.T) {
	t.Run("index out of range", func(t *testing.T) {
		_, err := ToChar(-1)
		assert.Error(t, err)
		_, err = ToChar(NumClasses)
		assert.Error(t, err)
	})
	t.Run("unknown char", func(t *testing.T) {
		for _, c := range []string{"", "?", "ab", " "} {
			_, err := ToIndex(c)
			assert.Error(t, err, "char %q", c)
			assert.False(t, Contains(c))
		}
	})
}
