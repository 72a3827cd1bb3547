package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_LoadOrOpen_MissingFile(t *testing.T) {
	c := New()
	_, err := c.LoadOrOpen("/nonexistent/plugin.so", "HandleRequest")
	require.Error(t, err)
	assert.Equal(t, 0, c.Count())
}

func TestCache_RemoveAndClear(t *testing.T) {
	c := New()
	assert.Equal(t, 0, c.Count())
	assert.Empty(t, c.Paths())

	c.Remove("/does/not/exist")
	assert.Equal(t, 0, c.Count())

	c.Clear()
	assert.Equal(t, 0, c.Count())
}
