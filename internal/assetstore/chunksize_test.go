package assetstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChunkSize(t *testing.T) {
	cases := []struct {
		raw  string
		want int64
	}{
		{"4", 4},
		{"4B", 4},
		{"1K", 1024},
		{"1KB", 1024},
		{"2M", 2 * 1024 * 1024},
		{"2MB", 2 * 1024 * 1024},
		{"1G", 1024 * 1024 * 1024},
		{"100KB", 100 * 1024},
		{"  64K  ", 64 * 1024},
	}
	for _, tc := range cases {
		got, err := ParseChunkSize(tc.raw)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}
}

func TestParseChunkSize_Errors(t *testing.T) {
	cases := []string{"", "K", "-4", "0", "4X", "abc"}
	for _, raw := range cases {
		_, err := ParseChunkSize(raw)
		assert.Error(t, err, raw)
	}
}

func TestExpectedChunkCount(t *testing.T) {
	assert.EqualValues(t, 0, expectedChunkCount(0, 4))
	assert.EqualValues(t, 1, expectedChunkCount(1, 4))
	assert.EqualValues(t, 1, expectedChunkCount(4, 4))
	assert.EqualValues(t, 2, expectedChunkCount(5, 4))
	assert.EqualValues(t, 7, expectedChunkCount(25, 4))
}
