package assetstore

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseChunkSize parses a decimal size with an optional case-insensitive
// unit suffix (B, K/KB, M/MB, G/GB) into a byte count, matching the
// grammar of the original asset_service.rs parse_chunk_size.
func ParseChunkSize(raw string) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("chunk_size must not be empty")
	}

	splitAt := len(trimmed)
	for i, r := range trimmed {
		if r < '0' || r > '9' {
			splitAt = i
			break
		}
	}
	if splitAt == 0 {
		return 0, fmt.Errorf("chunk_size missing numeric prefix")
	}

	number, err := strconv.ParseInt(trimmed[:splitAt], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chunk_size number: %w", err)
	}

	unit := strings.ToUpper(strings.TrimSpace(trimmed[splitAt:]))
	var multiplier int64
	switch unit {
	case "", "B":
		multiplier = 1
	case "K", "KB":
		multiplier = 1024
	case "M", "MB":
		multiplier = 1024 * 1024
	case "G", "GB":
		multiplier = 1024 * 1024 * 1024
	default:
		return 0, fmt.Errorf("unsupported chunk_size unit %q", unit)
	}

	bytes := number * multiplier
	if multiplier != 0 && bytes/multiplier != number {
		return 0, fmt.Errorf("chunk_size overflow")
	}
	if bytes <= 0 {
		return 0, fmt.Errorf("chunk_size must be positive")
	}
	return bytes, nil
}

// expectedChunkCount is ceil(size/chunkSize), 0 for a non-positive size.
func expectedChunkCount(size, chunkSize int64) int64 {
	if size <= 0 {
		return 0
	}
	return (size + chunkSize - 1) / chunkSize
}
