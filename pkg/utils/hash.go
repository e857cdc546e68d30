package utils

import (
	"crypto/md5"
	"fmt"
	"strings"
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// QueryCacheKey derives the response-cache key from the normalized query and
// the conversation id. Identical queries in the same conversation map to the
// same key regardless of casing and surrounding whitespace.
func QueryCacheKey(query, conversationID string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	return HashString(normalized + "|" + conversationID)
}
