package redis

import (
	"fmt"
	"strings"
)

type keys struct {
	// Ensure prefix ends with `:`
	prefix string
}

func newKeys(prefix string) *keys {
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}

	return &keys{prefix: prefix}
}

// entryKey returns the key holding the serialized correlation entry for the given execution
func (k *keys) entryKey(executionID string) string {
	return fmt.Sprintf("%ventry:%v", k.prefix, executionID)
}

// entriesByID returns the key for the ZSET that contains all awaiting execution ids with score 0, so they can be
// listed in lexicographical order. Used for diagnostics.
func (k *keys) entriesByID() string {
	return k.prefix + "entries-by-id"
}

// entriesExpiring returns the key for the ZSET of awaiting executions that have an expiration. The score is the
// expiration time in unix milliseconds.
func (k *keys) entriesExpiring() string {
	return k.prefix + "entries-expiring"
}

func (k *keys) lockKey(executionID string) string {
	return fmt.Sprintf("%vlock:%v", k.prefix, executionID)
}
