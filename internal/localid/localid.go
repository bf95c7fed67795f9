// Package localid issues client-side identifiers for entities created while
// offline. IDs embed the creation timestamp so they sort roughly by creation
// order and need no server coordination.
package localid

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const prefix = "local-"

// New returns an identifier of the form local-<unixMillis>-<base36 suffix>.
func New() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing means the OS entropy source is broken;
		// fall back to the clock so IDs stay non-empty.
		binary.BigEndian.PutUint64(buf[:], uint64(time.Now().UnixNano()))
	}
	suffix := strconv.FormatUint(binary.BigEndian.Uint64(buf[:])&0x7fffffffffff, 36)
	return fmt.Sprintf("%s%d-%s", prefix, time.Now().UnixMilli(), suffix)
}

// IsLocal reports whether id was issued by this generator rather than the
// server.
func IsLocal(id string) bool {
	return strings.HasPrefix(id, prefix)
}

// Normalize trims id and substitutes a fresh local ID when the result is
// empty. The returned string is never empty or whitespace-only.
func Normalize(id string) string {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return New()
	}
	return trimmed
}
