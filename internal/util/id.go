package util

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const (
	sessionCodeChars      = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	SessionCodeLength     = 6
	participantSuffixLen  = 7
	participantSuffixBase = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// GenerateSessionCode returns a random 6-character code over [A-Z0-9].
// Uniqueness is probabilistic; the coordinator relies on the store's unique
// constraint and retries on collision.
func GenerateSessionCode() string {
	return randString(sessionCodeChars, SessionCodeLength)
}

// NormalizeSessionCode upper-cases and trims a user-supplied code. All
// lookups are case-insensitive on input.
func NormalizeSessionCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidSessionCode reports whether a normalized code has the expected shape.
func ValidSessionCode(code string) bool {
	if len(code) != SessionCodeLength {
		return false
	}
	for _, c := range code {
		if !strings.ContainsRune(sessionCodeChars, c) {
			return false
		}
	}
	return true
}

// GenerateParticipantID returns a process-unique participant id combining a
// millisecond timestamp with a random base36 suffix, so clients can mint ids
// without coordination.
func GenerateParticipantID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), randString(participantSuffixBase, participantSuffixLen))
}

func randString(alphabet string, n int) string {
	chars := []byte(alphabet)
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		idx, _ := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		out[i] = chars[idx.Int64()]
	}
	return string(out)
}
