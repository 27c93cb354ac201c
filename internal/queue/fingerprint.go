package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// FingerprintFor derives the dedup key for a track request. Two requests for
// the same track, output format, and quality tier always produce the same
// fingerprint; the key is stable across restarts because it is content
// derived, not assigned.
func FingerprintFor(req TrackRequest) string {
	normalized := strings.Join([]string{
		strings.TrimSpace(req.TrackID),
		strings.ToLower(strings.TrimSpace(req.Format)),
		strings.ToLower(strings.TrimSpace(req.Quality)),
	}, "|")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
