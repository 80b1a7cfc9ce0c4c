package workflow

import (
	"crypto/md5"
	"encoding/hex"
)

// StepID derives a deterministic step identifier from its human-readable
// title (spec §4.3). Collisions are an accepted design limitation — step
// titles within one handler are expected to be distinct strings, and this is
// not a cryptographic identifier.
func StepID(title string) string {
	sum := md5.Sum([]byte(title))
	return hex.EncodeToString(sum[:])
}
