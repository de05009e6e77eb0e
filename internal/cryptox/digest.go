// Package cryptox computes payload digests used to detect corruption on the
// wire and to compare record values cheaply.
package cryptox

import (
	"crypto/subtle"

	"golang.org/x/crypto/blake2b"
)

// Digest returns the blake2b-256 digest of a record value: the payload plus
// its tombstone flag.
func Digest(payload []byte, deleted bool) []byte {
	h, _ := blake2b.New256(nil) // only fails for keys longer than 64 bytes
	h.Write(payload)
	if deleted {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	return h.Sum(nil)
}

// Verify reports whether digest matches the value.
func Verify(payload []byte, deleted bool, digest []byte) bool {
	return subtle.ConstantTimeCompare(Digest(payload, deleted), digest) == 1
}
