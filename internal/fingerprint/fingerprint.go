// Package fingerprint derives the content address used for result caching.
package fingerprint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/Harsh-BH/codesandbox/internal/domain"
)

// Compute returns the hex SHA-256 over (language, code, input). Each field is
// length-prefixed so that field boundaries are part of the digest.
func Compute(language domain.Language, code, input string) string {
	h := sha256.New()
	var lenBuf [8]byte
	for _, field := range []string{string(language), code, input} {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(field)))
		h.Write(lenBuf[:])
		h.Write([]byte(field))
	}
	return hex.EncodeToString(h.Sum(nil))
}
