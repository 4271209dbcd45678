// Package sha256 digests fetched page bodies for change detection.
package sha256

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements crawler.Hasher. Line endings and trailing whitespace are
// normalized first so the same page served by different hosts hashes equally.
type Hasher struct{}

// New returns a Hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex SHA-256 of the normalized body.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(normalize(data))
	return hex.EncodeToString(sum[:]), nil
}

func normalize(data []byte) []byte {
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	lines := bytes.Split(data, []byte("\n"))
	for i, line := range lines {
		lines[i] = bytes.TrimRight(line, " \t\r")
	}
	return bytes.TrimRight(bytes.Join(lines, []byte("\n")), "\n")
}
