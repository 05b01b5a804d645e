package client

import (
	"crypto/rand"
)

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// idLength matches the backend's document id convention.
const idLength = 20

// GenerateID returns a new 20-character alphanumeric document id. Used for
// channels and messages created locally before the first write.
func GenerateID() string {
	out := make([]byte, 0, idLength)
	buf := make([]byte, 32)
	for len(out) < idLength {
		if _, err := rand.Read(buf); err != nil {
			// crypto/rand never fails on supported platforms
			panic(err)
		}
		for _, b := range buf {
			// mask to 6 bits, reject values past the alphabet to keep
			// the distribution uniform
			v := b & 0x3f
			if int(v) >= len(idAlphabet) {
				continue
			}
			out = append(out, idAlphabet[v])
			if len(out) == idLength {
				break
			}
		}
	}
	return string(out)
}
