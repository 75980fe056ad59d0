package room

import (
	"crypto/rand"
	"fmt"
)

// codeAlphabet deliberately omits 0/O/1/I/L so codes survive being read
// aloud or copied from a projector.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const codeLength = 6

// newCode returns a random shareable room code.
func newCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("room code entropy: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
