package uniuri

import "crypto/rand"

const (
	// StdLen is the default token length, roughly 95 bits of entropy.
	StdLen = 16
)

// StdChars is the character set tokens are drawn from.
var StdChars = []byte("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789")

// New returns a random token of the standard length.
func New() string {
	return NewLen(StdLen)
}

// NewLen returns a random token of the provided length. Bytes outside the
// unbiased range are rejected so every character is equally likely.
func NewLen(length int) string {
	if length == 0 {
		return ""
	}

	clen := len(StdChars)
	maxUnbiased := 255 - (256 % clen)

	out := make([]byte, length)
	buf := make([]byte, length*2)

	i := 0
	for {
		if _, err := rand.Read(buf); err != nil {
			panic("uniuri: error reading random bytes: " + err.Error())
		}
		for _, b := range buf {
			if int(b) > maxUnbiased {
				continue
			}
			out[i] = StdChars[int(b)%clen]
			i++
			if i == length {
				return string(out)
			}
		}
	}
}
