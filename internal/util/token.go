package util

import "crypto/rand"

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ShareTokenLength is the length of public share tokens. 62^16 possible
// values; collisions are not checked, the database unique index is the
// backstop.
const ShareTokenLength = 16

// NewShareToken returns an alphanumeric bearer token for public answer links.
func NewShareToken() string {
	return randomString(ShareTokenLength)
}

func randomString(length int) string {
	buf := make([]byte, length)
	_, _ = rand.Read(buf)
	for i, b := range buf {
		buf[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(buf)
}
