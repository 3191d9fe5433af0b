// Package crypto implements the cryptographic building blocks a wormhole
// session needs before any file data moves: join codes, content checksums,
// and the password-authenticated key exchange that turns a join code into a
// shared transport key.
package crypto

import (
	"crypto/rand"
	"strings"
)

// JoinCodeLength is the number of significant characters in a join code,
// not counting the separating dash.
const JoinCodeLength = 6

// joinCodeAlphabet excludes characters that are easily confused when read
// aloud or typed: 0/O, 1/I/L.
const joinCodeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// GenerateJoinCode returns a random code formatted "XXX-XXX".
func GenerateJoinCode() (string, error) {
	var raw [JoinCodeLength]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	var b strings.Builder
	b.Grow(JoinCodeLength)
	for _, v := range raw {
		b.WriteByte(joinCodeAlphabet[int(v)%len(joinCodeAlphabet)])
	}
	code := b.String()
	return code[:3] + "-" + code[3:], nil
}

// NormalizeJoinCode strips whitespace and dashes and uppercases the result.
func NormalizeJoinCode(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range code {
		if r == '-' || r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}

// ValidateJoinCode reports whether code, once normalized, is a well-formed
// join code: the right length and drawn entirely from joinCodeAlphabet.
func ValidateJoinCode(code string) bool {
	n := NormalizeJoinCode(code)
	if len(n) != JoinCodeLength {
		return false
	}
	for i := 0; i < len(n); i++ {
		if strings.IndexByte(joinCodeAlphabet, n[i]) < 0 {
			return false
		}
	}
	return true
}
