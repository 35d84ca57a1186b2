package mfa

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strings"
)

// CodeAlphabet is the backup-code character set. 0, O, 1 and I are absent
// so codes survive being read over the phone or retyped from paper.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	// CodeCount is how many backup codes one enrollment issues.
	CodeCount  = 10
	codeLength = 10
)

// GenerateCodes mints count fresh backup codes for one identity. It
// returns the display forms (dash-split, shown to the user exactly once)
// and the salted hashes to persist. Only the hashes survive.
func GenerateCodes(identityID string, count int) (display, hashes []string, err error) {
	display = make([]string, 0, count)
	hashes = make([]string, 0, count)
	for i := 0; i < count; i++ {
		raw, err := newCode(codeLength)
		if err != nil {
			return nil, nil, err
		}
		display = append(display, formatCode(raw))
		hashes = append(hashes, HashCode(identityID, raw))
	}
	return display, hashes, nil
}

// Canonicalize strips formatting from user input: case, spaces and dashes
// never matter when a code is redeemed.
func Canonicalize(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	return strings.ReplaceAll(s, " ", "")
}

// HashCode derives the at-rest form of a backup code. The identity id
// salts the digest so equal codes for different identities never share a
// hash.
func HashCode(identityID, code string) string {
	canonical := Canonicalize(code)
	data := make([]byte, 0, len(identityID)+1+len(canonical))
	data = append(data, identityID...)
	data = append(data, 0)
	data = append(data, canonical...)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func newCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(CodeAlphabet))))
		if err != nil {
			return "", err
		}
		b.WriteByte(CodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func formatCode(code string) string {
	if len(code) < 8 {
		return code
	}
	mid := len(code) / 2
	return code[:mid] + "-" + code[mid:]
}
