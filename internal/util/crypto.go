package util

import (
	"crypto/rand"
	"crypto/subtle"
	"math/big"
)

// Charset avoids easily-confused glyphs (0/O, 1/I) for codes read aloud at
// the table.
const inviteCodeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const InviteCodeLength = 6

func GenerateInviteCode() (string, error) {
	code := make([]byte, InviteCodeLength)
	max := big.NewInt(int64(len(inviteCodeChars)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = inviteCodeChars[n.Int64()]
	}
	return string(code), nil
}

func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func MaskCode(code string) string {
	if len(code) <= 4 {
		return "****"
	}
	return code[:4] + "-****"
}
