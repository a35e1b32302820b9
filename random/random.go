package random

import (
	crand "crypto/rand"
	"math/big"
)

const (
	charset = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// upper omits 0/O and 1/I so references survive being read aloud.
	upper = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"
)

func StringSecure(length int) (string, error) {
	return fromCharset(charset, length)
}

// Reference returns prefix followed by a dash and length unambiguous upper
// case characters, e.g. "ORD-7KQ2M9XH4P".
func Reference(prefix string, length int) (string, error) {
	s, err := fromCharset(upper, length)
	if err != nil {
		return "", err
	}
	return prefix + "-" + s, nil
}

func fromCharset(set string, length int) (string, error) {
	b := make([]byte, length)
	l := big.NewInt(int64(len(set)))
	for i := range b {
		num, err := crand.Int(crand.Reader, l)
		if err != nil {
			return "", err
		}
		b[i] = set[num.Int64()]
	}
	return string(b), nil
}
