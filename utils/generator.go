package utils

import (
	"context"
	"crypto/rand"

	"github.com/pkg/errors"
)

const (
	authCodeLength      = 10
	authCodeAlphabet    = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	maxAuthCodeAttempts = 5
	// largest multiple of len(authCodeAlphabet) that fits in a byte
	authCodeByteLimit = 252
)

var ErrAuthCodeExhausted = errors.New("no free authentication code after retries")

// CodeExistsFunc reports whether an authentication code is already taken.
type CodeExistsFunc func(ctx context.Context, code string) (bool, error)

// GenerateAuthCode draws a random base-36 code.
func GenerateAuthCode() (string, error) {
	code := make([]byte, 0, authCodeLength)
	buf := make([]byte, authCodeLength*2)
	for len(code) < authCodeLength {
		if _, err := rand.Read(buf); err != nil {
			return "", errors.Wrap(err, "read random bytes")
		}
		for _, b := range buf {
			if b >= authCodeByteLimit {
				continue
			}
			code = append(code, authCodeAlphabet[int(b)%len(authCodeAlphabet)])
			if len(code) == authCodeLength {
				break
			}
		}
	}
	return string(code), nil
}

// GenerateUniqueAuthCode redraws while exists reports a collision, up to
// maxAuthCodeAttempts times. It always returns a usable candidate when the
// random source works: on a lookup error or after exhausting the attempts the
// last candidate comes back together with the error.
func GenerateUniqueAuthCode(ctx context.Context, exists CodeExistsFunc) (string, error) {
	var code string
	for attempt := 0; attempt < maxAuthCodeAttempts; attempt++ {
		var err error
		code, err = GenerateAuthCode()
		if err != nil {
			return "", err
		}
		if exists == nil {
			return code, nil
		}

		taken, err := exists(ctx, code)
		if err != nil {
			return code, errors.Wrap(err, "check authentication code")
		}
		if !taken {
			return code, nil
		}
	}
	return code, ErrAuthCodeExhausted
}

// IsAuthCode reports whether s has the shape of a generated code.
func IsAuthCode(s string) bool {
	if len(s) != authCodeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9') && !(c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}
