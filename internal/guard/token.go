package guard

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	mrand "math/rand"
)

const tokenBytes = 32

var ErrNoStrongRandom = errors.New("strong random source unavailable")

// TokenSource produces session tokens. The strong source is crypto/rand.
// The weak source is math/rand and is only used when explicitly allowed;
// tokens from it are predictable and every use is reported to the caller.
type TokenSource struct {
	strong    io.Reader
	weak      func(b []byte)
	allowWeak bool
}

func NewTokenSource(allowWeak bool) *TokenSource {
	return &TokenSource{
		strong:    rand.Reader,
		weak:      weakFill,
		allowWeak: allowWeak,
	}
}

// Generate returns a hex token. weak reports that the fallback source was used.
func (s *TokenSource) Generate() (token string, weak bool, err error) {
	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(s.strong, buf); err == nil {
		return hex.EncodeToString(buf), false, nil
	} else if !s.allowWeak {
		return "", false, fmt.Errorf("%w: %v", ErrNoStrongRandom, err)
	}
	s.weak(buf)
	return hex.EncodeToString(buf), true, nil
}

// Probe checks that the strong source can be read.
func (s *TokenSource) Probe() error {
	var b [1]byte
	if _, err := io.ReadFull(s.strong, b[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrNoStrongRandom, err)
	}
	return nil
}

// AllowsWeak reports whether the math/rand fallback is enabled.
func (s *TokenSource) AllowsWeak() bool {
	return s.allowWeak
}

func weakFill(b []byte) {
	for i := range b {
		b[i] = byte(mrand.Intn(256))
	}
}
