package accounts

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const (
	DefaultCodeLength  = 6
	DefaultCodeCharset = "0123456789"
	DefaultCodeTTL     = 10 * time.Minute

	maxIssueAttempts = 5
)

type UniquenessScope int

const (
	// ScopeNone relies on the code space for uniqueness.
	ScopeNone UniquenessScope = iota
	// ScopeActive rejects values that collide with an active code of the same purpose.
	ScopeActive
)

type CodePolicy struct {
	Length  int
	Charset string
	TTL     time.Duration
	Scope   UniquenessScope
}

func DefaultLinkPolicy() CodePolicy {
	return CodePolicy{
		Length:  DefaultCodeLength,
		Charset: DefaultCodeCharset,
		TTL:     DefaultCodeTTL,
		Scope:   ScopeActive,
	}
}

func DefaultResetPolicy() CodePolicy {
	return CodePolicy{
		Length:  DefaultCodeLength,
		Charset: DefaultCodeCharset,
		TTL:     DefaultCodeTTL,
		Scope:   ScopeNone,
	}
}

func (p CodePolicy) normalized() CodePolicy {
	if p.Length <= 0 {
		p.Length = DefaultCodeLength
	}
	if p.Charset == "" {
		p.Charset = DefaultCodeCharset
	}
	if p.TTL <= 0 {
		p.TTL = DefaultCodeTTL
	}
	return p
}

// Generate returns a random code. With the decimal charset the first digit is
// never zero, so six-digit codes fall in 100000-999999.
func (p CodePolicy) Generate() (string, error) {
	p = p.normalized()
	charset := []rune(p.Charset)

	out := make([]rune, p.Length)
	for i := range out {
		pool := charset
		if i == 0 && p.Charset == DefaultCodeCharset && p.Length > 1 {
			pool = charset[1:]
		}
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(pool))))
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		out[i] = pool[n.Int64()]
	}

	return string(out), nil
}
