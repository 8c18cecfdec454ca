// Package ids covers public identifier encoding: base-62 rendering of
// 128-bit ids for URLs, client correlation ids, and signed namespaced tokens
// for unsubscribe/reset/invite links.
package ids

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"

	"github.com/plastr/extrasolar/internal/shared"
)

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

var base62Index = func() map[byte]int64 {
	m := make(map[byte]int64, len(base62Alphabet))
	for i := 0; i < len(base62Alphabet); i++ {
		m[base62Alphabet[i]] = int64(i)
	}
	return m
}()

// IntToBase62 encodes a non-negative integer, most significant digit first.
func IntToBase62(n *big.Int) (string, error) {
	if n == nil || n.Sign() < 0 {
		return "", fmt.Errorf("%w: base62 requires n >= 0", shared.ErrorImproperInvocation)
	}
	if n.Sign() == 0 {
		return "0", nil
	}
	var sb []byte
	base := big.NewInt(62)
	mod := new(big.Int)
	v := new(big.Int).Set(n)
	for v.Sign() > 0 {
		v.DivMod(v, base, mod)
		sb = append(sb, base62Alphabet[mod.Int64()])
	}
	for i, j := 0, len(sb)-1; i < j; i, j = i+1, j-1 {
		sb[i], sb[j] = sb[j], sb[i]
	}
	return string(sb), nil
}

// Base62ToInt decodes a base-62 string produced by IntToBase62.
func Base62ToInt(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty base62 string", shared.ErrorBadRequest)
	}
	n := big.NewInt(0)
	base := big.NewInt(62)
	for i := 0; i < len(s); i++ {
		d, ok := base62Index[s[i]]
		if !ok {
			return nil, fmt.Errorf("%w: bad base62 digit %q", shared.ErrorBadRequest, s[i])
		}
		n.Mul(n, base).Add(n, big.NewInt(d))
	}
	return n, nil
}

// EncodeUUID renders a 128-bit uuid as base-62 for public URLs.
func EncodeUUID(u uuid.UUID) string {
	n := new(big.Int).SetBytes(u[:])
	s, _ := IntToBase62(n)
	return s
}

// DecodeUUID reverses EncodeUUID.
func DecodeUUID(s string) (uuid.UUID, error) {
	n, err := Base62ToInt(s)
	if err != nil {
		return uuid.Nil, err
	}
	b := n.Bytes()
	if len(b) > 16 {
		return uuid.Nil, fmt.Errorf("%w: base62 value exceeds 128 bits", shared.ErrorBadRequest)
	}
	var u uuid.UUID
	copy(u[16-len(b):], b)
	return u, nil
}

// IsCorrelationID reports whether a client-supplied id is a correlation id
// (cid) awaiting replacement by a server id.
func IsCorrelationID(id string) bool {
	return strings.HasPrefix(id, "cid-")
}
