package ids

import (
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBase62_RoundTrip(t *testing.T) {
	cases := []string{
		"0", "1", "61", "62", "12345678901234567890",
		"340282366920938463463374607431768211455", // 2^128-1
	}
	for _, c := range cases {
		n, ok := new(big.Int).SetString(c, 10)
		require.True(t, ok)

		enc, err := IntToBase62(n)
		require.NoError(t, err)

		dec, err := Base62ToInt(enc)
		require.NoError(t, err)
		assert.Zero(t, n.Cmp(dec), "n=%s enc=%s", c, enc)
	}
}

func TestBase62_RejectsNegativeAndBadDigits(t *testing.T) {
	_, err := IntToBase62(big.NewInt(-1))
	assert.Error(t, err)

	_, err = Base62ToInt("ab!cd")
	assert.Error(t, err)

	_, err = Base62ToInt("")
	assert.Error(t, err)
}

func TestEncodeUUID_RoundTrip(t *testing.T) {
	u := uuid.New()
	got, err := DecodeUUID(EncodeUUID(u))
	require.NoError(t, err)
	assert.Equal(t, u, got)
}

func TestTokenSigner_NamespaceScoping(t *testing.T) {
	s := NewTokenSigner([]byte("test-secret"))

	tok, err := s.Sign("unsubscribe", "u42", time.Hour)
	require.NoError(t, err)

	id, err := s.Verify("unsubscribe", tok)
	require.NoError(t, err)
	assert.Equal(t, "u42", id)

	_, err = s.Verify("invite", tok)
	assert.Error(t, err, "token must not validate under another namespace")
}

func TestTokenSigner_Expired(t *testing.T) {
	s := NewTokenSigner([]byte("test-secret"))

	tok, err := s.Sign("reset", "u42", -time.Minute)
	require.NoError(t, err)

	_, err = s.Verify("reset", tok)
	assert.Error(t, err)
}

func TestIsCorrelationID(t *testing.T) {
	assert.True(t, IsCorrelationID("cid-17"))
	assert.False(t, IsCorrelationID(uuid.NewString()))
}
