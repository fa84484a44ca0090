package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealerRoundTrip(t *testing.T) {
	sealer, err := NewSealer([]byte("shpss_secret"), "access-token")
	require.NoError(t, err)

	sealed, err := sealer.Seal("shpat_abc123")
	require.NoError(t, err)
	require.NotContains(t, sealed, "shpat_abc123")

	again, err := sealer.Seal("shpat_abc123")
	require.NoError(t, err)
	require.NotEqual(t, sealed, again, "nonce must differ per seal")

	plain, err := sealer.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, "shpat_abc123", plain)
}

func TestSealerRejectsForeignValues(t *testing.T) {
	sealer, err := NewSealer([]byte("one"), "access-token")
	require.NoError(t, err)
	other, err := NewSealer([]byte("two"), "access-token")
	require.NoError(t, err)

	_, err = sealer.Open("shpat_plaintext")
	require.ErrorIs(t, err, ErrNotSealed)

	sealed, err := other.Seal("token")
	require.NoError(t, err)
	_, err = sealer.Open(sealed)
	require.Error(t, err)
}

func TestDeriveKey(t *testing.T) {
	a, err := DeriveKey([]byte("secret"), "a", 32)
	require.NoError(t, err)
	b, err := DeriveKey([]byte("secret"), "b", 32)
	require.NoError(t, err)
	require.Len(t, a, 32)
	require.NotEqual(t, a, b)

	_, err = DeriveKey(nil, "a", 32)
	require.Error(t, err)
	_, err = DeriveKey([]byte("secret"), "a", 20)
	require.Error(t, err)
}

func TestGenerateToken(t *testing.T) {
	tok, err := GenerateToken(16)
	require.NoError(t, err)
	require.Len(t, tok, 22)
}
