package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestSealOpen(t *testing.T) {
	s, err := NewSealer(testKey)
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("system-token"))
	require.NoError(t, err)
	assert.NotContains(t, sealed, "system-token")

	again, err := s.Seal([]byte("system-token"))
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ between seals")

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "system-token", string(plain))
}

func TestNewSealerRejectsBadKeys(t *testing.T) {
	for _, key := range []string{"", "zz", "0123", strings.Repeat("ab", 16)} {
		_, err := NewSealer(key)
		assert.Error(t, err, key)
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	s, err := NewSealer(testKey)
	require.NoError(t, err)
	other, err := NewSealer(strings.Repeat("ff", KeySize))
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("secret"))
	require.NoError(t, err)

	_, err = other.Open(sealed)
	assert.Error(t, err)
	_, err = s.Open("not base64!")
	assert.Error(t, err)
	_, err = s.Open("AAAA")
	assert.Error(t, err)
}
