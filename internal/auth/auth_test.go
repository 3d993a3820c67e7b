package auth

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echoes-blog/echoes/internal/crypto"
)

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := Claims{
		Name: "system",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("backend-secret"))
	require.NoError(t, err)
	return token
}

func TestParseClaims(t *testing.T) {
	exp := time.Now().Add(time.Minute).Truncate(time.Second)
	claims, err := ParseClaims(signed(t, exp))
	require.NoError(t, err)

	assert.Equal(t, "system", claims.Name)
	assert.True(t, claims.ExpiresAt.Time.Equal(exp))
}

func TestUsable(t *testing.T) {
	now := time.Now()

	assert.False(t, Usable("", now, 0))
	assert.True(t, Usable("opaque-token", now, 0))
	assert.True(t, Usable(signed(t, now.Add(time.Minute)), now, 5*time.Second))
	assert.False(t, Usable(signed(t, now.Add(3*time.Second)), now, 5*time.Second))
	assert.False(t, Usable(signed(t, now.Add(-time.Minute)), now, 0))
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()

	tok, err := s.Token()
	require.NoError(t, err)
	assert.Empty(t, tok)

	require.NoError(t, s.SetToken("abc"))
	tok, _ = s.Token()
	assert.Equal(t, "abc", tok)

	require.NoError(t, s.Clear())
	tok, _ = s.Token()
	assert.Empty(t, tok)
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "auth_token")
	s := NewFileStore(path)

	tok, err := s.Token()
	require.NoError(t, err)
	assert.Empty(t, tok, "missing file means no token")

	require.NoError(t, s.SetToken("persisted"))

	reopened := NewFileStore(path)
	tok, err = reopened.Token()
	require.NoError(t, err)
	assert.Equal(t, "persisted", tok)

	require.NoError(t, reopened.Clear())
	require.NoError(t, reopened.Clear(), "clearing twice is fine")
	tok, _ = s.Token()
	assert.Empty(t, tok)
}

func TestNewStore(t *testing.T) {
	s, err := NewStore("", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = NewStore("/tmp/token", "")
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	_, err = NewStore("/tmp/token", "not-hex")
	assert.Error(t, err)
}

func TestSealedFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth_token")
	key := strings.Repeat("0f", crypto.KeySize)

	s, err := NewStore(path, key)
	require.NoError(t, err)
	require.NoError(t, s.SetToken("system-token"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "system-token")

	reopened, err := NewStore(path, key)
	require.NoError(t, err)
	tok, err := reopened.Token()
	require.NoError(t, err)
	assert.Equal(t, "system-token", tok)

	wrongKey, err := NewStore(path, strings.Repeat("f0", crypto.KeySize))
	require.NoError(t, err)
	_, err = wrongKey.Token()
	assert.Error(t, err)
}
