package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAESSecretProvider_RoundTrip(t *testing.T) {
	p, err := NewAESSecretProvider("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	enc, err := p.Encrypt("sk-talkai-upstream")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(enc, EncryptedPrefix))
	assert.NotContains(t, enc, "sk-talkai-upstream")

	plain, err := p.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "sk-talkai-upstream", plain)
}

func TestAESSecretProvider_PlainPassthrough(t *testing.T) {
	p, err := NewAESSecretProvider("0123456789abcdef")
	require.NoError(t, err)

	plain, err := p.Decrypt("sk-plain")
	require.NoError(t, err)
	assert.Equal(t, "sk-plain", plain)
}

func TestAESSecretProvider_Errors(t *testing.T) {
	_, err := NewAESSecretProvider("short")
	assert.Error(t, err)

	p, err := NewAESSecretProvider("0123456789abcdef")
	require.NoError(t, err)

	_, err = p.Decrypt(EncryptedPrefix + "!!!not-base64")
	assert.Error(t, err)

	_, err = p.Decrypt(EncryptedPrefix + "AAAA")
	assert.ErrorContains(t, err, "too short")

	other, err := NewAESSecretProvider("fedcba9876543210")
	require.NoError(t, err)
	enc, err := other.Encrypt("secret")
	require.NoError(t, err)
	_, err = p.Decrypt(enc)
	assert.Error(t, err)
}
