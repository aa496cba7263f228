package core

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talkai-gateway/core/security"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func writeKeyFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client_api_keys.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestResolveServiceSecret_PrefersPassword(t *testing.T) {
	r := &CredentialResolver{
		Password:       " alpha , beta ,",
		ServiceKeyFile: writeKeyFile(t, `["from-file"]`),
		Logger:         quietLogger(),
	}

	secret, err := r.ResolveServiceSecret()
	require.NoError(t, err)
	assert.Equal(t, 2, secret.Len())
	assert.True(t, secret.Verify("alpha"))
	assert.True(t, secret.Verify("beta"))
	assert.False(t, secret.Verify("from-file"))
}

func TestResolveServiceSecret_FileFallback(t *testing.T) {
	r := &CredentialResolver{
		ServiceKeyFile: writeKeyFile(t, `["first","second"]`),
		Logger:         quietLogger(),
	}

	secret, err := r.ResolveServiceSecret()
	require.NoError(t, err)
	assert.True(t, secret.Verify("first"))
	assert.False(t, secret.Verify("second"))
}

func TestResolveServiceSecret_NothingConfigured(t *testing.T) {
	r := &CredentialResolver{
		ServiceKeyFile: filepath.Join(t.TempDir(), "missing.json"),
		Logger:         quietLogger(),
	}

	_, err := r.ResolveServiceSecret()
	var ce *ConfigError
	require.True(t, errors.As(err, &ce))

	r.ServiceKeyFile = writeKeyFile(t, `[]`)
	_, err = r.ResolveServiceSecret()
	assert.True(t, errors.As(err, &ce))
}

func TestResolveUpstreamKey(t *testing.T) {
	r := &CredentialResolver{
		UpstreamKeyFile: writeKeyFile(t, `["sk-one","sk-two"]`),
		Logger:          quietLogger(),
	}

	store, key, err := r.ResolveUpstreamKey()
	require.NoError(t, err)
	assert.Equal(t, "sk-one", key)
	assert.Equal(t, 2, store.Len())
}

func TestResolveUpstreamKey_Errors(t *testing.T) {
	for name, content := range map[string]string{
		"empty":   `[]`,
		"invalid": `{"key":"x"}`,
		"blank":   `["  "]`,
	} {
		t.Run(name, func(t *testing.T) {
			r := &CredentialResolver{UpstreamKeyFile: writeKeyFile(t, content), Logger: quietLogger()}
			_, _, err := r.ResolveUpstreamKey()
			var ce *ConfigError
			assert.True(t, errors.As(err, &ce))
		})
	}
}

func TestResolveUpstreamKey_Encrypted(t *testing.T) {
	sp, err := security.NewAESSecretProvider("0123456789abcdef")
	require.NoError(t, err)
	enc, err := sp.Encrypt("sk-secret")
	require.NoError(t, err)

	r := &CredentialResolver{
		UpstreamKeyFile: writeKeyFile(t, `["`+enc+`"]`),
		Secrets:         sp,
		Logger:          quietLogger(),
	}
	_, key, err := r.ResolveUpstreamKey()
	require.NoError(t, err)
	assert.Equal(t, "sk-secret", key)
}

func TestResolve(t *testing.T) {
	path := writeKeyFile(t, `["sk-upstream"]`)
	r := &CredentialResolver{Password: "svc", ServiceKeyFile: path, UpstreamKeyFile: path, Logger: quietLogger()}

	creds, err := r.Resolve()
	require.NoError(t, err)
	assert.True(t, creds.Service.Verify("svc"))
	assert.Equal(t, "sk-upstream", creds.UpstreamKey)
	assert.Equal(t, 1, creds.Upstream.Len())
}

func TestServiceSecret_Verify(t *testing.T) {
	s := NewServiceSecret("right")
	assert.True(t, s.Verify("right"))
	assert.False(t, s.Verify("wrong"))
	assert.False(t, s.Verify("righ"))
	assert.False(t, s.Verify(""))
	assert.False(t, NewServiceSecret().Verify("anything"))
}
