package core

import (
	"talkai-gateway/core/security"
)

// NoOpSecretProvider 默认的明文透传 SecretProvider
type NoOpSecretProvider struct{}

func NewNoOpSecretProvider() *NoOpSecretProvider {
	return &NoOpSecretProvider{}
}

func (s *NoOpSecretProvider) Decrypt(ciphertext string) (string, error) {
	return ciphertext, nil
}

func (s *NoOpSecretProvider) Encrypt(plaintext string) (string, error) {
	return plaintext, nil
}

// NewSecretProvider 配置了 secret_key 时使用 AES-GCM，否则明文透传
func NewSecretProvider(secretKey string) (SecretProvider, error) {
	if secretKey == "" {
		return NewNoOpSecretProvider(), nil
	}
	sp, err := security.NewAESSecretProvider(secretKey)
	if err != nil {
		return nil, err
	}
	return sp, nil
}
