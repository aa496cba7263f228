package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// EncryptedPrefix 密钥文件中加密条目的前缀
const EncryptedPrefix = "enc:"

// AESSecretProvider 基于 AES-GCM 的密钥文件条目加解密
type AESSecretProvider struct {
	gcm cipher.AEAD
}

// NewAESSecretProvider 创建新的 AES Secret Provider
// keyStr 必须是 16, 24, 或 32 字节长的字符串（对应 AES-128, AES-192, AES-256）
func NewAESSecretProvider(keyStr string) (*AESSecretProvider, error) {
	key := []byte(keyStr)
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return nil, fmt.Errorf("invalid secret key length: %d. Must be 16, 24, or 32 bytes", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESSecretProvider{gcm: gcm}, nil
}

// Encrypt 返回 "enc:<base64(nonce|ciphertext)>"
func (p *AESSecretProvider) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, p.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := p.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt 解密带前缀的条目；不带前缀的条目视为明文原样返回
func (p *AESSecretProvider) Decrypt(value string) (string, error) {
	if !strings.HasPrefix(value, EncryptedPrefix) {
		return value, nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, EncryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("decode encrypted key: %w", err)
	}

	nonceSize := p.gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := p.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt key: %w", err)
	}

	return string(plaintext), nil
}
