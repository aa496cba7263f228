package core

// SecretProvider 抽象密钥加解密
// 用于读取密钥文件时自动解密 "enc:" 前缀的条目
type SecretProvider interface {
	Decrypt(ciphertext string) (string, error)
	Encrypt(plaintext string) (string, error)
}
